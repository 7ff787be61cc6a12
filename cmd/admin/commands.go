package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"catalogsync/internal/app"
	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/domain/enrichment"
	"catalogsync/internal/domain/eventlog"
	"catalogsync/internal/infrastructure/providerfile"
)

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var all bool
	var pageSize int

	cmd := &cobra.Command{
		Use:   "reconcile [provider-id...]",
		Short: "Sync provider catalogs into the canonical store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("give provider ids or --all")
			}
			return opts.withDeps(cmd.Context(), func(d *app.Dependencies) error {
				ids := args
				if all {
					providers, err := d.Stores.Providers.List(cmd.Context())
					if err != nil {
						return err
					}
					ids = make([]string, 0, len(providers))
					for _, p := range providers {
						ids = append(ids, p.ID)
					}
				}
				size := pageSize
				if size <= 0 {
					size = d.Config.Sync.PageSize
				}

				summaries := d.Reconciler.SyncMultipleProviders(cmd.Context(), ids, size)
				if err := opts.print(cmd.OutOrStdout(), summaries, func(w io.Writer) {
					for _, s := range summaries {
						fmt.Fprintf(w, "%s\t%s\t%s\n", s.ProviderID, s.Status, s.Message)
					}
				}); err != nil {
					return err
				}

				failed := 0
				for _, s := range summaries {
					if s.Failed() {
						failed++
					}
				}
				if missing := len(ids) - len(summaries); failed > 0 || missing > 0 {
					return fmt.Errorf("%d providers failed, %d not found", failed, missing)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "sync every stored provider")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size (default from SYNC_PAGE_SIZE)")
	return cmd
}

func newEnrichCommand(opts *rootOptions) *cobra.Command {
	var modeName string
	var retry bool

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fetch detail for items that do not have it yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := enrichment.ParseMode(modeName)
			if err != nil {
				return err
			}
			return opts.withDeps(cmd.Context(), func(d *app.Dependencies) error {
				results := make([]*enrichment.Result, 0, 2)
				result, err := d.Enricher.EnrichPending(cmd.Context(), mode)
				if err != nil {
					return err
				}
				results = append(results, result)

				if retry && enrichment.ShouldRetrySequential(result) {
					result, err = d.Enricher.EnrichPending(cmd.Context(), enrichment.ModeSequential)
					if err != nil {
						return err
					}
					results = append(results, result)
				}

				return opts.print(cmd.OutOrStdout(), results, func(w io.Writer) {
					for _, r := range results {
						fmt.Fprintf(w, "%s\tpending=%d\tenriched=%d\terrors=%d\trateLimited=%d\n",
							r.Mode, r.Pending, len(r.Successes), len(r.Errors), r.RateLimited)
						for _, e := range r.Errors {
							fmt.Fprintf(w, "  %s/%s: %s\n", e.ProviderID, e.ItemID, e.Error)
						}
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&modeName, "mode", string(enrichment.ModeParallel), "parallel|sequential")
	cmd.Flags().BoolVar(&retry, "retry", false, "follow a parallel pass with failures by a sequential one")
	return cmd
}

func newAggregateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate [name...]",
		Short: "Fold items into rollups (all rollups when no name is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd.Context(), func(d *app.Dependencies) error {
				names := args
				if len(names) == 0 {
					names = d.Engine.Names()
				}
				results := make([]*aggregation.RunResult, 0, len(names))
				for _, name := range names {
					res, err := d.Engine.Run(cmd.Context(), name)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				return opts.print(cmd.OutOrStdout(), results, func(w io.Writer) {
					for _, r := range results {
						fmt.Fprintf(w, "%s\tscanned=%d\tfolded=%d\tskipped=%d\tconflicts=%d\n",
							r.Aggregate, r.Scanned, r.Folded, r.Skipped, r.Conflicts)
					}
				})
			})
		},
	}
}

func newConsumeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume [consumer...]",
		Short: "Fold pending event log entries (configured consumers when none is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd.Context(), func(d *app.Dependencies) error {
				if d.Processor == nil {
					return fmt.Errorf("event log is disabled (EVENTLOG_ENABLED=false)")
				}
				consumers := args
				if len(consumers) == 0 {
					consumers = d.Config.EventLog.Consumers
				}
				results := make([]*eventlog.ConsumeResult, 0, len(consumers))
				for _, c := range consumers {
					res, err := d.Processor.Consume(cmd.Context(), c)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				return opts.print(cmd.OutOrStdout(), results, func(w io.Writer) {
					for _, r := range results {
						fmt.Fprintf(w, "%s\tevents=%d\tfolded=%d\t%v\n", r.Consumer, r.Events, r.Folded, r.Outcomes)
					}
				})
			})
		},
	}
}

func newProvidersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage provider records",
	}

	var file string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Write providers from a YAML file to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd.Context(), func(d *app.Dependencies) error {
				n, err := providerfile.Seed(cmd.Context(), d.Stores.Providers, file)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]int{"seeded": n}, func(w io.Writer) {
					fmt.Fprintf(w, "seeded %d providers from %s\n", n, file)
				})
			})
		},
	}
	seed.Flags().StringVarP(&file, "file", "f", "providers.yaml", "provider seed file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List providers with their last sync result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd.Context(), func(d *app.Dependencies) error {
				providers, err := d.Stores.Providers.List(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), providers, func(w io.Writer) {
					for _, p := range providers {
						fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, lastSync(p))
					}
				})
			})
		},
	}

	cmd.AddCommand(seed, list)
	return cmd
}

func newBucketsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Inspect rollup buckets",
	}

	list := &cobra.Command{
		Use:   "list <aggregate>",
		Short: "List the buckets of one rollup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd.Context(), func(d *app.Dependencies) error {
				if _, ok := d.Engine.Definition(args[0]); !ok {
					return fmt.Errorf("%w: %s", aggregation.ErrUnknownAggregate, args[0])
				}
				buckets, err := d.Stores.Buckets.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), buckets, func(w io.Writer) {
					for _, b := range buckets {
						fmt.Fprintf(w, "%s\t%d\t%s\n", b.Key, b.Count, strings.Join(b.Values, ","))
					}
				})
			})
		},
	}

	cmd.AddCommand(list)
	return cmd
}

func lastSync(p *catalog.Provider) string {
	if p.LastSync == nil {
		return "never synced"
	}
	return fmt.Sprintf("%s at %s: %s", p.LastSync.Status, p.LastSync.LastSyncedAt.Format("2006-01-02 15:04"), p.LastSync.Message)
}
