package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"catalogsync/internal/app"
	"catalogsync/internal/shared/config"
)

// rootOptions holds global flags and the dependency opener shared by all commands.
type rootOptions struct {
	Format string // "json" | "text"

	open func(ctx context.Context) (*app.Dependencies, error)
}

var validFormats = []string{"text", "json"}

func openFromEnv(ctx context.Context) (*app.Dependencies, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.NewDependencies(ctx, cfg)
}

// NewRootCommand creates the admin CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{open: openFromEnv})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "catalogsync admin - run sync, enrichment and rollup passes by hand",
		Long:          "Runs the same passes as the catalogd scheduler once, against the backend configured in the environment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newEnrichCommand(opts))
	cmd.AddCommand(newAggregateCommand(opts))
	cmd.AddCommand(newConsumeCommand(opts))
	cmd.AddCommand(newProvidersCommand(opts))
	cmd.AddCommand(newBucketsCommand(opts))

	return cmd
}

// withDeps opens dependencies for one command run.
func (o *rootOptions) withDeps(ctx context.Context, fn func(*app.Dependencies) error) error {
	deps, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()
	return fn(deps)
}

// print writes v as indented JSON, or through text in text mode.
func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
