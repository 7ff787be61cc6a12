package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownTrigger is returned by Trigger for a name that was never registered.
var ErrUnknownTrigger = errors.New("unknown trigger")

// JobSource builds the jobs of one trigger at the moment it fires.
type JobSource func(ctx context.Context) ([]Job, error)

type trigger struct {
	name   string
	spec   string
	source JobSource
	entry  cron.EntryID
}

// TriggerInfo describes a registered trigger.
type TriggerInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec,omitempty"`
	Next time.Time `json:"next,omitempty"`
}

// Scheduler fires named triggers on cron schedules and feeds their jobs
// to the worker pool. Triggers without a schedule run only on demand.
type Scheduler struct {
	cron *cron.Cron
	pool *WorkerPool

	mu       sync.RWMutex
	triggers map[string]*trigger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler evaluating specs in loc.
func NewScheduler(pool *WorkerPool, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(cron.PrintfLogger(log.Default()))),
		pool:     pool,
		triggers: make(map[string]*trigger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a trigger. An empty spec registers it for manual runs only.
func (s *Scheduler) Register(name, spec string, source JobSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.triggers[name]; exists {
		return fmt.Errorf("trigger %q already registered", name)
	}
	t := &trigger{name: name, spec: spec, source: source}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() { s.fire(t) })
		if err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
		}
		t.entry = id
	}
	s.triggers[name] = t
	log.Printf("Scheduler: Registered %s (%s)", name, orManual(spec))
	return nil
}

// Start launches the worker pool and the cron loop. With runOnStartup every
// scheduled trigger fires once immediately.
func (s *Scheduler) Start(runOnStartup bool) {
	log.Println("Starting scheduler...")
	s.pool.Start()
	s.cron.Start()

	if runOnStartup {
		log.Println("Scheduler: Running scheduled triggers on startup")
		for _, info := range s.Triggers() {
			if info.Spec == "" {
				continue
			}
			if _, err := s.Trigger(info.Name); err != nil {
				log.Printf("Scheduler: Startup run of %s failed: %v", info.Name, err)
			}
		}
	}
	log.Println("Scheduler started")
}

// Trigger fires a trigger now. Its jobs are built and queued in the
// background.
func (s *Scheduler) Trigger(name string) (TriggerInfo, error) {
	s.mu.RLock()
	t, ok := s.triggers[name]
	s.mu.RUnlock()
	if !ok {
		return TriggerInfo{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}

	log.Printf("Scheduler: Manual trigger %s", name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fire(t)
	}()
	return s.info(t), nil
}

// Triggers lists registered triggers ordered by name.
func (s *Scheduler) Triggers() []TriggerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TriggerInfo, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, s.info(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) info(t *trigger) TriggerInfo {
	info := TriggerInfo{Name: t.name, Spec: t.spec}
	if t.entry != 0 {
		info.Next = s.cron.Entry(t.entry).Next
	}
	return info
}

// fire builds the trigger's jobs and submits them to the pool.
func (s *Scheduler) fire(t *trigger) {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	jobs, err := t.source(ctx)
	if err != nil {
		log.Printf("Scheduler: Failed to build jobs for %s: %v", t.name, err)
		return
	}
	if len(jobs) == 0 {
		log.Printf("Scheduler: %s has no jobs to run", t.name)
		return
	}
	log.Printf("Scheduler: %s submitting %d jobs", t.name, len(jobs))
	s.pool.SubmitBatch(jobs)
}

// Shutdown stops the cron loop, waits for firing triggers, then drains the pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler: Cron loop stopped gracefully")
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for cron loop to stop")
	}

	s.pool.ShutdownWithTimeout(timeout)
	log.Println("Scheduler: Shutdown complete")
}

// Jobs returns a JobSource that always yields the given jobs.
func Jobs(jobs ...Job) JobSource {
	return func(context.Context) ([]Job, error) { return jobs, nil }
}

func orManual(spec string) string {
	if spec == "" {
		return "manual"
	}
	return spec
}
