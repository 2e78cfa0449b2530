// Package schedule fires recurring ingestion jobs from cron expressions.
// Entries are registered in process and evaluated on a tick loop; each due
// entry creates one SCHEDULED job through the provided callback. The
// scheduler never talks to the job store directly.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
)

// CreateFunc is the callback the scheduler uses to create jobs. It is how
// the lifecycle manager is wired in without importing it here.
type CreateFunc func(ctx context.Context, payload map[string]any) (*job.Job, error)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseExpr parses a cron expression.
func ParseExpr(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Entry is one registered recurring ingestion.
type Entry struct {
	ingest.Entity

	ID        id.EntryID     `json:"id"`
	Name      string         `json:"name"`
	Expr      string         `json:"expr"`
	Payload   map[string]any `json:"payload,omitempty"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt *time.Time     `json:"next_run_at,omitempty"`
	Enabled   bool           `json:"enabled"`

	sched cronlib.Schedule
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the structured logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler evaluates registered entries on a tick loop.
type Scheduler struct {
	create       CreateFunc
	logger       *slog.Logger
	tickInterval time.Duration

	mu      sync.RWMutex
	entries map[string]*Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler around the given job-creating callback.
func NewScheduler(create CreateFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		create:       create,
		logger:       slog.Default(),
		tickInterval: 1 * time.Second,
		entries:      make(map[string]*Entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an enabled entry under a unique name. The first run is the
// expression's next activation after now, never immediately.
func (s *Scheduler) Register(name, expr string, payload map[string]any) (*Entry, error) {
	sched, err := ParseExpr(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: parse %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return nil, fmt.Errorf("schedule: register %q: %w", name, ingest.ErrEntryAlreadyExists)
	}

	next := sched.Next(time.Now().UTC())
	e := &Entry{
		Entity:    ingest.NewEntity(),
		ID:        id.NewEntryID(),
		Name:      name,
		Expr:      expr,
		Payload:   payload,
		NextRunAt: &next,
		Enabled:   true,
		sched:     sched,
	}
	s.entries[name] = e

	cp := *e
	return &cp, nil
}

// Unregister removes an entry by name.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("schedule: unregister %q: %w", name, ingest.ErrEntryNotFound)
	}
	delete(s.entries, name)
	return nil
}

// Enable re-enables a disabled entry and recomputes its next run.
func (s *Scheduler) Enable(name string) error {
	return s.setEnabled(name, true)
}

// Disable stops an entry from firing without forgetting it.
func (s *Scheduler) Disable(name string) error {
	return s.setEnabled(name, false)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("schedule: %q: %w", name, ingest.ErrEntryNotFound)
	}
	e.Enabled = enabled
	if enabled {
		next := e.sched.Next(time.Now().UTC())
		e.NextRunAt = &next
	}
	e.Touch()
	return nil
}

// Entries returns a snapshot of all registered entries, sorted by name.
func (s *Scheduler) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("schedule started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("schedule stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every due entry once. Exported so tests and callers with
// their own loops can drive the scheduler directly.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Entry, 0, 1)
	for _, e := range s.entries {
		if !e.Enabled {
			continue
		}
		if e.NextRunAt == nil || e.NextRunAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(ctx, e, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *Entry, now time.Time) {
	j, err := s.create(ctx, e.Payload)
	if err != nil {
		s.logger.Error("scheduled job create failed",
			slog.String("entry", e.Name),
			slog.String("error", err.Error()),
		)
		// The entry still advances so one bad tick cannot fire forever.
	} else {
		s.logger.Info("scheduled job created",
			slog.String("entry", e.Name),
			slog.String("job_id", j.ID.String()),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last := now
	next := e.sched.Next(now)
	e.LastRunAt = &last
	e.NextRunAt = &next
	e.Touch()
}
