package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgerline/patternd/pkg/schema"
)

// PatternRunner is the interface the scheduler drives. Satisfied by the
// orchestrator interpreter (narrow on purpose, avoids an import cycle).
type PatternRunner interface {
	RunPattern(ctx context.Context, patternID string, inputs map[string]any, req *schema.RequestContext) error
}

// Entry is one recurring pattern invocation, declared in configuration.
type Entry struct {
	PatternID string         `mapstructure:"pattern" json:"pattern"`
	Schedule  string         `mapstructure:"schedule" json:"schedule"`
	Inputs    map[string]any `mapstructure:"inputs" json:"inputs"`

	// Reproducibility fields for the generated request context. Each firing
	// gets a fresh trace id; snapshot and ledger reference are fixed per entry.
	PricingSnapshotID string `mapstructure:"pricingSnapshotId" json:"pricingSnapshotId"`
	LedgerReference   string `mapstructure:"ledgerReference" json:"ledgerReference"`
}

// Scheduler fires configured pattern invocations on standard 5-field cron
// schedules. Entries are fixed at construction; there is no runtime mutation.
type Scheduler struct {
	runner PatternRunner
	logger *slog.Logger
	parser cron.Parser

	entries []*scheduledEntry
	tick    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

type scheduledEntry struct {
	entry    Entry
	schedule cron.Schedule
	nextRun  time.Time
}

// New creates a Scheduler over config-declared entries. Entries with invalid
// cron expressions are rejected up front.
func New(runner PatternRunner, entries []Entry, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	s := &Scheduler{
		runner:   runner,
		logger:   logger,
		parser:   parser,
		tick:     time.Minute,
		inflight: make(map[string]struct{}),
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if e.PatternID == "" {
			return nil, fmt.Errorf("schedule entry has no pattern id")
		}
		sched, err := parser.Parse(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q for pattern %q: %w", e.Schedule, e.PatternID, err)
		}
		s.entries = append(s.entries, &scheduledEntry{
			entry:    e,
			schedule: sched,
			nextRun:  sched.Next(now),
		})
	}
	return s, nil
}

// Start launches the background loop. Idempotent start is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
	s.logger.Info("scheduler started", slog.Int("entries", len(s.entries)))
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx, time.Now().UTC())
		}
	}
}

// fireDue runs every entry whose next-run time has passed, then advances it.
// Entries still running from a previous firing are skipped, not queued.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	for _, se := range s.entries {
		if se.nextRun.After(now) {
			continue
		}
		se.nextRun = se.schedule.Next(now)

		if !s.tryAcquire(se.entry.PatternID) {
			s.logger.Warn("scheduled pattern still running, skipping firing",
				slog.String("pattern_id", se.entry.PatternID))
			continue
		}

		entry := se.entry
		go func() {
			defer s.release(entry.PatternID)
			s.runEntry(ctx, entry)
		}()
	}
}

func (s *Scheduler) runEntry(ctx context.Context, entry Entry) {
	req := schema.NewRequestContext(entry.PricingSnapshotID, entry.LedgerReference)
	s.logger.Info("running scheduled pattern",
		slog.String("pattern_id", entry.PatternID),
		slog.String("trace_id", req.TraceID))

	if err := s.runner.RunPattern(ctx, entry.PatternID, entry.Inputs, req); err != nil {
		s.logger.Error("scheduled pattern failed",
			slog.String("pattern_id", entry.PatternID),
			slog.String("error", err.Error()))
	}
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, running := s.inflight[id]; running {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
