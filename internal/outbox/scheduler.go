// Package outbox implements the background reconciliation scheduler that
// drains the durable outbox when connectivity returns.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/steeveross-eng/huntiq-sync/internal/bus"
	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/telemetry"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

const (
	// pollingJitter is the maximum random offset applied to the polling
	// interval so repeated wake-ups do not align with upstream load spikes.
	pollingJitter = 15 * time.Second
)

// Outbox is the persistence surface the scheduler drains.
type Outbox interface {
	ListLocations(ctx context.Context) ([]store.PendingLocation, error)
	RemoveLocation(ctx context.Context, id int64) error
	MarkLocationFailure(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error
	DeadLetterLocation(ctx context.Context, id int64, lastError string) error

	ListActions(ctx context.Context) ([]store.PendingAction, error)
	RemoveAction(ctx context.Context, id int64) error
	MarkActionFailure(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error
	DeadLetterAction(ctx context.Context, id int64, lastError string) error

	CountLocations(ctx context.Context) (int64, error)
	CountActions(ctx context.Context) (int64, error)
}

// Replayer issues the network calls for queued records.
type Replayer interface {
	PostLocation(ctx context.Context, sample store.LocationSample) ([]upstream.ProximityAlert, error)
	Replay(ctx context.Context, action store.PendingAction) ([]upstream.ProximityAlert, error)
}

// AlertSink receives proximity alerts surfaced during a drain.
type AlertSink interface {
	DeliverAlerts(ctx context.Context, alerts []upstream.ProximityAlert)
}

// Broadcaster fans events out to foreground contexts.
type Broadcaster interface {
	Broadcast(event bus.Event)
}

// Scheduler drains the outbox queues with per-record isolation. It wakes on
// a jittered periodic ticker or on an explicit deferred-sync trigger, and a
// record is attempted at most once per pass.
type Scheduler struct {
	outbox   Outbox
	replayer Replayer
	alerts   AlertSink
	events   Broadcaster

	interval    time.Duration
	maxAttempts int

	trigger chan struct{}
	metrics *telemetry.SyncMetrics

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithMetrics attaches reconciliation metrics.
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithMaxAttempts bounds retries per record before dead-lettering.
// A negative value disables the bound.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		s.maxAttempts = n
	}
}

// New creates a scheduler.
func New(outbox Outbox, replayer Replayer, alerts AlertSink, events Broadcaster, interval time.Duration, opts ...Option) (*Scheduler, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox is required")
	}
	if replayer == nil {
		return nil, fmt.Errorf("replayer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	s := &Scheduler{
		outbox:      outbox,
		replayer:    replayer,
		alerts:      alerts,
		events:      events,
		interval:    interval,
		maxAttempts: 25,
		trigger:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestSync registers a deferred-sync signal. It never blocks; a signal
// arriving while one is already pending coalesces with it.
func (s *Scheduler) RequestSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs the scheduler loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		close(s.done)
		slog.Info("Reconciliation scheduler shutting down")
	}()

	slog.Info("Starting reconciliation scheduler",
		"interval", s.interval,
		"max_attempts", s.maxAttempts)

	ticker := time.NewTicker(s.jitteredInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPass(runCtx)
			ticker.Reset(s.jitteredInterval())
		case <-s.trigger:
			s.runPass(runCtx)
		case <-runCtx.Done():
			return nil
		}
	}
}

// Stop cancels the loop and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-s.done
	}
}

// jitteredInterval applies random jitter bounded by pollingJitter and by a
// quarter of the base interval.
func (s *Scheduler) jitteredInterval() time.Duration {
	jitter := pollingJitter
	if quarter := s.interval / 4; quarter < jitter {
		jitter = quarter
	}
	if jitter <= 0 {
		return s.interval
	}
	//nolint:gosec // G404: non-cryptographic randomness is fine for jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return s.interval + offset
}

// runPass drains both queues once. Each record gets at most one attempt;
// a failing record never blocks the rest of the queue.
func (s *Scheduler) runPass(ctx context.Context) {
	start := time.Now()
	slog.Debug("Starting reconciliation pass")

	locationStats := s.drainLocations(ctx, start)
	actionStats := s.drainActions(ctx, start)

	success := locationStats.errored == 0 && actionStats.errored == 0
	s.metrics.RecordPassDuration(ctx, time.Since(start), success)
	s.recordDepths(ctx)

	slog.Info("Reconciliation pass complete",
		"duration", time.Since(start),
		"locations_drained", locationStats.drained,
		"locations_failed", locationStats.failed,
		"actions_drained", actionStats.drained,
		"actions_failed", actionStats.failed)
}

type passStats struct {
	drained int64
	failed  int64
	errored int64
}

func (s *Scheduler) drainLocations(ctx context.Context, now time.Time) passStats {
	var stats passStats

	pending, err := s.outbox.ListLocations(ctx)
	if err != nil {
		slog.Error("Failed to list pending locations", "error", err)
		stats.errored++
		return stats
	}

	for _, record := range pending {
		if ctx.Err() != nil {
			return stats
		}
		if record.NextAttempt.After(now) {
			continue
		}

		alerts, err := s.replayer.PostLocation(ctx, record.Sample)
		if err != nil {
			stats.failed++
			s.handleFailure(ctx, store.QueueLocations, record.ID, record.Attempts, err)
			continue
		}

		// The record is deleted inside the same pass that observed the
		// success; until then it stays the source of truth.
		if err := s.outbox.RemoveLocation(ctx, record.ID); err != nil {
			slog.Error("Failed to remove acknowledged location", "id", record.ID, "error", err)
			stats.errored++
			continue
		}
		stats.drained++
		s.fanOutAlerts(ctx, alerts)
	}

	s.metrics.RecordDrained(ctx, string(store.QueueLocations), stats.drained)
	s.metrics.RecordFailed(ctx, string(store.QueueLocations), stats.failed)
	return stats
}

func (s *Scheduler) drainActions(ctx context.Context, now time.Time) passStats {
	var stats passStats

	pending, err := s.outbox.ListActions(ctx)
	if err != nil {
		slog.Error("Failed to list pending actions", "error", err)
		stats.errored++
		return stats
	}

	for _, record := range pending {
		if ctx.Err() != nil {
			return stats
		}
		if record.NextAttempt.After(now) {
			continue
		}

		alerts, err := s.replayer.Replay(ctx, record)
		if err != nil {
			stats.failed++
			s.handleFailure(ctx, store.QueueActions, record.ID, record.Attempts, err)
			continue
		}

		if err := s.outbox.RemoveAction(ctx, record.ID); err != nil {
			slog.Error("Failed to remove acknowledged action", "id", record.ID, "error", err)
			stats.errored++
			continue
		}
		stats.drained++
		s.fanOutAlerts(ctx, alerts)
	}

	s.metrics.RecordDrained(ctx, string(store.QueueActions), stats.drained)
	s.metrics.RecordFailed(ctx, string(store.QueueActions), stats.failed)
	return stats
}

// handleFailure books one failed attempt: the record either waits for its
// next attempt or, past the retry budget, moves to the dead-letter
// collection.
func (s *Scheduler) handleFailure(ctx context.Context, queue store.Queue, id int64, priorAttempts int, cause error) {
	attempts := priorAttempts + 1

	if s.maxAttempts > 0 && attempts >= s.maxAttempts {
		slog.Warn("Dead-lettering record after exhausting retries",
			"queue", queue,
			"id", id,
			"attempts", attempts,
			"error", cause)
		var err error
		switch queue {
		case store.QueueLocations:
			err = s.outbox.DeadLetterLocation(ctx, id, cause.Error())
		case store.QueueActions:
			err = s.outbox.DeadLetterAction(ctx, id, cause.Error())
		}
		if err != nil {
			slog.Error("Failed to dead-letter record", "queue", queue, "id", id, "error", err)
		}
		return
	}

	next := time.Now().Add(retryDelay(attempts))
	slog.Debug("Record replay failed, scheduling retry",
		"queue", queue,
		"id", id,
		"attempts", attempts,
		"next_attempt", next,
		"error", cause)

	var err error
	switch queue {
	case store.QueueLocations:
		err = s.outbox.MarkLocationFailure(ctx, id, cause.Error(), next)
	case store.QueueActions:
		err = s.outbox.MarkActionFailure(ctx, id, cause.Error(), next)
	}
	if err != nil {
		slog.Error("Failed to record attempt", "queue", queue, "id", id, "error", err)
	}
}

func (s *Scheduler) fanOutAlerts(ctx context.Context, alerts []upstream.ProximityAlert) {
	if len(alerts) == 0 {
		return
	}
	if s.alerts != nil {
		s.alerts.DeliverAlerts(ctx, alerts)
	}
	if s.events != nil {
		s.events.Broadcast(bus.ProximityAlerts{Alerts: alerts})
	}
}

func (s *Scheduler) recordDepths(ctx context.Context) {
	if depth, err := s.outbox.CountLocations(ctx); err == nil {
		s.metrics.RecordOutboxDepth(ctx, string(store.QueueLocations), depth)
	}
	if depth, err := s.outbox.CountActions(ctx); err == nil {
		s.metrics.RecordOutboxDepth(ctx, string(store.QueueActions), depth)
	}
}
