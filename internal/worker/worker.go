// Package worker implements the background worker: the lifecycle handshake
// for cache generations and the single actor loop that owns geolocation
// tracking state.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/steeveross-eng/huntiq-sync/internal/bus"
	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// TrackingState is the worker-owned geolocation configuration. It is
// mutated only inside Run's command loop; other contexts read it solely
// through the CheckTrackingStatus command.
type TrackingState struct {
	Enabled      bool
	Interval     time.Duration
	LastPosition *store.LocationSample
}

// ConfigStore persists tracking state so a restarted worker rebuilds it.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	AppendLocation(ctx context.Context, sample store.LocationSample) (int64, error)
}

// Poster submits location samples upstream.
type Poster interface {
	PostLocation(ctx context.Context, sample store.LocationSample) ([]upstream.ProximityAlert, error)
}

// Lifecycle is the cache generation handshake.
type Lifecycle interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	Generation() string
}

// SyncRequester registers a deferred-sync signal with the scheduler.
type SyncRequester interface {
	RequestSync()
}

// AlertSink receives proximity alerts from successful submissions.
type AlertSink interface {
	DeliverAlerts(ctx context.Context, alerts []upstream.ProximityAlert)
}

// Sampler produces location readings for self-driven sampling, e.g. an
// attached GNSS receiver. Without one, samples arrive only as
// RecordLocation commands from foreground contexts.
type Sampler interface {
	Sample(ctx context.Context) (store.LocationSample, error)
}

// Worker is the background worker.
type Worker struct {
	bus       *bus.Bus
	config    ConfigStore
	poster    Poster
	lifecycle Lifecycle
	scheduler SyncRequester
	alerts    AlertSink
	sampler   Sampler

	defaultInterval time.Duration

	// state is owned by Run; nothing outside the loop touches it.
	state TrackingState
}

// Option configures the worker.
type Option func(*Worker)

// WithSampler attaches a self-driven location source.
func WithSampler(s Sampler) Option {
	return func(w *Worker) {
		w.sampler = s
	}
}

// New creates a worker.
func New(
	messageBus *bus.Bus,
	config ConfigStore,
	poster Poster,
	lifecycle Lifecycle,
	scheduler SyncRequester,
	alerts AlertSink,
	defaultInterval time.Duration,
	opts ...Option,
) (*Worker, error) {
	if messageBus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if poster == nil {
		return nil, fmt.Errorf("poster is required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}
	if defaultInterval <= 0 {
		defaultInterval = 5 * time.Minute
	}

	w := &Worker{
		bus:             messageBus,
		config:          config,
		poster:          poster,
		lifecycle:       lifecycle,
		scheduler:       scheduler,
		alerts:          alerts,
		defaultInterval: defaultInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run performs the install/activate handshake, rebuilds tracking state from
// the store, and then processes commands until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.lifecycle.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := w.lifecycle.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	w.rebuildState(ctx)

	slog.Info("Background worker ready",
		"generation", w.lifecycle.Generation(),
		"tracking", w.state.Enabled)

	var tickerC <-chan time.Time
	ticker := time.NewTicker(w.defaultInterval)
	ticker.Stop()
	defer ticker.Stop()
	if w.sampler != nil && w.state.Enabled {
		ticker.Reset(w.state.Interval)
		tickerC = ticker.C
	}

	for {
		select {
		case cmd, ok := <-w.bus.Commands():
			if !ok {
				return nil
			}
			tickerC = w.dispatch(ctx, cmd, ticker, tickerC)
		case <-tickerC:
			w.sampleOnce(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch handles one command. The switch is exhaustive over the command
// union; the default arm only fires for commands added without a handler,
// which are logged and ignored rather than treated as fatal.
func (w *Worker) dispatch(ctx context.Context, cmd bus.Command, ticker *time.Ticker, tickerC <-chan time.Time) <-chan time.Time {
	switch c := cmd.(type) {
	case bus.StartTracking:
		interval := c.Interval
		if interval <= 0 {
			interval = w.defaultInterval
		}
		w.state.Enabled = true
		w.state.Interval = interval
		w.persistState(ctx)
		if w.sampler != nil {
			ticker.Reset(interval)
			tickerC = ticker.C
		}
		slog.Info("Tracking started", "interval", interval)
		w.bus.Broadcast(bus.TrackingStarted{Interval: interval})
		if w.sampler != nil {
			w.sampleOnce(ctx)
		}

	case bus.StopTracking:
		w.state.Enabled = false
		w.persistState(ctx)
		ticker.Stop()
		tickerC = nil
		slog.Info("Tracking stopped")
		w.bus.Broadcast(bus.TrackingStopped{})

	case bus.RecordLocation:
		w.recordSample(ctx, c.Sample)

	case bus.CheckTrackingStatus:
		reply := bus.StatusReply{
			Tracking:     w.state.Enabled,
			Interval:     w.state.Interval,
			LastPosition: w.state.LastPosition,
		}
		select {
		case c.Reply <- reply:
		default:
			slog.Warn("Status reply channel not ready, dropping reply")
		}

	case bus.AdoptLatestVersion:
		if err := w.lifecycle.Activate(ctx); err != nil {
			slog.Error("Failed to adopt latest generation", "error", err)
		} else {
			slog.Info("Adopted latest generation", "generation", w.lifecycle.Generation())
		}

	default:
		slog.Warn("Ignoring unrecognized command", "command", fmt.Sprintf("%T", cmd))
	}
	return tickerC
}

// sampleOnce reads one sample from the attached sampler and records it.
func (w *Worker) sampleOnce(ctx context.Context) {
	sample, err := w.sampler.Sample(ctx)
	if err != nil {
		slog.Error("Location sampler failed", "error", err)
		return
	}
	w.recordSample(ctx, sample)
}

// recordSample submits a sample upstream, falling back to the durable
// outbox on transient failure. A storage failure is surfaced in the log and
// the sample is lost only when both the network and the store reject it.
func (w *Worker) recordSample(ctx context.Context, sample store.LocationSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	w.state.LastPosition = &sample
	w.persistLastPosition(ctx, sample)

	alerts, err := w.poster.PostLocation(ctx, sample)
	if err == nil {
		if len(alerts) > 0 {
			if w.alerts != nil {
				w.alerts.DeliverAlerts(ctx, alerts)
			}
			w.bus.Broadcast(bus.ProximityAlerts{Alerts: alerts})
		}
		return
	}

	if !upstream.IsQueueable(err) {
		slog.Error("Location submission rejected", "error", err)
		return
	}

	id, appendErr := w.config.AppendLocation(ctx, sample)
	if appendErr != nil {
		slog.Error("Failed to queue location sample",
			"submit_error", err,
			"storage_error", appendErr)
		return
	}
	slog.Info("Queued location sample for deferred sync", "id", id, "cause", err)
	if w.scheduler != nil {
		w.scheduler.RequestSync()
	}
}

// rebuildState loads persisted tracking settings. Missing keys leave the
// defaults in place; a corrupt value is logged and skipped.
func (w *Worker) rebuildState(ctx context.Context) {
	w.state = TrackingState{Interval: w.defaultInterval}

	if v, err := w.config.GetConfig(ctx, store.ConfigTrackingEnabled); err == nil {
		w.state.Enabled = v == "true"
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to load tracking state", "error", err)
	}

	if v, err := w.config.GetConfig(ctx, store.ConfigTrackingInterval); err == nil {
		if ms, parseErr := strconv.ParseInt(v, 10, 64); parseErr == nil && ms > 0 {
			w.state.Interval = time.Duration(ms) * time.Millisecond
		} else {
			slog.Warn("Ignoring corrupt tracking interval", "value", v)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to load tracking interval", "error", err)
	}

	if v, err := w.config.GetConfig(ctx, store.ConfigLastPosition); err == nil {
		var sample store.LocationSample
		if unmarshalErr := json.Unmarshal([]byte(v), &sample); unmarshalErr == nil {
			w.state.LastPosition = &sample
		} else {
			slog.Warn("Ignoring corrupt last position", "error", unmarshalErr)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to load last position", "error", err)
	}
}

func (w *Worker) persistState(ctx context.Context) {
	enabled := "false"
	if w.state.Enabled {
		enabled = "true"
	}
	if err := w.config.SetConfig(ctx, store.ConfigTrackingEnabled, enabled); err != nil {
		slog.Error("Failed to persist tracking state", "error", err)
	}
	interval := strconv.FormatInt(w.state.Interval.Milliseconds(), 10)
	if err := w.config.SetConfig(ctx, store.ConfigTrackingInterval, interval); err != nil {
		slog.Error("Failed to persist tracking interval", "error", err)
	}
}

func (w *Worker) persistLastPosition(ctx context.Context, sample store.LocationSample) {
	encoded, err := json.Marshal(sample)
	if err != nil {
		slog.Error("Failed to encode last position", "error", err)
		return
	}
	if err := w.config.SetConfig(ctx, store.ConfigLastPosition, string(encoded)); err != nil {
		slog.Error("Failed to persist last position", "error", err)
	}
}
