// Package bus provides the typed command/event channel between foreground
// contexts and the background worker. Foreground contexts and the worker do
// not share state: commands flow in over a multi-producer channel and
// effects are observed through broadcast events.
package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// Command is the closed set of messages a foreground context may send to
// the worker. The worker dispatches with an exhaustive type switch, so a new
// command is a compile-time-checked addition.
type Command interface {
	isCommand()
}

// StartTracking enables periodic location sampling.
type StartTracking struct {
	// Interval between samples. Zero means the configured default.
	Interval time.Duration
}

// StopTracking disables location sampling.
type StopTracking struct{}

// RecordLocation submits one location sample immediately.
type RecordLocation struct {
	Sample store.LocationSample
}

// CheckTrackingStatus queries the worker's tracking state. It is the only
// command with a synchronous-style reply, delivered on the caller-supplied
// channel. The channel must have capacity for one reply.
type CheckTrackingStatus struct {
	Reply chan<- StatusReply
}

// AdoptLatestVersion forces the worker to re-run generation activation so
// long-lived foreground contexts pick up the current build immediately.
type AdoptLatestVersion struct{}

func (StartTracking) isCommand()       {}
func (StopTracking) isCommand()        {}
func (RecordLocation) isCommand()      {}
func (CheckTrackingStatus) isCommand() {}
func (AdoptLatestVersion) isCommand()  {}

// StatusReply answers a CheckTrackingStatus command.
type StatusReply struct {
	Tracking     bool                  `json:"tracking"`
	Interval     time.Duration         `json:"interval"`
	LastPosition *store.LocationSample `json:"lastPosition,omitempty"`
}

// Event is the closed set of broadcasts the worker fans out to every
// subscribed foreground context.
type Event interface {
	isEvent()
}

// TrackingStarted announces that location sampling began.
type TrackingStarted struct {
	Interval time.Duration
}

// TrackingStopped announces that location sampling ended.
type TrackingStopped struct{}

// ProximityAlerts carries alerts returned by the remote API.
type ProximityAlerts struct {
	Alerts []upstream.ProximityAlert
}

func (TrackingStarted) isEvent() {}
func (TrackingStopped) isEvent() {}
func (ProximityAlerts) isEvent() {}

// ErrClosed indicates the bus has been closed.
var ErrClosed = errors.New("bus is closed")

const (
	commandBuffer    = 64
	subscriberBuffer = 16
)

// Subscription is one foreground context's event feed.
type Subscription struct {
	events chan Event
}

// Events returns the subscriber's event channel.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Bus connects any number of command producers to the single worker loop
// and fans events back out to subscribers.
type Bus struct {
	commands chan Command

	mu          sync.Mutex
	closed      bool
	subscribers map[*Subscription]struct{}
}

// New creates a bus.
func New() *Bus {
	return &Bus{
		commands:    make(chan Command, commandBuffer),
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Send delivers a command to the worker. It blocks when the worker is
// backlogged, which gives producers natural backpressure.
func (b *Bus) Send(cmd Command) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	b.commands <- cmd
	return nil
}

// Commands returns the receive side consumed by the worker loop.
func (b *Bus) Commands() <-chan Command {
	return b.commands
}

// Subscribe registers a foreground context for broadcast events.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{events: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.events)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and closes its event channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.events)
}

// Broadcast fans an event out to every subscriber. Delivery is best-effort:
// a subscriber that has stopped draining its channel misses the event rather
// than blocking the worker.
func (b *Bus) Broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subscribers {
		select {
		case sub.events <- event:
		default:
			slog.Warn("Dropping event for slow subscriber", "event", eventName(event))
		}
	}
}

// Close shuts the bus down. Subsequent Sends fail with ErrClosed and all
// subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub.events)
	}
}

func eventName(event Event) string {
	switch event.(type) {
	case TrackingStarted:
		return EventTrackingStarted
	case TrackingStopped:
		return EventTrackingStopped
	case ProximityAlerts:
		return EventProximityAlerts
	default:
		return "UNKNOWN"
	}
}
