package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// Wire identifiers for the cross-context message protocol. Out-of-process
// foreground contexts speak this JSON envelope over the gateway's command
// endpoint; in-process callers use the typed Command values directly.
const (
	CommandStartTracking       = "START_TRACKING"
	CommandStopTracking        = "STOP_TRACKING"
	CommandRecordLocation      = "RECORD_LOCATION"
	CommandCheckTrackingStatus = "CHECK_TRACKING_STATUS"
	CommandAdoptLatestVersion  = "ADOPT_LATEST_VERSION"

	EventTrackingStarted = "TRACKING_STARTED"
	EventTrackingStopped = "TRACKING_STOPPED"
	EventProximityAlerts = "PROXIMITY_ALERTS"
)

// ErrUnknownCommand indicates an envelope carried an unrecognized command
// identifier. Callers log and ignore it; it is never fatal.
var ErrUnknownCommand = errors.New("unknown command")

// Envelope is the JSON frame for commands sent over the gateway.
type Envelope struct {
	Type       string                `json:"type"`
	IntervalMS int64                 `json:"interval,omitempty"`
	Payload    *store.LocationSample `json:"payload,omitempty"`
}

// DecodeCommand maps a JSON envelope to its typed command.
// CHECK_TRACKING_STATUS is excluded: its reply channel cannot travel over
// the wire, so the gateway services status queries through a dedicated
// endpoint.
func DecodeCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command envelope: %w", err)
	}

	switch env.Type {
	case CommandStartTracking:
		return StartTracking{Interval: time.Duration(env.IntervalMS) * time.Millisecond}, nil
	case CommandStopTracking:
		return StopTracking{}, nil
	case CommandRecordLocation:
		if env.Payload == nil {
			return nil, fmt.Errorf("%s requires a payload", CommandRecordLocation)
		}
		return RecordLocation{Sample: *env.Payload}, nil
	case CommandAdoptLatestVersion:
		return AdoptLatestVersion{}, nil
	case CommandCheckTrackingStatus:
		return nil, fmt.Errorf("%s must use the status endpoint: %w", CommandCheckTrackingStatus, ErrUnknownCommand)
	default:
		return nil, fmt.Errorf("%q: %w", env.Type, ErrUnknownCommand)
	}
}

// EventEnvelope is the JSON frame for events streamed to out-of-process
// foreground contexts.
type EventEnvelope struct {
	Type       string                    `json:"type"`
	IntervalMS int64                     `json:"interval,omitempty"`
	Alerts     []upstream.ProximityAlert `json:"alerts,omitempty"`
}

// EncodeEvent maps a typed event to its wire envelope.
func EncodeEvent(event Event) (EventEnvelope, error) {
	switch e := event.(type) {
	case TrackingStarted:
		return EventEnvelope{Type: EventTrackingStarted, IntervalMS: e.Interval.Milliseconds()}, nil
	case TrackingStopped:
		return EventEnvelope{Type: EventTrackingStopped}, nil
	case ProximityAlerts:
		return EventEnvelope{Type: EventProximityAlerts, Alerts: e.Alerts}, nil
	default:
		return EventEnvelope{}, fmt.Errorf("unencodable event %T", event)
	}
}
