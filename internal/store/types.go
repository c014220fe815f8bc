package store

import (
	"time"
)

// LocationSample is one geolocation reading captured by a foreground context.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Altitude  float64   `json:"altitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingAction is a captured mutating request that failed while offline.
// The payload fields are fixed at enqueue time and never mutated; only the
// retry bookkeeping advances between reconciliation passes.
type PendingAction struct {
	ID          int64
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Attempts    int
	NextAttempt time.Time
	LastError   string
	CreatedAt   time.Time
}

// PendingLocation is a location sample awaiting delivery to the remote API.
type PendingLocation struct {
	ID          int64
	Sample      LocationSample
	Attempts    int
	NextAttempt time.Time
	LastError   string
	RecordedAt  time.Time
}

// CacheEntry is an immutable snapshot of the last successful response for a
// normalized request key, tagged with the cache generation it belongs to.
type CacheEntry struct {
	Generation string
	Key        string
	Status     int
	Headers    map[string]string
	Body       []byte
	StoredAt   time.Time
}

// DeadLetter is an outbox record evicted after exhausting its retry budget.
// Dead letters are kept for inspection and never replayed automatically.
type DeadLetter struct {
	ID        int64
	Queue     Queue
	RecordID  int64
	Payload   string
	Attempts  int
	LastError string
	CreatedAt time.Time
}
