package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/steeveross-eng/huntiq-sync/internal/bus"
	"github.com/steeveross-eng/huntiq-sync/internal/logger"
	"github.com/steeveross-eng/huntiq-sync/internal/store"
)

const (
	// maxCommandBytes bounds the command envelope size.
	maxCommandBytes = 64 << 10

	// statusReplyTimeout bounds how long a status query waits for the worker.
	statusReplyTimeout = 5 * time.Second
)

// commandHandler accepts one JSON command envelope and forwards it to the
// worker. Unrecognized command identifiers are logged and ignored, never an
// error: the caller gets an explicit "ignored" status instead.
func (g *gateway) commandHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
		return
	}

	cmd, err := bus.DecodeCommand(body)
	if err != nil {
		if errors.Is(err, bus.ErrUnknownCommand) {
			logger.Warnf("Ignoring unrecognized command: %v", err)
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "ignored"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if err := g.bus.Send(cmd); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// statusHandler services the one synchronous command: it supplies the reply
// channel, forwards the query and relays the worker's answer.
func (g *gateway) statusHandler(w http.ResponseWriter, r *http.Request) {
	reply := make(chan bus.StatusReply, 1)
	if err := g.bus.Send(bus.CheckTrackingStatus{Reply: reply}); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	select {
	case status := <-reply:
		writeJSON(w, http.StatusOK, status)
	case <-time.After(statusReplyTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "worker did not reply"})
	case <-r.Context().Done():
	}
}

// eventsHandler streams broadcast events to an out-of-process foreground
// context as server-sent events.
func (g *gateway) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := g.bus.Subscribe()
	defer g.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			envelope, err := bus.EncodeEvent(event)
			if err != nil {
				logger.Errorf("Failed to encode event: %v", err)
				continue
			}
			data, err := json.Marshal(envelope)
			if err != nil {
				logger.Errorf("Failed to marshal event envelope: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// deadLettersHandler exposes records evicted after exhausting their retry
// budget.
func (g *gateway) deadLettersHandler(w http.ResponseWriter, r *http.Request) {
	letters, err := g.letters.ListDeadLetters(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if letters == nil {
		letters = []store.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}
