// Package notify implements the notification delivery pipeline: decoding
// push payloads, rendering alerts into user notifications, and routing user
// interaction back into application navigation.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// Default copy used when a payload is missing fields or cannot be decoded.
const (
	DefaultTitle = "HuntIQ"
	DefaultBody  = "You have a new notification."
	DefaultIcon  = "/icons/icon-192.png"
	DefaultTag   = "huntiq-general"
)

// Action identifiers on a rendered notification.
const (
	ActionOpen     = "open"
	ActionNavigate = "navigate"
	ActionDismiss  = "dismiss"
)

// Vibration patterns in milliseconds, alternating vibrate/pause.
var (
	standardVibration = []int{200, 100, 200}
	hotspotVibration  = []int{400, 100, 400, 100, 400}
)

// Action is one interaction affordance on a notification.
type Action struct {
	ID    string `json:"action"`
	Title string `json:"title"`
}

// Notification is a fully rendered user notification. Tag is the stable
// deduplication identity: a later notification with the same tag replaces
// the visible one instead of stacking.
type Notification struct {
	ID                 string            `json:"-"`
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Icon               string            `json:"icon"`
	Tag                string            `json:"tag"`
	Vibrate            []int             `json:"vibrate,omitempty"`
	RequireInteraction bool              `json:"requireInteraction,omitempty"`
	Actions            []Action          `json:"actions,omitempty"`
	Data               map[string]string `json:"data,omitempty"`
}

// pushPayload is the structured shape attempted first when decoding an
// inbound push message.
type pushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Icon  string            `json:"icon"`
	Tag   string            `json:"tag"`
	URL   string            `json:"url"`
	Data  map[string]string `json:"data"`
}

// DecodePayload turns an inbound push payload into a notification. Malformed
// or partial payloads degrade to defaults; decoding never fails.
func DecodePayload(raw []byte) Notification {
	n := Notification{
		ID:      uuid.NewString(),
		Title:   DefaultTitle,
		Body:    DefaultBody,
		Icon:    DefaultIcon,
		Tag:     DefaultTag,
		Vibrate: standardVibration,
		Actions: []Action{
			{ID: ActionOpen, Title: "Open"},
			{ID: ActionDismiss, Title: "Dismiss"},
		},
		Data: map[string]string{"url": "/"},
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return n
	}

	var payload pushPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		// Not JSON: degrade to a plain-text notification with the raw
		// payload as the body.
		n.Body = trimmed
		return n
	}

	if payload.Title != "" {
		n.Title = payload.Title
	}
	if payload.Body != "" {
		n.Body = payload.Body
	}
	if payload.Icon != "" {
		n.Icon = payload.Icon
	}
	if payload.Tag != "" {
		n.Tag = payload.Tag
	}
	if payload.URL != "" {
		n.Data["url"] = payload.URL
	}
	for key, value := range payload.Data {
		n.Data[key] = value
	}
	return n
}

// FromProximityAlert renders one proximity alert. Hotspot-classified alerts
// escalate: longer vibration and forced foreground interaction.
func FromProximityAlert(alert upstream.ProximityAlert) Notification {
	title := alert.WaypointName
	if title == "" {
		title = DefaultTitle
	}
	body := alert.Message
	if body == "" {
		body = fmt.Sprintf("You are near %s.", title)
	}

	n := Notification{
		ID:      uuid.NewString(),
		Title:   title,
		Body:    body,
		Icon:    DefaultIcon,
		Tag:     "proximity-" + alert.WaypointID,
		Vibrate: standardVibration,
		Actions: []Action{
			{ID: ActionNavigate, Title: "View waypoint"},
			{ID: ActionDismiss, Title: "Dismiss"},
		},
		Data: map[string]string{
			"url":         "/waypoints/" + alert.WaypointID,
			"waypoint_id": alert.WaypointID,
		},
	}
	if alert.IsHotspot() {
		n.Vibrate = hotspotVibration
		n.RequireInteraction = true
	}
	return n
}
