package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantTitle string
		wantBody  string
		wantTag   string
		wantURL   string
	}{
		{
			name:      "empty payload yields all defaults",
			raw:       "",
			wantTitle: DefaultTitle,
			wantBody:  DefaultBody,
			wantTag:   DefaultTag,
			wantURL:   "/",
		},
		{
			name:      "full payload",
			raw:       `{"title":"Season opens","body":"Moose season opens tomorrow","tag":"season","url":"/seasons"}`,
			wantTitle: "Season opens",
			wantBody:  "Moose season opens tomorrow",
			wantTag:   "season",
			wantURL:   "/seasons",
		},
		{
			name:      "partial payload keeps defaults for missing fields",
			raw:       `{"title":"Heads up"}`,
			wantTitle: "Heads up",
			wantBody:  DefaultBody,
			wantTag:   DefaultTag,
			wantURL:   "/",
		},
		{
			name:      "non-json payload becomes plain text body",
			raw:       "server maintenance at noon",
			wantTitle: DefaultTitle,
			wantBody:  "server maintenance at noon",
			wantTag:   DefaultTag,
			wantURL:   "/",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := DecodePayload([]byte(tt.raw))
			assert.Equal(t, tt.wantTitle, n.Title)
			assert.Equal(t, tt.wantBody, n.Body)
			assert.Equal(t, tt.wantTag, n.Tag)
			assert.Equal(t, tt.wantURL, n.Data["url"])
			assert.NotEmpty(t, n.ID)
			assert.Equal(t, standardVibration, n.Vibrate)
		})
	}
}

func TestDecodePayloadMergesExtraData(t *testing.T) {
	t.Parallel()

	n := DecodePayload([]byte(`{"url":"/waypoints","data":{"campaign":"autumn"}}`))
	assert.Equal(t, "/waypoints", n.Data["url"])
	assert.Equal(t, "autumn", n.Data["campaign"])
}

func TestFromProximityAlert(t *testing.T) {
	t.Parallel()

	alert := upstream.ProximityAlert{
		WaypointID:     "wp-7",
		WaypointName:   "East Ridge",
		Classification: "standard",
		Message:        "Trail camera activity nearby",
	}
	n := FromProximityAlert(alert)

	assert.Equal(t, "East Ridge", n.Title)
	assert.Equal(t, "Trail camera activity nearby", n.Body)
	assert.Equal(t, "proximity-wp-7", n.Tag)
	assert.Equal(t, "/waypoints/wp-7", n.Data["url"])
	assert.Equal(t, standardVibration, n.Vibrate)
	assert.False(t, n.RequireInteraction)

	require.Len(t, n.Actions, 2)
	assert.Equal(t, ActionNavigate, n.Actions[0].ID)
	assert.Equal(t, ActionDismiss, n.Actions[1].ID)
}

func TestFromProximityAlertHotspotEscalates(t *testing.T) {
	t.Parallel()

	n := FromProximityAlert(upstream.ProximityAlert{
		WaypointID:     "wp-9",
		WaypointName:   "North Bog",
		Classification: "HOTSPOT",
	})

	assert.Equal(t, hotspotVibration, n.Vibrate)
	assert.True(t, n.RequireInteraction)
	// Missing message falls back to generated copy.
	assert.Contains(t, n.Body, "North Bog")
}
