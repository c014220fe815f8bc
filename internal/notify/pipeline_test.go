package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// fakePresenter records presented and retracted notifications.
type fakePresenter struct {
	mu         sync.Mutex
	presented  []Notification
	retracted  []string
	presentErr error
}

func (f *fakePresenter) Present(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presentErr != nil {
		return f.presentErr
	}
	f.presented = append(f.presented, n)
	return nil
}

func (f *fakePresenter) Retract(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retracted = append(f.retracted, tag)
	return nil
}

// fakeForeground records focus and navigation calls.
type fakeForeground struct {
	focused   bool
	navigated []string
}

func (f *fakeForeground) Focus(context.Context) error {
	f.focused = true
	return nil
}

func (f *fakeForeground) Navigate(_ context.Context, target string) error {
	f.navigated = append(f.navigated, target)
	return nil
}

// fakeRegistry hands out a configured foreground context, or records opens.
type fakeRegistry struct {
	foreground *fakeForeground
	opened     []string
}

func (f *fakeRegistry) Find(_ context.Context, _ string) (ForegroundContext, bool) {
	if f.foreground == nil {
		return nil, false
	}
	return f.foreground, true
}

func (f *fakeRegistry) Open(_ context.Context, target string) error {
	f.opened = append(f.opened, target)
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakePresenter, *fakeRegistry) {
	t.Helper()
	presenter := &fakePresenter{}
	registry := &fakeRegistry{}
	p, err := NewPipeline(presenter, registry)
	require.NoError(t, err)
	return p, presenter, registry
}

func TestDeliverDeduplicatesByTag(t *testing.T) {
	t.Parallel()

	p, presenter, _ := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Deliver(ctx, Notification{Tag: "season", Body: "first"}))
	require.NoError(t, p.Deliver(ctx, Notification{Tag: "season", Body: "second"}))
	require.NoError(t, p.Deliver(ctx, Notification{Tag: "other", Body: "third"}))

	// Both deliveries reached the presenter (the platform replaces by tag),
	// but only one active notification per tag remains tracked.
	assert.Len(t, presenter.presented, 3)
	assert.ElementsMatch(t, []string{"season", "other"}, p.ActiveTags())
}

func TestDeliverDefaultsEmptyTag(t *testing.T) {
	t.Parallel()

	p, presenter, _ := newTestPipeline(t)

	require.NoError(t, p.Deliver(context.Background(), Notification{Body: "untagged"}))
	require.Len(t, presenter.presented, 1)
	assert.Equal(t, DefaultTag, presenter.presented[0].Tag)
}

func TestDeliverAlertsIsolatesFailures(t *testing.T) {
	t.Parallel()

	presenter := &fakePresenter{presentErr: errors.New("display unavailable")}
	registry := &fakeRegistry{}
	p, err := NewPipeline(presenter, registry)
	require.NoError(t, err)

	// Must not panic or abort on per-alert failures.
	p.DeliverAlerts(context.Background(), []upstream.ProximityAlert{
		{WaypointID: "wp-1"},
		{WaypointID: "wp-2"},
	})
	assert.Empty(t, presenter.presented)
}

func TestHandleInteractionDismiss(t *testing.T) {
	t.Parallel()

	p, presenter, registry := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Deliver(ctx, Notification{Tag: "season", Data: map[string]string{"url": "/seasons"}}))
	require.NoError(t, p.HandleInteraction(ctx, "season", ActionDismiss))

	assert.Equal(t, []string{"season"}, presenter.retracted)
	assert.Empty(t, registry.opened, "dismiss must not open anything")
	assert.Empty(t, p.ActiveTags())
}

func TestHandleInteractionOpensTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actionID string
	}{
		{name: "explicit open action", actionID: ActionOpen},
		{name: "navigate action", actionID: ActionNavigate},
		{name: "bare click", actionID: ""},
		{name: "unknown action falls back to open", actionID: "share"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, _, registry := newTestPipeline(t)
			ctx := context.Background()

			require.NoError(t, p.Deliver(ctx, Notification{
				Tag:  "proximity-wp-1",
				Data: map[string]string{"url": "/waypoints/wp-1"},
			}))
			require.NoError(t, p.HandleInteraction(ctx, "proximity-wp-1", tt.actionID))
			assert.Equal(t, []string{"/waypoints/wp-1"}, registry.opened)
		})
	}
}

func TestHandleInteractionReusesOpenContext(t *testing.T) {
	t.Parallel()

	p, _, registry := newTestPipeline(t)
	registry.foreground = &fakeForeground{}
	ctx := context.Background()

	require.NoError(t, p.Deliver(ctx, Notification{
		Tag:  "proximity-wp-1",
		Data: map[string]string{"url": "/waypoints/wp-1"},
	}))
	require.NoError(t, p.HandleInteraction(ctx, "proximity-wp-1", ActionNavigate))

	assert.True(t, registry.foreground.focused)
	assert.Equal(t, []string{"/waypoints/wp-1"}, registry.foreground.navigated)
	assert.Empty(t, registry.opened, "no new context when one can be reused")
}

func TestHandleInteractionUnknownTagIsNoop(t *testing.T) {
	t.Parallel()

	p, presenter, registry := newTestPipeline(t)

	require.NoError(t, p.HandleInteraction(context.Background(), "never-shown", ActionOpen))
	assert.Empty(t, presenter.retracted)
	assert.Empty(t, registry.opened)
}

func TestDeliverPushRendersDecodedPayload(t *testing.T) {
	t.Parallel()

	p, presenter, _ := newTestPipeline(t)

	require.NoError(t, p.DeliverPush(context.Background(), []byte(`{"title":"Season opens","tag":"season"}`)))
	require.Len(t, presenter.presented, 1)
	assert.Equal(t, "Season opens", presenter.presented[0].Title)
	assert.Equal(t, DefaultBody, presenter.presented[0].Body)
}
