package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steeveross-eng/huntiq-sync/internal/bus"
	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// fakeReplayer answers per-call from a script: nil error means success.
type fakeReplayer struct {
	mu            sync.Mutex
	postErr       error
	replayErr     error
	alerts        []upstream.ProximityAlert
	postedSamples []store.LocationSample
	replayedURLs  []string
}

func (f *fakeReplayer) PostLocation(_ context.Context, sample store.LocationSample) ([]upstream.ProximityAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.postedSamples = append(f.postedSamples, sample)
	return f.alerts, nil
}

func (f *fakeReplayer) Replay(_ context.Context, action store.PendingAction) ([]upstream.ProximityAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replayErr != nil {
		return nil, f.replayErr
	}
	f.replayedURLs = append(f.replayedURLs, action.URL)
	return f.alerts, nil
}

type fakeAlertSink struct {
	mu     sync.Mutex
	alerts []upstream.ProximityAlert
}

func (f *fakeAlertSink) DeliverAlerts(_ context.Context, alerts []upstream.ProximityAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alerts...)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestRunPassDrainsBothQueuesInOrder(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.AppendLocation(ctx, store.LocationSample{Latitude: 61.5})
	require.NoError(t, err)
	_, err = st.AppendAction(ctx, store.PendingAction{Method: "POST", URL: "/api/waypoints"})
	require.NoError(t, err)
	_, err = st.AppendAction(ctx, store.PendingAction{Method: "PUT", URL: "/api/waypoints/wp-1"})
	require.NoError(t, err)

	replayer := &fakeReplayer{}
	s, err := New(st, replayer, nil, nil, time.Minute)
	require.NoError(t, err)

	s.runPass(ctx)

	assert.Len(t, replayer.postedSamples, 1)
	assert.Equal(t, []string{"/api/waypoints", "/api/waypoints/wp-1"}, replayer.replayedURLs)

	// Acknowledged records are gone.
	n, err := st.CountLocations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = st.CountActions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunPassKeepsFailedRecords(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.AppendAction(ctx, store.PendingAction{Method: "POST", URL: "/api/waypoints"})
	require.NoError(t, err)

	replayer := &fakeReplayer{replayErr: &upstream.TransportError{Err: errors.New("offline")}}
	s, err := New(st, replayer, nil, nil, time.Minute)
	require.NoError(t, err)

	s.runPass(ctx)

	actions, err := st.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, 1, actions[0].Attempts)
	assert.Contains(t, actions[0].LastError, "offline")
	assert.True(t, actions[0].NextAttempt.After(time.Now()), "retry must be deferred")

	// A pass starting before the deferred attempt skips the record.
	replayer.replayErr = nil
	s.runPass(ctx)
	assert.Empty(t, replayer.replayedURLs)
}

func TestRunPassPerRecordIsolation(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	// A failing location must not keep the actions queue from draining.
	_, err := st.AppendLocation(ctx, store.LocationSample{Latitude: 1})
	require.NoError(t, err)
	_, err = st.AppendAction(ctx, store.PendingAction{Method: "POST", URL: "/api/harvests"})
	require.NoError(t, err)

	replayer := &fakeReplayer{postErr: &upstream.StatusError{StatusCode: 503}}
	s, err := New(st, replayer, nil, nil, time.Minute)
	require.NoError(t, err)

	s.runPass(ctx)

	n, err := st.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed location stays queued")
	n, err = st.CountActions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "actions drained despite location failure")
}

func TestDeadLetterAfterRetryBudget(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.AppendAction(ctx, store.PendingAction{Method: "POST", URL: "/api/waypoints"})
	require.NoError(t, err)
	// The record already burned two attempts; the budget is three.
	require.NoError(t, st.MarkActionFailure(ctx, id, "earlier failure", time.Now().Add(-time.Minute)))
	require.NoError(t, st.MarkActionFailure(ctx, id, "earlier failure", time.Now().Add(-time.Minute)))

	replayer := &fakeReplayer{replayErr: &upstream.StatusError{StatusCode: 500}}
	s, err := New(st, replayer, nil, nil, time.Minute, WithMaxAttempts(3))
	require.NoError(t, err)

	s.runPass(ctx)

	actions, err := st.ListActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	letters, err := st.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, store.QueueActions, letters[0].Queue)
	// Two earlier failures plus the final attempt that triggered the move.
	assert.Equal(t, 3, letters[0].Attempts)
}

func TestDrainFansOutAlerts(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.AppendLocation(ctx, store.LocationSample{Latitude: 61.5})
	require.NoError(t, err)

	replayer := &fakeReplayer{alerts: []upstream.ProximityAlert{
		{WaypointID: "wp-1", Classification: "hotspot"},
	}}
	sink := &fakeAlertSink{}
	messageBus := bus.New()
	defer messageBus.Close()
	sub := messageBus.Subscribe()
	defer messageBus.Unsubscribe(sub)

	s, err := New(st, replayer, sink, messageBus, time.Minute)
	require.NoError(t, err)

	s.runPass(ctx)

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "wp-1", sink.alerts[0].WaypointID)

	select {
	case event := <-sub.Events():
		alerts, ok := event.(bus.ProximityAlerts)
		require.True(t, ok)
		require.Len(t, alerts.Alerts, 1)
	case <-time.After(time.Second):
		t.Fatal("no alert event broadcast")
	}
}

func TestRequestSyncTriggersImmediatePass(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := st.AppendAction(ctx, store.PendingAction{Method: "POST", URL: "/api/waypoints"})
	require.NoError(t, err)

	replayer := &fakeReplayer{}
	// A one-hour interval guarantees the ticker never fires during the test;
	// only the trigger can cause a pass.
	s, err := New(st, replayer, nil, nil, time.Hour)
	require.NoError(t, err)

	go func() {
		_ = s.Start(ctx)
	}()
	defer s.Stop()

	s.RequestSync()

	require.Eventually(t, func() bool {
		n, err := st.CountActions(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRequestSyncCoalesces(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	replayer := &fakeReplayer{}
	s, err := New(st, replayer, nil, nil, time.Hour)
	require.NoError(t, err)

	// Never blocks, no matter how many signals pile up before a pass.
	for i := 0; i < 100; i++ {
		s.RequestSync()
	}
}

func TestRetryDelayGrows(t *testing.T) {
	t.Parallel()

	first := retryDelay(1)
	fifth := retryDelay(5)
	assert.Greater(t, fifth, first)
	assert.LessOrEqual(t, fifth, retryMaxInterval+retryMaxInterval/2)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	replayer := &fakeReplayer{}

	_, err := New(nil, replayer, nil, nil, time.Minute)
	assert.Error(t, err)
	_, err = New(st, nil, nil, nil, time.Minute)
	assert.Error(t, err)
	_, err = New(st, replayer, nil, nil, 0)
	assert.Error(t, err)
}
