package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InnNhi24/vibetune/pkg/model"
)

// fakeMonitor flips silently so tests control exactly when syncs happen.
type fakeMonitor struct {
	online atomic.Bool
}

func newFakeMonitor(online bool) *fakeMonitor {
	m := &fakeMonitor{}
	m.online.Store(online)
	return m
}

func (m *fakeMonitor) IsOnline() bool             { return m.online.Load() }
func (m *fakeMonitor) OnChange(func(online bool)) {}

type fakeAPI struct {
	mu          sync.Mutex
	submissions []TurnSubmission
	submitErr   error
	fetchErr    error
	fetchCalls  int
	fetchGate   chan struct{}
	serverConv  string
}

func (a *fakeAPI) SubmitTurn(_ context.Context, sub TurnSubmission) (*TurnOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	a.submissions = append(a.submissions, sub)
	convID := sub.Message.ConversationID
	if a.serverConv != "" {
		convID = a.serverConv
	}
	return &TurnOutcome{
		ConversationID: convID,
		ReplyText:      "good job",
		NextStage:      "practice",
		AIMessageID:    uuid.NewString(),
	}, nil
}

func (a *fakeAPI) FetchSnapshot(ctx context.Context, _ string) (*model.Snapshot, error) {
	a.mu.Lock()
	a.fetchCalls++
	gate := a.fetchGate
	err := a.fetchErr
	subs := append([]TurnSubmission(nil), a.submissions...)
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	snap := &model.Snapshot{ServerTime: time.Now()}
	seen := map[string]bool{}
	for _, s := range subs {
		if !seen[s.Message.ConversationID] {
			seen[s.Message.ConversationID] = true
			snap.Conversations = append(snap.Conversations, model.Conversation{
				ID: s.Message.ConversationID, StartedAt: time.Now(),
			})
		}
		snap.Messages = append(snap.Messages, s.Message)
	}
	return snap, nil
}

func (a *fakeAPI) DeleteConversation(context.Context, string) error { return nil }

func (a *fakeAPI) submitted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submissions)
}

func (a *fakeAPI) fetched() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetchCalls
}

func newTestEngine(t *testing.T, api API, monitor ConnectivityMonitor) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Store:     NewSessionStore(),
		API:       api,
		Monitor:   monitor,
		ProfileID: "p1",
	})
	require.NoError(t, err)
	return e
}

func TestSubmitTurnOnlineMergesOutcome(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, newFakeMonitor(true))

	out, err := e.SubmitTurn(context.Background(), "hello tutor", 1)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "practice", e.store.Stage())
	msgs := e.store.Messages("")
	require.Len(t, msgs, 2) // user turn + tutor reply
	assert.Equal(t, 0, e.QueueLen())
}

func TestOfflineSubmissionsQueueUp(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, newFakeMonitor(false))

	for _, text := range []string{"one", "two", "three"} {
		out, err := e.SubmitTurn(context.Background(), text, 1)
		require.NoError(t, err)
		assert.Nil(t, out, "offline submissions are pending, not answered")
	}

	assert.Equal(t, 3, e.QueueLen())
	assert.True(t, e.State().HasOfflineChanges)
	assert.Equal(t, 0, api.submitted())
}

func TestOfflineThenOnlineDrainsQueue(t *testing.T) {
	api := &fakeAPI{}
	monitor := newFakeMonitor(false)
	e := newTestEngine(t, api, monitor)

	for _, text := range []string{"one", "two", "three"} {
		_, err := e.SubmitTurn(context.Background(), text, 1)
		require.NoError(t, err)
	}
	require.Equal(t, 3, e.QueueLen())
	require.True(t, e.State().HasOfflineChanges)

	monitor.online.Store(true)
	ran := e.SyncData(context.Background())
	require.True(t, ran)

	assert.Equal(t, 0, e.QueueLen())
	assert.False(t, e.State().HasOfflineChanges)
	assert.NotNil(t, e.State().LastSync)
	assert.Equal(t, 3, api.submitted())
}

func TestConnectivityRestoreTriggersSync(t *testing.T) {
	api := &fakeAPI{}
	monitor := NewToggleMonitor(false)
	e := newTestEngine(t, api, monitor)

	_, err := e.SubmitTurn(context.Background(), "hello", 1)
	require.NoError(t, err)
	require.Equal(t, 1, e.QueueLen())

	monitor.SetOnline(true)
	require.Eventually(t, func() bool { return e.QueueLen() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, e.State().Online)
}

func TestSyncDataSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{fetchGate: gate}
	e := newTestEngine(t, api, newFakeMonitor(true))

	done := make(chan bool, 2)
	go func() { done <- e.SyncData(context.Background()) }()

	// Wait until the first cycle is inside the fetch.
	require.Eventually(t, func() bool { return api.fetched() == 1 }, time.Second, 5*time.Millisecond)

	// A second call while one is in flight is a no-op.
	assert.False(t, e.SyncData(context.Background()))

	close(gate)
	assert.True(t, <-done)
	assert.Equal(t, 1, api.fetched(), "exactly one network round trip")
}

func TestSyncDataFailureLeavesStateUntouched(t *testing.T) {
	api := &fakeAPI{fetchErr: errors.New("boom")}
	e := newTestEngine(t, api, newFakeMonitor(true))
	e.store.ApplyConversation(model.Conversation{ID: "c1", StartedAt: time.Now()})

	ran := e.SyncData(context.Background())
	require.True(t, ran)

	assert.Len(t, e.store.Conversations(), 1, "failed sync must not clear local state")
	assert.Nil(t, e.State().LastSync)
	assert.False(t, e.State().Syncing, "syncing flag always clears")
}

func TestSyncDataCanRunAgainAfterFailure(t *testing.T) {
	api := &fakeAPI{fetchErr: errors.New("boom")}
	e := newTestEngine(t, api, newFakeMonitor(true))

	require.True(t, e.SyncData(context.Background()))

	api.mu.Lock()
	api.fetchErr = nil
	api.mu.Unlock()
	require.True(t, e.SyncData(context.Background()), "engine must not be stuck mid-sync")
	assert.NotNil(t, e.State().LastSync)
}

func TestReconciliationLeavesNoStaleReferences(t *testing.T) {
	canonical := uuid.NewString()
	api := &fakeAPI{serverConv: canonical}
	e := newTestEngine(t, api, newFakeMonitor(true))

	prov := e.NewProvisionalConversation("New Conversation")
	require.Contains(t, prov.ID, "local_")

	_, err := e.SubmitTurn(context.Background(), "hello", 1)
	require.NoError(t, err)

	for _, m := range e.store.Messages("") {
		assert.NotEqual(t, prov.ID, m.ConversationID, "message %s still references the provisional id", m.ID)
	}
	assert.Equal(t, canonical, e.store.ActiveConversation())
	for _, c := range e.store.Conversations() {
		assert.NotEqual(t, prov.ID, c.ID)
	}
}

func TestReconciliationRewritesQueuedEntries(t *testing.T) {
	canonical := uuid.NewString()
	api := &fakeAPI{serverConv: canonical, submitErr: errors.New("down")}
	monitor := newFakeMonitor(true)
	e := newTestEngine(t, api, monitor)

	prov := e.NewProvisionalConversation("New Conversation")
	// First turn fails and is queued, still referencing the provisional id.
	out, err := e.SubmitTurn(context.Background(), "hello", 1)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, 1, e.QueueLen())

	// Second turn succeeds and reconciles; the queued entry must follow.
	api.mu.Lock()
	api.submitErr = nil
	api.mu.Unlock()
	_, err = e.SubmitTurn(context.Background(), "hello again", 2)
	require.NoError(t, err)

	for _, entry := range e.QueueEntries() {
		assert.Equal(t, canonical, entry.Submission.Message.ConversationID)
		assert.NotEqual(t, prov.ID, entry.Submission.Message.ConversationID)
	}
}

func TestDuplicateSubmissionGuard(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, newFakeMonitor(true))

	e.mu.Lock()
	e.submitting = true
	e.mu.Unlock()

	_, err := e.SubmitTurn(context.Background(), "hello", 1)
	require.ErrorIs(t, err, ErrSubmissionInFlight)
}

func TestFailedQueueEntryBacksOff(t *testing.T) {
	api := &fakeAPI{submitErr: errors.New("store degraded")}
	monitor := newFakeMonitor(false)
	e := newTestEngine(t, api, monitor)

	_, err := e.SubmitTurn(context.Background(), "hello", 1)
	require.NoError(t, err)
	require.Equal(t, 1, e.QueueLen())

	monitor.online.Store(true)

	// First cycle attempts the entry once and fails.
	require.True(t, e.SyncData(context.Background()))
	entries := e.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.True(t, entries[0].NextAttemptAt.After(time.Now()), "entry must cool down before the next attempt")

	// An immediate second cycle must not re-attempt the cooling entry.
	require.True(t, e.SyncData(context.Background()))
	entries = e.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)
}

func TestDeleteProvisionalConversationIsLocalOnly(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, newFakeMonitor(true))

	c := e.NewProvisionalConversation("scratch")
	e.DeleteConversation(context.Background(), c.ID)

	assert.Empty(t, e.store.Conversations())
}
