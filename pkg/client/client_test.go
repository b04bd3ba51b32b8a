package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InnNhi24/vibetune/pkg/model"
	"github.com/InnNhi24/vibetune/pkg/persistence/convstore"
	"github.com/InnNhi24/vibetune/pkg/provider"
	"github.com/InnNhi24/vibetune/pkg/syncengine"
	"github.com/InnNhi24/vibetune/pkg/webtutor"
)

func newTestServer(t *testing.T, fake *provider.FakeCompletion) (*httptest.Server, *convstore.Gateway) {
	t.Helper()
	gw := convstore.NewGateway(convstore.NewMemoryStore())
	svc, err := webtutor.NewTurnService(webtutor.TurnServiceConfig{
		Gateway:   gw,
		Completer: fake,
	})
	require.NoError(t, err)
	r, err := webtutor.NewRouter(webtutor.RouterConfig{
		BaseCtx: context.Background(),
		Turns:   svc,
		Gateway: gw,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return srv, gw
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSubmitTurnRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, &provider.FakeCompletion{Reply: "Great! [TOPIC: street food] Tell me more."})
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := c.SubmitTurn(context.Background(), syncengine.TurnSubmission{
		Message: model.Message{
			ID:             "m1",
			ConversationID: "local_1",
			Sender:         model.SenderUser,
			Content:        "let's talk about street food",
			CreatedAt:      time.Now(),
		},
		Stage:     "topic_discovery",
		TurnCount: 1,
		ProfileID: "p1",
	})
	require.NoError(t, err)

	assert.Equal(t, "practice", out.NextStage)
	require.NotNil(t, out.Topic)
	assert.Equal(t, "street food", *out.Topic)
	assert.NotEqual(t, "local_1", out.ConversationID, "server mints a canonical id")
	assert.NotEmpty(t, out.AIMessageID)
}

func TestSubmitTurnServerErrorSurfaces(t *testing.T) {
	srv, _ := newTestServer(t, &provider.FakeCompletion{Err: provider.ErrTimeout})
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.SubmitTurn(context.Background(), syncengine.TurnSubmission{
		Message: model.Message{ID: "m1", ConversationID: "c1", Content: "hello"},
		Stage:   "practice",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "504")
}

func TestFetchSnapshotRoundTrip(t *testing.T) {
	srv, gw := newTestServer(t, &provider.FakeCompletion{})
	gw.UpsertMessage(context.Background(), model.Message{
		ID: "m1", ConversationID: "c1", Sender: model.SenderUser,
		Content: "hello", Version: 1, CreatedAt: time.Now(),
	})

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	snap, err := c.FetchSnapshot(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.False(t, snap.ServerTime.IsZero())
}

func TestDeleteConversationRoundTrip(t *testing.T) {
	srv, gw := newTestServer(t, &provider.FakeCompletion{})
	gw.UpsertConversation(context.Background(), model.Conversation{
		ID: "11111111-1111-1111-1111-111111111111", ProfileID: "p1", StartedAt: time.Now(),
	})

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.DeleteConversation(context.Background(), "11111111-1111-1111-1111-111111111111"))

	snap, err := gw.Snapshot(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, snap.Conversations)
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "text must not be empty"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.SubmitTurn(context.Background(), syncengine.TurnSubmission{
		Message: model.Message{ID: "m1", ConversationID: "c1"},
		Stage:   "practice",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text must not be empty")
}

// End to end: a sync engine driving the real HTTP surface through the client.
func TestEngineAgainstLiveServer(t *testing.T) {
	srv, gw := newTestServer(t, &provider.FakeCompletion{Reply: "Nice! [TOPIC: hiking] Keep going."})

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	monitor := syncengine.NewToggleMonitor(true)
	engine, err := syncengine.NewEngine(syncengine.EngineConfig{
		Store:     syncengine.NewSessionStore(),
		API:       c,
		Monitor:   monitor,
		ProfileID: "p1",
	})
	require.NoError(t, err)

	prov := engine.NewProvisionalConversation("New Conversation")
	out, err := engine.SubmitTurn(context.Background(), "I want to practice hiking talk", 1)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.NotEqual(t, prov.ID, out.ConversationID)

	// Server state holds both sides of the turn.
	snap, err := gw.Snapshot(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, snap.Conversations, 1)
	assert.Len(t, snap.Messages, 2)

	// A full sync replaces local state with the canonical snapshot.
	require.True(t, engine.SyncData(context.Background()))
	assert.NotNil(t, engine.State().LastSync)
	assert.Equal(t, 0, engine.QueueLen())
}
