package syncengine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/InnNhi24/vibetune/pkg/model"
)

// defaultSyncTimeout races the snapshot fetch inside one sync cycle.
const defaultSyncTimeout = 5 * time.Second

// StateTopic is the watermill topic sync-state updates are published on.
const StateTopic = "sync.state"

// provisionalIDPrefix marks conversation ids minted on the client. They are
// deliberately not UUID-shaped so the server treats their deletion as
// local-only.
const provisionalIDPrefix = "local_"

// ErrSubmissionInFlight guards against double-fires from rapid input events.
var ErrSubmissionInFlight = errors.New("syncengine: a submission is already in flight")

// TurnSubmission is what the engine sends across the network boundary.
type TurnSubmission struct {
	Message   model.Message
	Stage     string
	Topic     string
	TurnCount int
	ProfileID string
}

// TurnOutcome is the server's canonical answer to one submission.
type TurnOutcome struct {
	ConversationID      string
	ReplyText           string
	Topic               *string
	Stage               string
	NextStage           string
	AIMessageID         string
	PersistenceDisabled bool
}

// API is the network boundary the engine drives. pkg/client implements it
// over HTTP; tests use fakes.
type API interface {
	SubmitTurn(ctx context.Context, sub TurnSubmission) (*TurnOutcome, error)
	FetchSnapshot(ctx context.Context, profileID string) (*model.Snapshot, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Engine owns the client session: optimistic local mutation, single-flight
// sync, the retry queue, and id reconciliation. Network errors never
// propagate out of it; the UI reads pending state off the store instead.
type Engine struct {
	mu         sync.Mutex
	store      *SessionStore
	api        API
	monitor    ConnectivityMonitor
	publisher  message.Publisher
	queue      *retryQueue
	syncing    bool
	submitting bool

	profileID   string
	syncTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

type EngineConfig struct {
	Store     *SessionStore
	API       API
	Monitor   ConnectivityMonitor
	Publisher message.Publisher
	ProfileID string
	// SyncTimeout overrides the per-cycle budget; zero means 5s.
	SyncTimeout time.Duration
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("syncengine: store is nil")
	}
	if cfg.API == nil {
		return nil, errors.New("syncengine: api is nil")
	}
	if cfg.Monitor == nil {
		return nil, errors.New("syncengine: connectivity monitor is nil")
	}
	timeout := cfg.SyncTimeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	e := &Engine{
		store:       cfg.Store,
		api:         cfg.API,
		monitor:     cfg.Monitor,
		publisher:   cfg.Publisher,
		queue:       newRetryQueue(),
		profileID:   cfg.ProfileID,
		syncTimeout: timeout,
		now:         time.Now,
		logger:      log.With().Str("component", "syncengine").Logger(),
	}
	e.publishState(e.store.MutateState(func(st *model.SyncState) {
		st.Online = cfg.Monitor.IsOnline()
	}))
	cfg.Monitor.OnChange(e.onConnectivityChange)
	return e, nil
}

func (e *Engine) onConnectivityChange(online bool) {
	st := e.store.MutateState(func(st *model.SyncState) { st.Online = online })
	e.publishState(st)
	if online {
		go func() {
			_ = e.SyncData(context.Background())
		}()
	}
}

// NewProvisionalConversation mints a local conversation that the server has
// never seen and makes it active.
func (e *Engine) NewProvisionalConversation(title string) model.Conversation {
	c := model.Conversation{
		ID:        provisionalIDPrefix + uuid.NewString(),
		ProfileID: e.profileID,
		Title:     title,
		StartedAt: e.now(),
	}
	e.AddConversation(c)
	e.store.SetActiveConversation(c.ID)
	return c
}

// AddConversation applies a conversation to local state immediately.
func (e *Engine) AddConversation(c model.Conversation) {
	e.store.ApplyConversation(c)
	if !e.monitor.IsOnline() {
		e.publishState(e.store.MutateState(func(st *model.SyncState) { st.HasOfflineChanges = true }))
	}
}

// AddMessage applies a message to local state immediately. Offline adds are
// queued for the next sync cycle.
func (e *Engine) AddMessage(m model.Message, sub TurnSubmission) {
	e.store.ApplyMessage(m)
	if e.monitor.IsOnline() {
		return
	}
	sub.Message = m
	e.mu.Lock()
	e.queue.enqueue(sub)
	e.mu.Unlock()
	e.publishState(e.store.MutateState(func(st *model.SyncState) { st.HasOfflineChanges = true }))
}

// SubmitTurn sends one user turn. The message is applied optimistically;
// offline or failed sends are queued, not surfaced as errors. A nil outcome
// with nil error means the turn is pending in the retry queue.
func (e *Engine) SubmitTurn(ctx context.Context, text string, turnCount int) (*TurnOutcome, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("syncengine: text must not be empty")
	}

	e.mu.Lock()
	if e.submitting {
		e.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	e.submitting = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.submitting = false
		e.mu.Unlock()
	}()

	convID := e.store.ActiveConversation()
	if convID == "" {
		convID = e.NewProvisionalConversation("New Conversation").ID
	}
	stage := e.store.Stage()
	if stage == "" {
		stage = "topic_discovery"
		e.store.SetStage(stage)
	}

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Sender:         model.SenderUser,
		Type:           model.MessageText,
		Content:        strings.TrimSpace(text),
		Version:        1,
		CreatedAt:      e.now(),
	}
	sub := TurnSubmission{
		Message:   msg,
		Stage:     stage,
		TurnCount: turnCount,
		ProfileID: e.profileID,
	}
	if c := e.findConversation(convID); c != nil && c.Topic != nil {
		sub.Topic = *c.Topic
	}

	e.store.ApplyMessage(msg)

	if !e.monitor.IsOnline() {
		e.mu.Lock()
		e.queue.enqueue(sub)
		e.mu.Unlock()
		e.publishState(e.store.MutateState(func(st *model.SyncState) { st.HasOfflineChanges = true }))
		return nil, nil
	}

	outcome, err := e.api.SubmitTurn(ctx, sub)
	if err != nil {
		e.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("turn submission failed, queueing")
		e.mu.Lock()
		e.queue.enqueue(sub)
		e.mu.Unlock()
		e.publishState(e.store.MutateState(func(st *model.SyncState) { st.HasOfflineChanges = true }))
		return nil, nil
	}
	e.mergeOutcome(convID, outcome)
	return outcome, nil
}

// mergeOutcome folds the server's canonical answer into local state.
func (e *Engine) mergeOutcome(provisionalConvID string, out *TurnOutcome) {
	if out == nil {
		return
	}
	if out.ConversationID != "" && out.ConversationID != provisionalConvID {
		e.store.Reconcile(provisionalConvID, out.ConversationID)
		e.mu.Lock()
		e.queue.reconcile(provisionalConvID, out.ConversationID)
		e.mu.Unlock()
	}
	convID := out.ConversationID
	if convID == "" {
		convID = provisionalConvID
	}
	if out.ReplyText != "" {
		aiID := out.AIMessageID
		if aiID == "" {
			aiID = uuid.NewString()
		}
		e.store.ApplyMessage(model.Message{
			ID:             aiID,
			ConversationID: convID,
			Sender:         model.SenderAI,
			Type:           model.MessageText,
			Content:        out.ReplyText,
			Version:        1,
			CreatedAt:      e.now(),
		})
	}
	if out.NextStage != "" {
		e.store.SetStage(out.NextStage)
	}
	if out.Topic != nil {
		if c := e.findConversation(convID); c != nil && c.Topic == nil {
			c.Topic = out.Topic
			e.store.ApplyConversation(*c)
		}
	}
}

// SyncData runs one sync cycle: drain the retry queue head-first, then pull
// the server snapshot and replace local state with it. Single-flight: a call
// while a cycle is in progress is a no-op returning false. Network failures
// are logged, never returned.
func (e *Engine) SyncData(ctx context.Context) bool {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return false
	}
	e.syncing = true
	e.mu.Unlock()

	e.publishState(e.store.MutateState(func(st *model.SyncState) { st.Syncing = true }))
	defer func() {
		// Always clears, even on early return: the engine can never get
		// stuck mid-sync.
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
		e.publishState(e.store.MutateState(func(st *model.SyncState) { st.Syncing = false }))
	}()

	ctx, cancel := context.WithTimeout(ctx, e.syncTimeout)
	defer cancel()

	e.drainQueue(ctx)

	snap, err := e.api.FetchSnapshot(ctx, e.profileID)
	if err != nil {
		e.logger.Warn().Err(err).Msg("snapshot fetch failed, local state untouched")
		return true
	}
	e.store.ReplaceAll(snap)

	e.mu.Lock()
	drained := e.queue.len() == 0
	e.mu.Unlock()
	now := e.now()
	e.publishState(e.store.MutateState(func(st *model.SyncState) {
		st.LastSync = &now
		if drained {
			st.HasOfflineChanges = false
		}
	}))
	return true
}

// drainQueue retries queued writes strictly in FIFO order, one at a time. An
// entry leaves the queue only on confirmed success; the first failure (or a
// head still in its backoff window) ends the drain for this cycle.
func (e *Engine) drainQueue(ctx context.Context) {
	for {
		e.mu.Lock()
		entry, ok := e.queue.head(e.now())
		e.mu.Unlock()
		if !ok {
			return
		}
		outcome, err := e.api.SubmitTurn(ctx, entry.Submission)
		if err != nil {
			e.mu.Lock()
			e.queue.fail(entry, e.now())
			e.mu.Unlock()
			e.logger.Warn().Err(err).
				Int("attempts", entry.Attempts).
				Str("message_id", entry.Submission.Message.ID).
				Msg("queued write failed, will retry next cycle")
			return
		}
		e.mu.Lock()
		e.queue.removeHead()
		e.mu.Unlock()
		e.mergeOutcome(entry.Submission.Message.ConversationID, outcome)
	}
}

// DeleteConversation removes a conversation. Provisional ids never leave the
// client; canonical ids are deleted remotely first, falling back to a queued
// local state when the network call fails.
func (e *Engine) DeleteConversation(ctx context.Context, id string) {
	if _, err := uuid.Parse(id); err != nil {
		e.logger.Debug().Str("conversation_id", id).Msg("provisional conversation, deleting locally only")
		e.store.DeleteConversation(id)
		return
	}
	if err := e.api.DeleteConversation(ctx, id); err != nil {
		e.logger.Warn().Err(err).Str("conversation_id", id).Msg("remote delete failed")
	}
	e.store.DeleteConversation(id)
}

// QueueLen exposes the retry queue depth for UI badges and tests.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len()
}

// QueueEntries returns a copy of the retry queue.
func (e *Engine) QueueEntries() []RetryQueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.snapshot()
}

func (e *Engine) State() model.SyncState {
	return e.store.State()
}

func (e *Engine) findConversation(id string) *model.Conversation {
	for _, c := range e.store.Conversations() {
		if c.ID == id {
			out := c
			return &out
		}
	}
	return nil
}

func (e *Engine) publishState(st model.SyncState) {
	if e.publisher == nil {
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := e.publisher.Publish(StateTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		e.logger.Debug().Err(err).Msg("failed to publish sync state")
	}
}
