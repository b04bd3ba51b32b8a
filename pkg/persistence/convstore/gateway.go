package convstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/InnNhi24/vibetune/pkg/model"
)

// Result reports how a persistence call was handled. Degraded means the
// operation did not happen because the store is unavailable; the turn still
// goes through. LocalOnly marks deletions of ids the store never issued.
type Result struct {
	Degraded  bool
	LocalOnly bool
}

// Gateway wraps a Store and downgrades its failures to degraded-success
// results so persistence can never block turn delivery. A nil store yields a
// permanently degraded gateway.
type Gateway struct {
	store  Store
	logger zerolog.Logger
}

func NewGateway(store Store) *Gateway {
	return &Gateway{
		store:  store,
		logger: log.With().Str("component", "convstore").Logger(),
	}
}

// Disabled reports whether the gateway has no backing store at all.
func (g *Gateway) Disabled() bool {
	return g == nil || g.store == nil
}

func (g *Gateway) UpsertConversation(ctx context.Context, c model.Conversation) Result {
	if g.Disabled() {
		return Result{Degraded: true}
	}
	if err := g.store.UpsertConversation(ctx, c); err != nil {
		g.logger.Warn().Err(err).Str("conversation_id", c.ID).Msg("upsert conversation degraded")
		return Result{Degraded: true}
	}
	return Result{}
}

func (g *Gateway) UpsertMessage(ctx context.Context, m model.Message) Result {
	if g.Disabled() {
		return Result{Degraded: true}
	}
	if err := g.store.UpsertMessage(ctx, m); err != nil {
		g.logger.Warn().Err(err).Str("message_id", m.ID).Msg("upsert message degraded")
		return Result{Degraded: true}
	}
	return Result{}
}

func (g *Gateway) PatchConversation(ctx context.Context, id string, patch ConversationPatch) Result {
	if g.Disabled() {
		return Result{Degraded: true}
	}
	if err := g.store.PatchConversation(ctx, id, patch); err != nil {
		g.logger.Warn().Err(err).Str("conversation_id", id).Msg("patch conversation degraded")
		return Result{Degraded: true}
	}
	return Result{}
}

// DeleteConversation treats ids the store cannot have issued (anything that
// is not a UUID) as local-only: no round trip, nothing to delete remotely.
func (g *Gateway) DeleteConversation(ctx context.Context, id string) Result {
	if _, err := uuid.Parse(id); err != nil {
		g.logger.Debug().Str("conversation_id", id).Msg("non-uuid id, delete handled locally")
		return Result{LocalOnly: true}
	}
	if g.Disabled() {
		return Result{Degraded: true}
	}
	if err := g.store.DeleteConversation(ctx, id); err != nil {
		g.logger.Warn().Err(err).Str("conversation_id", id).Msg("delete conversation degraded")
		return Result{Degraded: true}
	}
	return Result{}
}

// Snapshot assembles the canonical server view for one profile. Unlike the
// write path it returns errors: sync has nothing useful to do with a partial
// snapshot.
func (g *Gateway) Snapshot(ctx context.Context, profileID string) (*model.Snapshot, error) {
	if g.Disabled() {
		return nil, ErrNotFound
	}
	convs, err := g.store.ListConversations(ctx, profileID)
	if err != nil {
		return nil, err
	}
	snap := &model.Snapshot{Conversations: convs, Messages: []model.Message{}}
	for _, c := range convs {
		msgs, err := g.store.ListMessages(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		snap.Messages = append(snap.Messages, msgs...)
	}
	return snap, nil
}

func (g *Gateway) Close() error {
	if g.Disabled() {
		return nil
	}
	return g.store.Close()
}
