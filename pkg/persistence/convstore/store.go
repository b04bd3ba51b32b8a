package convstore

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/InnNhi24/vibetune/pkg/model"
)

// ErrNotFound is returned by reads when no row matches.
var ErrNotFound = errors.New("convstore: not found")

// PlaceholderTitle is the title given to auto-created conversation rows.
const PlaceholderTitle = "New Conversation"

// ConversationPatch carries the mutable subset of a conversation. Nil fields
// are left untouched. TopicFinal marks the terminal wrapup-time update, the
// only point at which a confirmed topic may be replaced.
type ConversationPatch struct {
	Topic           *string
	Title           *string
	EndedAt         *time.Time
	AvgProsodyScore *float64
	TopicFinal      bool
}

// Store is the relational backing for conversations and messages. Upserts are
// keyed by primary id with conflict-replace semantics and are safe to repeat
// with identical input.
type Store interface {
	UpsertConversation(ctx context.Context, c model.Conversation) error
	UpsertMessage(ctx context.Context, m model.Message) error
	PatchConversation(ctx context.Context, id string, patch ConversationPatch) error
	DeleteConversation(ctx context.Context, id string) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, profileID string) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	Close() error
}
