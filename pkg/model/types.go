package model

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// MessageType distinguishes text turns from audio turns.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageAudio MessageType = "audio"
)

// Conversation is a tutoring session. The id is client-provisional until the
// server has persisted the row once; after that it is stable.
type Conversation struct {
	ID              string     `json:"id"`
	ProfileID       string     `json:"profileId"`
	Topic           *string    `json:"topic"`
	Title           string     `json:"title"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	MessageCount    int        `json:"messageCount"`
	AvgProsodyScore float64    `json:"avgProsodyScore"`
}

// Message is a single turn half. Messages are immutable after creation except
// for Version, which increments along a retry chain.
type Message struct {
	ID               string      `json:"id"`
	ConversationID   string      `json:"conversationId"`
	Sender           Sender      `json:"sender"`
	Type             MessageType `json:"type"`
	Content          string      `json:"content"`
	AudioURL         *string     `json:"audioUrl,omitempty"`
	RetryOfMessageID *string     `json:"retryOfMessageId,omitempty"`
	Version          int         `json:"version"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Snapshot is the server's canonical view returned by the sync endpoint.
// Sync replaces local state with it wholesale (server wins).
type Snapshot struct {
	Conversations []Conversation `json:"conversations"`
	Messages      []Message      `json:"messages"`
	ServerTime    time.Time      `json:"serverTime"`
}

// SyncState mirrors the client engine's orthogonal status flags. Syncing and
// HasOfflineChanges may co-occur.
type SyncState struct {
	Online            bool       `json:"online"`
	Syncing           bool       `json:"syncing"`
	LastSync          *time.Time `json:"lastSync,omitempty"`
	HasOfflineChanges bool       `json:"hasOfflineChanges"`
}
