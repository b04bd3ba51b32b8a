package provider

import (
	"context"

	"github.com/pkg/errors"
)

// ErrTimeout marks a completion call that exceeded its budget. Retryable.
var ErrTimeout = errors.New("provider: upstream timeout")

// CompletionRequest carries one prompt pair to the model.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
}

// CompletionResult is the provider's reply. Topic, Feedback and Tags are
// optional enrichments some providers return alongside the reply text.
type CompletionResult struct {
	ReplyText string
	Feedback  string
	Tags      []string
	Topic     string
}

// CompletionProvider produces the tutor's reply for a turn. Implementations
// must honor ctx cancellation so a stuck upstream cannot hold a request open.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// TranscriptionProvider converts captured audio into text.
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}
