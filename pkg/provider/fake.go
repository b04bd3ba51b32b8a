package provider

import (
	"context"
	"sync"
)

// FakeCompletion is a scripted CompletionProvider for tests and local runs
// without an API key. It records every request it sees.
type FakeCompletion struct {
	mu       sync.Mutex
	Reply    string
	Err      error
	Delay    func(ctx context.Context) error
	requests []CompletionRequest
}

var _ CompletionProvider = &FakeCompletion{}

func (f *FakeCompletion) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.Delay != nil {
		if err := f.Delay(ctx); err != nil {
			return nil, err
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	reply := f.Reply
	if reply == "" {
		reply = "That sounds interesting, tell me more."
	}
	return &CompletionResult{ReplyText: reply}, nil
}

func (f *FakeCompletion) Requests() []CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CompletionRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// FakeTranscription returns a fixed transcript.
type FakeTranscription struct {
	Transcript string
	Err        error
}

var _ TranscriptionProvider = &FakeTranscription{}

func (f *FakeTranscription) Transcribe(context.Context, []byte, string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Transcript, nil
}
