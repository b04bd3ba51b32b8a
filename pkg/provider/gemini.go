package provider

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini-backed providers.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini implements CompletionProvider and TranscriptionProvider on the
// google genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

var (
	_ CompletionProvider    = &Gemini{}
	_ TranscriptionProvider = &Gemini{}
)

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "gemini: create client")
	}
	return &Gemini{
		client: client,
		model:  model,
		logger: log.With().Str("component", "gemini").Str("model", model).Logger(),
	}, nil
}

func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("gemini: client is not initialized")
	}
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.UserPrompt), cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, errors.Wrap(err, "gemini: generate content")
	}
	text := strings.TrimSpace(resp.Text())
	g.logger.Debug().Int("reply_len", len(text)).Msg("completion finished")
	return &CompletionResult{ReplyText: text}, nil
}

func (g *Gemini) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("gemini: client is not initialized")
	}
	if len(audio) == 0 {
		return "", errors.New("gemini: empty audio payload")
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "audio/wav"
	}
	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText("Transcribe this audio verbatim. Reply with the transcript only."),
		genai.NewPartFromBytes(audio, mimeType),
	}, genai.RoleUser)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{content}, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", errors.Wrap(err, "gemini: transcribe")
	}
	return strings.TrimSpace(resp.Text()), nil
}
