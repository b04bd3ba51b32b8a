package webtutor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/InnNhi24/vibetune/pkg/model"
	"github.com/InnNhi24/vibetune/pkg/persistence/convstore"
	"github.com/InnNhi24/vibetune/pkg/provider"
	"github.com/InnNhi24/vibetune/pkg/stages"
	"github.com/InnNhi24/vibetune/pkg/topic"
)

// completionTimeout is the hard budget for one provider call. A slow upstream
// fails the turn with provider.ErrTimeout rather than holding the request.
const completionTimeout = 9 * time.Second

// TurnEventTopic is the stream topic turn results are published on.
const TurnEventTopic = "turns"

// TurnRequest is the wire shape of one submitted turn.
type TurnRequest struct {
	Text           string   `json:"text"`
	Stage          string   `json:"stage"`
	Topic          string   `json:"topic,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	TurnCount      int      `json:"turnCount,omitempty"`
	AudioURL       string   `json:"audioUrl,omitempty"`
	ProfileID      string   `json:"profileId,omitempty"`
	MessageID      string   `json:"messageId,omitempty"`
	LastMistakes   []string `json:"lastMistakes,omitempty"`
}

// TurnResponse is what the client merges back into local state.
type TurnResponse struct {
	ReplyText           string  `json:"replyText"`
	Topic               *string `json:"topic"`
	Stage               string  `json:"stage"`
	NextStage           string  `json:"nextStage"`
	ConversationID      string  `json:"conversationId"`
	AIMessageID         string  `json:"aiMessageId,omitempty"`
	PersistenceDisabled bool    `json:"persistenceDisabled,omitempty"`
}

// TurnService orchestrates one turn: validation, prompt selection, the
// completion call, topic resolution, the stage transition, and persistence.
type TurnService struct {
	gateway   *convstore.Gateway
	completer provider.CompletionProvider
	resolver  *topic.Resolver
	publisher message.Publisher
	timeout   time.Duration
	logger    zerolog.Logger
}

type TurnServiceConfig struct {
	Gateway   *convstore.Gateway
	Completer provider.CompletionProvider
	Resolver  *topic.Resolver
	Publisher message.Publisher
	// Timeout overrides the provider budget; zero means completionTimeout.
	Timeout time.Duration
}

func NewTurnService(cfg TurnServiceConfig) (*TurnService, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("turn service: gateway is nil")
	}
	if cfg.Completer == nil {
		return nil, errors.New("turn service: completion provider is nil")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = topic.NewResolver()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = completionTimeout
	}
	return &TurnService{
		gateway:   cfg.Gateway,
		completer: cfg.Completer,
		resolver:  resolver,
		publisher: cfg.Publisher,
		timeout:   timeout,
		logger:    log.With().Str("component", "webtutor").Logger(),
	}, nil
}

// HandleTurn runs one turn end to end. Validation failures happen before any
// side effect; persistence failures degrade instead of failing the turn.
func (s *TurnService) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, validationf("text must not be empty")
	}
	stage, err := stages.Parse(req.Stage)
	if err != nil {
		return nil, validationf("invalid stage %q", req.Stage)
	}

	// Provisional client ids are not UUID-shaped; mint the canonical id here
	// and let the client reconcile against the response.
	convID := strings.TrimSpace(req.ConversationID)
	if _, err := uuid.Parse(convID); err != nil {
		convID = uuid.NewString()
	}

	turnLog := s.logger.With().Str("conversation_id", convID).Str("stage", string(stage)).Logger()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.completer.Complete(cctx, provider.CompletionRequest{
		SystemPrompt: stages.SystemPrompt(stage, req.Topic, req.LastMistakes),
		UserPrompt:   text,
	})
	if err != nil {
		if errors.Is(err, provider.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			turnLog.Warn().Msg("completion provider exceeded its budget")
			return nil, provider.ErrTimeout
		}
		return nil, errors.Wrap(err, "completion call")
	}

	resolution := s.resolver.Resolve(result.ReplyText, text, req.Topic)
	replyText := stripTopicMarker(result.ReplyText)
	nextStage := stages.Next(stage, req.TurnCount, text)

	resp := &TurnResponse{
		ReplyText:      replyText,
		Stage:          string(stage),
		NextStage:      string(nextStage),
		ConversationID: convID,
	}
	if resolution.Source != topic.SourceNone {
		t := resolution.Topic
		resp.Topic = &t
	}

	resp.PersistenceDisabled = s.persistTurn(ctx, req, resp, stage, nextStage)
	s.publishTurnEvent(resp)

	turnLog.Info().
		Str("next_stage", string(nextStage)).
		Bool("persistence_disabled", resp.PersistenceDisabled).
		Msg("turn completed")
	return resp, nil
}

// persistTurn writes the user message, the tutor reply, and the conversation
// row. It reports true when any write was degraded.
func (s *TurnService) persistTurn(ctx context.Context, req TurnRequest, resp *TurnResponse, stage, nextStage stages.Stage) bool {
	now := time.Now()
	degraded := false

	userMsgID := strings.TrimSpace(req.MessageID)
	if userMsgID == "" {
		userMsgID = uuid.NewString()
	}
	userMsg := model.Message{
		ID:             userMsgID,
		ConversationID: resp.ConversationID,
		Sender:         model.SenderUser,
		Type:           model.MessageText,
		Content:        strings.TrimSpace(req.Text),
		Version:        1,
		CreatedAt:      now,
	}
	if a := strings.TrimSpace(req.AudioURL); a != "" {
		userMsg.Type = model.MessageAudio
		userMsg.AudioURL = &a
	}
	if res := s.gateway.UpsertMessage(ctx, userMsg); res.Degraded {
		degraded = true
	}

	aiMsg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: resp.ConversationID,
		Sender:         model.SenderAI,
		Type:           model.MessageText,
		Content:        resp.ReplyText,
		Version:        1,
		CreatedAt:      now,
	}
	if res := s.gateway.UpsertMessage(ctx, aiMsg); res.Degraded {
		degraded = true
	}
	resp.AIMessageID = aiMsg.ID

	if prof := strings.TrimSpace(req.ProfileID); prof != "" {
		if res := s.gateway.UpsertConversation(ctx, model.Conversation{
			ID:        resp.ConversationID,
			ProfileID: prof,
			Topic:     resp.Topic,
			Title:     titleOrDefault(resp.Topic),
			StartedAt: now,
		}); res.Degraded {
			degraded = true
		}
	}

	patch := convstore.ConversationPatch{}
	if resp.Topic != nil {
		patch.Topic = resp.Topic
		title := *resp.Topic
		patch.Title = &title
	}
	if nextStage == stages.StageDone {
		ended := now
		patch.EndedAt = &ended
		// The wrapup turn carries the one allowed topic overwrite.
		patch.TopicFinal = stage == stages.StageWrapup && patch.Topic != nil
	}
	if patch.Topic != nil || patch.EndedAt != nil {
		if res := s.gateway.PatchConversation(ctx, resp.ConversationID, patch); res.Degraded {
			degraded = true
		}
	}
	return degraded
}

func (s *TurnService) publishTurnEvent(resp *TurnResponse) {
	if s.publisher == nil || resp == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"conversationId": resp.ConversationID,
		"stage":          resp.Stage,
		"nextStage":      resp.NextStage,
		"topic":          resp.Topic,
		"aiMessageId":    resp.AIMessageID,
	})
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.publisher.Publish(TurnEventTopic, msg); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish turn event")
	}
}

func titleOrDefault(topic *string) string {
	if topic != nil && strings.TrimSpace(*topic) != "" {
		return *topic
	}
	return convstore.PlaceholderTitle
}

func stripTopicMarker(reply string) string {
	idx := strings.Index(reply, "[TOPIC:")
	if idx < 0 {
		return strings.TrimSpace(reply)
	}
	end := strings.Index(reply[idx:], "]")
	if end < 0 {
		return strings.TrimSpace(reply)
	}
	return strings.TrimSpace(reply[:idx] + reply[idx+end+1:])
}
