package webtutor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/InnNhi24/vibetune/pkg/model"
	"github.com/InnNhi24/vibetune/pkg/persistence/convstore"
	"github.com/InnNhi24/vibetune/pkg/provider"
	"github.com/InnNhi24/vibetune/pkg/ratelimit"
)

// maxTranscribeBytes caps uploaded audio payloads.
const maxTranscribeBytes = 8 << 20

// Router wires the HTTP surface: turn submission, sync snapshots,
// conversation CRUD, transcription, and the websocket event feed.
type Router struct {
	baseCtx     context.Context
	mux         *http.ServeMux
	turns       *TurnService
	gateway     *convstore.Gateway
	limiter     *ratelimit.Limiter
	transcriber provider.TranscriptionProvider
	backend     StreamBackend
	pool        *ConnectionPool
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

type RouterConfig struct {
	BaseCtx     context.Context
	Turns       *TurnService
	Gateway     *convstore.Gateway
	Limiter     *ratelimit.Limiter
	Transcriber provider.TranscriptionProvider
	Backend     StreamBackend
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("router: base context is nil")
	}
	if cfg.Turns == nil {
		return nil, errors.New("router: turn service is nil")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("router: gateway is nil")
	}
	r := &Router{
		baseCtx:     cfg.BaseCtx,
		mux:         http.NewServeMux(),
		turns:       cfg.Turns,
		gateway:     cfg.Gateway,
		limiter:     cfg.Limiter,
		transcriber: cfg.Transcriber,
		backend:     cfg.Backend,
		pool:        NewConnectionPool(),
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:      log.With().Str("component", "webtutor").Logger(),
	}
	r.mux.HandleFunc("POST /api/turn", r.handleTurn)
	r.mux.HandleFunc("GET /api/sync", r.handleSync)
	r.mux.HandleFunc("POST /api/conversations", r.handleUpsertConversation)
	r.mux.HandleFunc("DELETE /api/conversations/{id}", r.handleDeleteConversation)
	r.mux.HandleFunc("POST /api/transcribe", r.handleTranscribe)
	r.mux.HandleFunc("GET /ws", r.handleWS)
	r.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if r.backend != nil {
		if err := r.startForwarder(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Router) Handler() http.Handler { return r.mux }

func (r *Router) Close() {
	if r == nil {
		return
	}
	r.pool.CloseAll()
}

// startForwarder subscribes to the turn event feed and fans events out to
// websocket clients.
func (r *Router) startForwarder() error {
	ch, err := r.backend.Subscriber().Subscribe(r.baseCtx, TurnEventTopic)
	if err != nil {
		return errors.Wrap(err, "subscribe to turn events")
	}
	go func() {
		for msg := range ch {
			r.pool.Broadcast(msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

func (r *Router) handleTurn(w http.ResponseWriter, req *http.Request) {
	var body TurnRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}
	if d := r.allow(req, body.ProfileID); !d.Allowed {
		w.Header().Set("Retry-After", retryAfterSeconds(d.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
		return
	}

	resp, err := r.turns.HandleTurn(req.Context(), body)
	if err != nil {
		var ve *ValidationError
		switch {
		case errors.As(err, &ve):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Msg})
		case errors.Is(err, provider.ErrTimeout):
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "completion provider timed out", "retryable": true})
		default:
			r.logger.Error().Err(err).Msg("turn failed")
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "turn failed"})
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleSync(w http.ResponseWriter, req *http.Request) {
	profileID := strings.TrimSpace(req.URL.Query().Get("profileId"))
	snap, err := r.gateway.Snapshot(req.Context(), profileID)
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "persistence unavailable"})
			return
		}
		r.logger.Error().Err(err).Msg("snapshot failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "snapshot failed"})
		return
	}
	snap.ServerTime = time.Now()
	writeJSON(w, http.StatusOK, snap)
}

func (r *Router) handleUpsertConversation(w http.ResponseWriter, req *http.Request) {
	var c model.Conversation
	if err := json.NewDecoder(req.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(c.ID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing conversation id"})
		return
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	res := r.gateway.UpsertConversation(req.Context(), c)
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId":      c.ID,
		"persistenceDisabled": res.Degraded,
	})
}

func (r *Router) handleDeleteConversation(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	res := r.gateway.DeleteConversation(req.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId":      id,
		"localOnly":           res.LocalOnly,
		"persistenceDisabled": res.Degraded,
	})
}

func (r *Router) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	if r.transcriber == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "transcription not configured"})
		return
	}
	audio, err := io.ReadAll(io.LimitReader(req.Body, maxTranscribeBytes))
	if err != nil || len(audio) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing audio payload"})
		return
	}
	text, err := r.transcriber.Transcribe(req.Context(), audio, req.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, provider.ErrTimeout) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "transcription timed out", "retryable": true})
			return
		}
		r.logger.Error().Err(err).Msg("transcription failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "transcription failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text})
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.pool.Add(conn)
	wsLog := r.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	wsLog.Debug().Msg("ws attached")
	go func() {
		defer r.pool.Remove(conn)
		defer wsLog.Debug().Msg("ws detached")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *Router) allow(req *http.Request, profileID string) ratelimit.Decision {
	if r.limiter == nil {
		return ratelimit.Decision{Allowed: true}
	}
	key := strings.TrimSpace(profileID)
	if key == "" {
		key = req.RemoteAddr
	}
	return r.limiter.Allow(req.Context(), key)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
