// Package client implements the network boundary of the sync engine over the
// tutor's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/InnNhi24/vibetune/pkg/model"
	"github.com/InnNhi24/vibetune/pkg/syncengine"
	"github.com/InnNhi24/vibetune/pkg/webtutor"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to a vibetune server. It implements syncengine.API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

var _ syncengine.API = (*Client)(nil)

type Config struct {
	BaseURL string
	// HTTPClient overrides the default client; nil gets a 10s timeout.
	HTTPClient *http.Client
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("client: base URL must not be empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrapf(err, "client: invalid base URL %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		baseURL: base,
		http:    hc,
		logger:  log.With().Str("component", "client").Logger(),
	}, nil
}

// SubmitTurn posts one user turn and returns the server's canonical answer.
func (c *Client) SubmitTurn(ctx context.Context, sub syncengine.TurnSubmission) (*syncengine.TurnOutcome, error) {
	body := webtutor.TurnRequest{
		Text:           sub.Message.Content,
		Stage:          sub.Stage,
		Topic:          sub.Topic,
		ConversationID: sub.Message.ConversationID,
		TurnCount:      sub.TurnCount,
		ProfileID:      sub.ProfileID,
		MessageID:      sub.Message.ID,
	}
	if sub.Message.AudioURL != nil {
		body.AudioURL = *sub.Message.AudioURL
	}

	var resp webtutor.TurnResponse
	if err := c.postJSON(ctx, "/api/turn", body, &resp); err != nil {
		return nil, err
	}
	return &syncengine.TurnOutcome{
		ConversationID:      resp.ConversationID,
		ReplyText:           resp.ReplyText,
		Topic:               resp.Topic,
		Stage:               resp.Stage,
		NextStage:           resp.NextStage,
		AIMessageID:         resp.AIMessageID,
		PersistenceDisabled: resp.PersistenceDisabled,
	}, nil
}

// FetchSnapshot pulls the full server-side state for one profile.
func (c *Client) FetchSnapshot(ctx context.Context, profileID string) (*model.Snapshot, error) {
	u := c.baseURL + "/api/sync"
	if profileID != "" {
		u += "?profileId=" + url.QueryEscape(profileID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build snapshot request")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch snapshot")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, c.statusError(res)
	}
	var snap model.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &snap, nil
}

// DeleteConversation removes a conversation on the server.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	u := c.baseURL + "/api/conversations/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return errors.Wrap(err, "build delete request")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "delete conversation")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return c.statusError(res)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "build request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return c.statusError(res)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(res.Body).Decode(out), "decode response from %s", path)
}

// statusError turns a non-200 response into an error carrying the server's
// message when one is present.
func (c *Client) statusError(res *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return errors.Errorf("server returned %d: %s", res.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", res.StatusCode)
}
