package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrSessionExpired means the upstream rejected the session token, or the
	// token is a JWT whose exp has passed.
	ErrSessionExpired = errors.New("dashboard: session expired")
	// ErrTransport covers network failures and unexpected upstream statuses.
	ErrTransport = errors.New("dashboard: upstream unavailable")
	ErrNotFound  = errors.New("dashboard: not found")
)

// ClientConfig describes how to reach the upstream dashboard API.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the upstream dashboard REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	tracer  trace.Tracer
	now     func() time.Time
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("dashboard: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("dashsync.internal.dashboard.client"),
		now:     time.Now,
	}, nil
}

// ListConversations fetches one filtered page of conversations.
func (c *Client) ListConversations(ctx context.Context, params url.Values) (*ListPage, error) {
	path := "/api/dashboard/conversations"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	data, err := c.doRequest(ctx, "dashboard.list_conversations", path)
	if err != nil {
		return nil, err
	}
	var out ListPage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode conversation list: %v", ErrTransport, err)
	}
	if out.Conversations == nil {
		out.Conversations = []ConversationItem{}
	}
	return &out, nil
}

// GetConversation fetches the full detail payload for one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("dashboard: conversation id required")
	}
	data, err := c.doRequest(ctx, "dashboard.get_conversation", "/api/dashboard/conversations/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var out ConversationDetail
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode conversation %s: %v", ErrTransport, id, err)
	}
	return &out, nil
}

// TokenExpired reports whether the configured token is a JWT past its exp.
// Opaque tokens are never considered expired locally.
func (c *Client) TokenExpired() bool {
	if c.token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !c.now().Before(claims.ExpiresAt.Time)
}

func (c *Client) doRequest(ctx context.Context, op, path string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("http.path", path)))
	defer span.End()

	if c.TokenExpired() {
		span.RecordError(ErrSessionExpired)
		return nil, ErrSessionExpired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("dashboard: request build failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrSessionExpired
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s: %s", ErrTransport, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}
