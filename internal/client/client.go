// Package client calls a claimdesk server's agent endpoints. Client satisfies
// session.Agent, so a conversation session can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// Client is a REST client for the agent workflow.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	acceptRetries int
	backoff       time.Duration
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithAcceptRetries sets how many times a failed accept is retried.
func WithAcceptRetries(n int) Option {
	return func(c *Client) { c.acceptRetries = max(n, 0) }
}

// WithBackoff sets the delay before the first accept retry; later retries wait longer.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithLogger sets the logger for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL (e.g. http://127.0.0.1:8000).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 5 * time.Minute},
		acceptRetries: 2,
		backoff:       200 * time.Millisecond,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Message string `json:"message"`
}

type acceptRequest struct {
	Proposal *proposal.Proposal `json:"proposal"`
}

type proposalsResponse struct {
	Proposals []*proposal.Proposal `json:"proposals"`
}

// errorBody is the server's error envelope.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// Chat is never retried: a second generation may give a different answer.
func (c *Client) Chat(ctx context.Context, claimID int64, message string) ([]*proposal.Proposal, error) {
	var out proposalsResponse
	if err := c.post(ctx, fmt.Sprintf("/claims/%d/agent/chat", claimID), chatRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Proposals), nil
}

// GenerateSummary is never retried.
func (c *Client) GenerateSummary(ctx context.Context, claimID int64) ([]*proposal.Proposal, error) {
	var out proposalsResponse
	if err := c.post(ctx, fmt.Sprintf("/claims/%d/agent/generate-summary", claimID), nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Proposals), nil
}

// Accept retries on transport failures and retryable server errors. A retry
// after an attempt that did apply fails with CONFLICT rather than applying twice.
func (c *Client) Accept(ctx context.Context, claimID int64, p *proposal.Proposal) (*proposal.Applied, error) {
	path := fmt.Sprintf("/claims/%d/agent/accept", claimID)

	var lastErr error
	for attempt := 0; attempt <= c.acceptRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying accept", "attempt", attempt+1, "target", p.TargetName, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		var out proposal.Applied
		err := c.post(ctx, path, acceptRequest{Proposal: p}, &out)
		if err == nil {
			return &out, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewInternal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: err}
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewInternal(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// decodeError turns an error response into a DeskError carrying the server's detail verbatim.
func decodeError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Detail == "" {
		body.Detail = strings.TrimSpace(string(data))
		if body.Detail == "" {
			body.Detail = http.StatusText(status)
		}
	}
	code := errors.ErrorCode(body.Code)
	if code == "" {
		code = codeForStatus(status)
	}
	return &errors.DeskError{Code: code, Status: status, Message: body.Detail}
}

func codeForStatus(status int) errors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return errors.ErrInvalidRequest
	case http.StatusNotFound:
		return errors.ErrNotFound
	case http.StatusConflict:
		return errors.ErrConflict
	case http.StatusGone:
		return errors.ErrSessionClosed
	case http.StatusRequestEntityTooLarge:
		return errors.ErrPayloadTooLarge
	case http.StatusUnprocessableEntity:
		return errors.ErrUnsupportedTarget
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return errors.ErrStorageUnavailable
	}
	return errors.ErrInternal
}

// transportError is a failure to get any response from the server.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "server unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	if _, ok := err.(*transportError); ok {
		return true
	}
	return errors.Retryable(err)
}

func nonNil(ps []*proposal.Proposal) []*proposal.Proposal {
	if ps == nil {
		return []*proposal.Proposal{}
	}
	return ps
}
