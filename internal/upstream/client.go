// Package upstream is the REST client for the question-bank data service.
// Calls are sequential and never retried.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"qbank/api/internal/store"
)

// ErrUnavailable reports a call that never produced a usable response:
// transport failure, timeout, or an undecodable body.
var ErrUnavailable = errors.New("upstream unavailable")

// StatusError is a non-2xx response that has no more specific mapping.
type StatusError struct {
	Op     string
	Status int
	Body   json.RawMessage
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream returned status %d", e.Op, e.Status)
}

// Observer receives one callback per upstream call.
type Observer interface {
	ObserveUpstream(op, outcome string, elapsed time.Duration)
}

type Client struct {
	baseURL  string
	http     *http.Client
	observer Observer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ store.Backend = (*Client)(nil)

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	out    any
}

func (c *Client) do(ctx context.Context, cl call) (err error) {
	started := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveUpstream(cl.op, outcome(err), time.Since(started))
		}
	}()

	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var reader io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", cl.op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor, ok := store.ActorFromContext(ctx); ok {
		if actor.UserAgent != "" {
			req.Header.Set("User-Agent", actor.UserAgent)
		}
		if actor.IPAddress != "" {
			req.Header.Set("X-Forwarded-For", actor.IPAddress)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", cl.op, ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w: %w", cl.op, ErrUnavailable, err)
	}

	log.FromContext(ctx).Debug("upstream call", "op", cl.op, "method", cl.method, "path", cl.path, "status", resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, cl.out); err != nil {
			return fmt.Errorf("%s: decode response: %w: %w", cl.op, ErrUnavailable, err)
		}
		return nil
	}
	return statusError(cl.op, resp.StatusCode, raw)
}

// statusError maps a data-service error response onto the store error
// taxonomy. FastAPI reports errors as {"detail": ...}.
func statusError(op string, status int, raw []byte) error {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	_ = json.Unmarshal(raw, &envelope)

	switch status {
	case http.StatusNotFound:
		var message string
		if err := json.Unmarshal(envelope.Detail, &message); err != nil || message == "" {
			message = op
		}
		return store.NotFound("%s", message)
	case http.StatusUnprocessableEntity:
		detail := envelope.Detail
		if len(detail) == 0 {
			detail = json.RawMessage(raw)
		}
		return &store.ValidationError{Message: op + ": validation failed", Detail: detail}
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", op, store.ErrConflict)
	default:
		body := json.RawMessage(raw)
		if !json.Valid(raw) {
			quoted, _ := json.Marshal(string(raw))
			body = quoted
		}
		return &StatusError{Op: op, Status: status, Body: body}
	}
}

func outcome(err error) string {
	var statusErr *StatusError
	var validationErr *store.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("status_%d", statusErr.Status)
	default:
		return "error"
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, call{op: "ping", method: http.MethodGet, path: "/openapi.json"})
}
