// Package runtimeapi provides an HTTP client for the agent runtime's
// run/session REST store. Runs are seeded from here once per session
// activation, before the channel is opened.
package runtimeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/relaywork/cockpit/internal/domain"
	"github.com/relaywork/cockpit/internal/domain/run"
	"github.com/relaywork/cockpit/internal/domain/session"
	"github.com/relaywork/cockpit/internal/resilience"
)

// Client talks to the runtime's session store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new runtime API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// ListSessions returns all sessions known to the runtime.
func (c *Client) ListSessions(ctx context.Context) ([]session.Session, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []session.Session
	if err := json.Unmarshal(resp, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession creates a session with the given name.
func (c *Client) CreateSession(ctx context.Context, name string) (*session.Session, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("marshal create session: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/sessions", body)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var s session.Session
	if err := json.Unmarshal(resp, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// GetSession fetches a single session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	var s session.Session
	if err := json.Unmarshal(resp, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// GetSessionRuns returns the session's runs, newest last. The latest
// run seeds the local state before a channel is opened.
func (c *Client) GetSessionRuns(ctx context.Context, sessionID string) ([]run.Run, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/runs", nil)
	if err != nil {
		return nil, fmt.Errorf("get session runs %s: %w", sessionID, err)
	}

	var result struct {
		Runs []run.Run `json:"runs"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal runs: %w", err)
	}
	return result.Runs, nil
}

// CreateRun creates a fresh run on the session. Used when a new task is
// started and the session has no run to resume (none yet, or the latest
// already finished).
func (c *Client) CreateRun(ctx context.Context, sessionID string) (*run.Run, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/runs", nil)
	if err != nil {
		return nil, fmt.Errorf("create run for session %s: %w", sessionID, err)
	}

	var r run.Run
	if err := json.Unmarshal(resp, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}

// LatestRun returns the most recent run of a session, or ErrNotFound
// when the session has none.
func (c *Client) LatestRun(ctx context.Context, sessionID string) (*run.Run, error) {
	runs, err := c.GetSessionRuns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	latest := runs[len(runs)-1]
	return &latest, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusNotFound {
			return domain.ErrNotFound
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("runtime API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
