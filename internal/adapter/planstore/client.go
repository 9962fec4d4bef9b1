// Package planstore provides an HTTP client for the external plan
// store. Plans are persisted per owner; the autosave path in plansync
// commits edits through this client.
package planstore

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
	"github.com/relaywork/cockpit/internal/domain/plan"
	"github.com/relaywork/cockpit/internal/resilience"
)

// Client talks to the plan store API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new plan store client.
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

// ListPlans returns all plans owned by userID.
func (c *Client) ListPlans(ctx context.Context, userID string) ([]plan.SavedPlan, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/plans?user_id="+url.QueryEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	var plans []plan.SavedPlan
	if err := json.Unmarshal(resp, &plans); err != nil {
		return nil, fmt.Errorf("unmarshal plans: %w", err)
	}
	return plans, nil
}

// GetPlan fetches one plan by id, scoped to its owner.
func (c *Client) GetPlan(ctx context.Context, id, userID string) (*plan.SavedPlan, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.planPath(id, userID), nil)
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}

	var p plan.SavedPlan
	if err := json.Unmarshal(resp, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &p, nil
}

// CreatePlan persists a new plan and returns it with its assigned id.
func (c *Client) CreatePlan(ctx context.Context, p plan.SavedPlan) (*plan.SavedPlan, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/plans", body)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	var created plan.SavedPlan
	if err := json.Unmarshal(resp, &created); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &created, nil
}

// UpdatePlan overwrites an existing plan's task and steps.
func (c *Client) UpdatePlan(ctx context.Context, p plan.SavedPlan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPut, c.planPath(p.ID, p.UserID), body); err != nil {
		return fmt.Errorf("update plan %s: %w", p.ID, err)
	}
	return nil
}

// DeletePlan removes a plan by id, scoped to its owner.
func (c *Client) DeletePlan(ctx context.Context, id, userID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, c.planPath(id, userID), nil); err != nil {
		return fmt.Errorf("delete plan %s: %w", id, err)
	}
	return nil
}

func (c *Client) planPath(id, userID string) string {
	return "/plans/" + url.PathEscape(id) + "?user_id=" + url.QueryEscape(userID)
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
			return fmt.Errorf("plan store error %d: %s", resp.StatusCode, string(data))
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
