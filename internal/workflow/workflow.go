// Package workflow is the durable evaluation path: requests are queued on
// Redis and a worker pool replays the scoring pipeline as retryable
// activities. Results are stored back in the cache for polling.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clearproof/preflight/internal/cache"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/evaluate"
)

// Terminal and intermediate workflow states.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// resultTTL bounds how long a polled result stays available.
const resultTTL = 24 * time.Hour

// ErrNotFound is returned when a workflow id has no stored state.
var ErrNotFound = errors.New("workflow: not found")

// Task is the queued unit of work. The workflow id doubles as the
// evaluation id so the replay hash is identical on both execution paths.
type Task struct {
	WorkflowID string               `json:"workflow_id"`
	TenantID   string               `json:"tenant_id"`
	APIKeyID   string               `json:"api_key_id"`
	RequestID  string               `json:"request_id"`
	Request    core.EvaluateRequest `json:"request"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

// Result is the stored outcome a client polls for.
type Result struct {
	WorkflowID  string                 `json:"workflow_id"`
	Status      string                 `json:"status"`
	Response    *core.EvaluateResponse `json:"response,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Client submits tasks and polls results.
type Client struct {
	cache *cache.Client
	queue string
}

func NewClient(c *cache.Client, queue string) *Client {
	return &Client{cache: c, queue: queue}
}

// Submit enqueues an evaluation and returns its workflow id immediately.
func (c *Client) Submit(ctx context.Context, p *core.Principal, req *core.EvaluateRequest, requestID string) (string, error) {
	task := Task{
		WorkflowID: evaluate.NewEvaluationID(),
		TenantID:   p.TenantID,
		APIKeyID:   p.APIKeyID,
		RequestID:  requestID,
		Request:    *req,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := c.storeResult(ctx, task.TenantID, &Result{WorkflowID: task.WorkflowID, Status: StatusPending}); err != nil {
		return "", err
	}
	if err := c.cache.LPush(ctx, c.queue, payload); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return task.WorkflowID, nil
}

// Result fetches the current state of a workflow. Tenant scope is enforced
// by the caller comparing the stored tenant id.
func (c *Client) Result(ctx context.Context, workflowID string) (*Result, string, error) {
	raw, err := c.cache.Get(ctx, resultKey(workflowID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("fetch result: %w", err)
	}
	var stored struct {
		TenantID string `json:"tenant_id"`
		Result
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, "", fmt.Errorf("decode result: %w", err)
	}
	return &stored.Result, stored.TenantID, nil
}

func (c *Client) storeResult(ctx context.Context, tenantID string, r *Result) error {
	payload, err := json.Marshal(struct {
		TenantID string `json:"tenant_id"`
		*Result
	}{TenantID: tenantID, Result: r})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.cache.Set(ctx, resultKey(r.WorkflowID), payload, resultTTL); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

func resultKey(workflowID string) string {
	return "workflow:result:" + workflowID
}
