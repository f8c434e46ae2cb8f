package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/cache"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/drift"
	"github.com/clearproof/preflight/internal/evaluate"
	"github.com/clearproof/preflight/internal/match"
	"github.com/clearproof/preflight/internal/metrics"
	"github.com/clearproof/preflight/internal/provider"
	"github.com/clearproof/preflight/internal/reliability"
	"github.com/clearproof/preflight/internal/rules"
	"github.com/clearproof/preflight/internal/safeguard"
)

// Activity retry policy.
const (
	retryInitial    = 1 * time.Second
	retryMax        = 10 * time.Second
	retryAttempts   = 3
	activityTimeout = 30 * time.Second
	popTimeout      = 2 * time.Second
)

// state is the payload passed between activities. Each activity receives a
// copy and returns a new map; an activity never mutates its input.
type state map[string]any

func (s state) clone() state {
	out := make(state, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// activity is one retryable pipeline stage.
type activity struct {
	name string
	run  func(ctx context.Context, task *Task, in state) (state, error)
}

// Worker drains the task queue with a fixed goroutine pool. Stop by
// cancelling the context passed to Run; in-flight tasks finish first.
type Worker struct {
	store   *database.Store
	cache   *cache.Client
	client  *Client
	matcher *match.Matcher
	audit   *audit.Logger
	metrics *metrics.Metrics
	clock   core.Clock
	logger  *slog.Logger

	queue       string
	concurrency int
}

func NewWorker(store *database.Store, c *cache.Client, matcher *match.Matcher, auditLog *audit.Logger, m *metrics.Metrics, clock core.Clock, logger *slog.Logger, queue string, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		store:   store,
		cache:   c,
		client:  NewClient(c, queue),
		matcher: matcher,
		audit:   auditLog,
		metrics: m,
		clock:   clock,
		logger:  logger,

		queue:       queue,
		concurrency: concurrency,
	}
}

// Run blocks until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("workflow worker starting", "queue", w.queue, "concurrency", w.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
	w.logger.Info("workflow worker drained")
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := w.cache.BRPop(ctx, popTimeout, w.queue)
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("queue pop failed", "slot", slot, "error", err)
			time.Sleep(time.Second)
			continue
		}

		task, err := decodeTask(payload)
		if err != nil {
			w.logger.Error("discarding malformed task", "error", err)
			continue
		}
		// The task runs to completion even during shutdown; only the queue
		// pop observes cancellation.
		w.execute(context.WithoutCancel(ctx), task)
	}
}

func decodeTask(payload []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, err
	}
	if t.WorkflowID == "" || t.TenantID == "" {
		return nil, fmt.Errorf("task missing identity fields")
	}
	return &t, nil
}

// execute runs the four scoring activities in sequence, then finalises:
// safeguards, persistence, audit, metrics and the stored result.
func (w *Worker) execute(ctx context.Context, task *Task) {
	start := time.Now()
	w.markRunning(ctx, task)

	st := state{}
	for _, act := range w.activities() {
		next, err := w.runActivity(ctx, act, task, st)
		if err != nil {
			w.fail(ctx, task, fmt.Errorf("activity %s: %w", act.name, err))
			return
		}
		st = next
	}

	resp, err := w.finalize(ctx, task, st, start)
	if err != nil {
		w.fail(ctx, task, err)
		return
	}

	now := w.clock.Now()
	result := &Result{
		WorkflowID:  task.WorkflowID,
		Status:      StatusCompleted,
		Response:    resp,
		CompletedAt: &now,
	}
	if err := w.client.storeResult(ctx, task.TenantID, result); err != nil {
		w.logger.Error("result store failed", "workflow_id", task.WorkflowID, "error", err)
	}
	w.metrics.WorkflowTasks.WithLabelValues("completed").Inc()
}

// runActivity applies the retry policy: exponential backoff from 1s capped
// at 10s, three attempts, 30s per attempt.
func (w *Worker) runActivity(ctx context.Context, act activity, task *Task, in state) (state, error) {
	backoff := retryInitial
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		actCtx, cancel := context.WithTimeout(ctx, activityTimeout)
		out, err := act.run(actCtx, task, in.clone())
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		w.logger.Warn("activity failed",
			"workflow_id", task.WorkflowID, "activity", act.name,
			"attempt", attempt, "error", err)
		if attempt < retryAttempts {
			w.metrics.ActivityRetries.Inc()
			time.Sleep(backoff)
			backoff *= 2
			if backoff > retryMax {
				backoff = retryMax
			}
		}
	}
	return nil, lastErr
}

func (w *Worker) activities() []activity {
	return []activity{
		{name: "match", run: w.activityMatch},
		{name: "drift", run: w.activityDrift},
		{name: "reliability", run: w.activityReliability},
		{name: "rules", run: w.activityRules},
	}
}

// activityMatch resolves the template and the verdict. Later activities
// refetch the template by row id so each stage is independently replayable.
func (w *Worker) activityMatch(ctx context.Context, task *Task, in state) (state, error) {
	out := in.clone()
	err := w.store.WithTenant(ctx, task.TenantID, func(tx *sql.Tx) error {
		t, conf, err := w.matcher.Match(ctx, tx, task.Request.LayoutFingerprint, task.Request.StructuralFeatures, task.TenantID)
		if err != nil {
			return err
		}
		decision := evaluate.Decide(t != nil, conf)
		out["decision"] = string(decision)
		out["confidence"] = conf
		out["matched"] = decision != core.DecisionNew
		if t != nil {
			out["template_row_id"] = t.ID
			out["template_version_id"] = t.VersionID()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Worker) activityDrift(ctx context.Context, task *Task, in state) (state, error) {
	out := in.clone()
	if !in["matched"].(bool) {
		out["drift"] = 0.0
		return out, nil
	}
	t, err := w.fetchTemplate(ctx, task.TenantID, in["template_row_id"].(string))
	if err != nil {
		return nil, err
	}
	out["drift"] = drift.Score(t.StructuralFeatures, task.Request.StructuralFeatures)
	return out, nil
}

func (w *Worker) activityReliability(ctx context.Context, task *Task, in state) (state, error) {
	out := in.clone()
	if !in["matched"].(bool) {
		out["reliability"] = 0.0
		out["provider_known"] = false
		return out, nil
	}

	var (
		t    *database.Template
		prov *database.ExtractorProvider
	)
	err := w.store.WithTenant(ctx, task.TenantID, func(tx *sql.Tx) error {
		var err error
		if t, err = database.GetTemplate(ctx, tx, in["template_row_id"].(string)); err != nil {
			return err
		}
		prov, err = provider.Resolve(ctx, tx, task.Request.ExtractorMetadata.Vendor)
		return err
	})
	if err != nil {
		return nil, err
	}

	out["reliability"] = reliability.Score(reliability.Input{
		Baseline:      t.BaselineReliability,
		Confidence:    task.Request.ExtractorMetadata.Confidence,
		Drift:         in["drift"].(float64),
		ProviderKnown: prov != nil,
	})
	out["provider_known"] = prov != nil
	return out, nil
}

func (w *Worker) activityRules(ctx context.Context, task *Task, in state) (state, error) {
	out := in.clone()
	if !in["matched"].(bool) {
		out["rules"] = []core.CorrectionRule{}
		return out, nil
	}
	t, err := w.fetchTemplate(ctx, task.TenantID, in["template_row_id"].(string))
	if err != nil {
		return nil, err
	}
	out["rules"] = rules.Select(t.CorrectionRules, in["reliability"].(float64))
	return out, nil
}

// finalize persists the evaluation, emits audit and metrics, and builds the
// response. The workflow id is the evaluation id.
func (w *Worker) finalize(ctx context.Context, task *Task, st state, start time.Time) (*core.EvaluateResponse, error) {
	matched := st["matched"].(bool)
	decision := core.Decision(st["decision"].(string))
	driftScore := st["drift"].(float64)
	reliabilityScore := st["reliability"].(float64)
	selectedRules := st["rules"].([]core.CorrectionRule)

	replayHash := evaluate.ReplayHash(task.WorkflowID, task.Request.ClientDocHash, decision)

	var warnings []string
	err := w.store.WithTenant(ctx, task.TenantID, func(tx *sql.Tx) error {
		prov, err := provider.Resolve(ctx, tx, task.Request.ExtractorMetadata.Vendor)
		if err != nil {
			return err
		}
		warnings = safeguard.Check(task.Request.StructuralFeatures, task.Request.ExtractorMetadata, prov)

		record := &database.Evaluation{
			ID:                 task.WorkflowID,
			TenantID:           task.TenantID,
			CorrelationID:      task.Request.ClientCorrelationID,
			DocumentHash:       task.Request.ClientDocHash,
			Decision:           decision,
			CorrectionRules:    selectedRules,
			ExtractorVendor:    task.Request.ExtractorMetadata.Vendor,
			ExtractorModel:     task.Request.ExtractorMetadata.Model,
			ExtractorVersion:   task.Request.ExtractorMetadata.Version,
			ExtractorConf:      task.Request.ExtractorMetadata.Confidence,
			ExtractorLatencyMS: task.Request.ExtractorMetadata.LatencyMS,
			ExtractorCostUSD:   task.Request.ExtractorMetadata.CostUSD,
			ValidationWarnings: warnings,
			ProcessingTimeMS:   float64(time.Since(start)) / float64(time.Millisecond),
			CreatedAt:          w.clock.Now(),
		}
		if matched {
			rowID := st["template_row_id"].(string)
			conf := st["confidence"].(float64)
			record.TemplateID = &rowID
			record.MatchConfidence = &conf
			record.DriftScore = &driftScore
			record.ReliabilityScore = &reliabilityScore
		}
		if prov != nil {
			record.ProviderID = &prov.ID
		}
		return database.InsertEvaluation(ctx, tx, record)
	})
	if err != nil {
		return nil, fmt.Errorf("persist evaluation: %w", err)
	}

	w.audit.Log(ctx, audit.Event{
		Action:       audit.ActionEvaluationRequested,
		TenantID:     task.TenantID,
		ActorID:      task.APIKeyID,
		ResourceType: "evaluation",
		ResourceID:   task.WorkflowID,
		RequestID:    task.RequestID,
		Details: map[string]any{
			"correlation_id":     task.Request.ClientCorrelationID,
			"decision":           string(decision),
			"processing_time_ms": float64(time.Since(start)) / float64(time.Millisecond),
			"workflow":           true,
		},
	})
	w.metrics.ObserveDecision(string(decision), matched, driftScore, reliabilityScore)

	resp := &core.EvaluateResponse{
		Decision:         decision,
		DriftScore:       driftScore,
		ReliabilityScore: reliabilityScore,
		CorrectionRules:  selectedRules,
		ReplayHash:       replayHash,
		EvaluationID:     task.WorkflowID,
		Alerts:           evaluate.BuildAlerts(matched, driftScore, reliabilityScore, warnings),
	}
	if v, ok := st["template_version_id"].(string); ok {
		resp.TemplateVersionID = &v
	}
	return resp, nil
}

func (w *Worker) fetchTemplate(ctx context.Context, tenantID, rowID string) (*database.Template, error) {
	var t *database.Template
	err := w.store.WithTenant(ctx, tenantID, func(tx *sql.Tx) error {
		var err error
		t, err = database.GetTemplate(ctx, tx, rowID)
		return err
	})
	return t, err
}

func (w *Worker) markRunning(ctx context.Context, task *Task) {
	err := w.client.storeResult(ctx, task.TenantID, &Result{
		WorkflowID: task.WorkflowID,
		Status:     StatusRunning,
	})
	if err != nil {
		w.logger.Warn("status update failed", "workflow_id", task.WorkflowID, "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, task *Task, err error) {
	w.logger.Error("workflow failed", "workflow_id", task.WorkflowID, "error", err)
	now := w.clock.Now()
	storeErr := w.client.storeResult(ctx, task.TenantID, &Result{
		WorkflowID:  task.WorkflowID,
		Status:      StatusFailed,
		Error:       err.Error(),
		CompletedAt: &now,
	})
	if storeErr != nil {
		w.logger.Error("failure record store failed", "workflow_id", task.WorkflowID, "error", storeErr)
	}
	w.metrics.WorkflowTasks.WithLabelValues("failed").Inc()
}
