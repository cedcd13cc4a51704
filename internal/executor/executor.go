// Package executor runs registered agents with per-attempt timeouts, bounded
// retries, and admin/plan gating, and records exactly one performance-log row
// per invocation. Total failure is reported to the caller as an empty result,
// never as an error: callers render a fallback instead of surfacing a 500.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noria-ai/noria/internal/model"
	"github.com/noria-ai/noria/internal/storage"
	"github.com/noria-ai/noria/internal/telemetry"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultTimeout       = 45 * time.Second
	DefaultMaxRetries    = 2
	DefaultBackoffFirst  = 2 * time.Second
	DefaultBackoffNext   = 5 * time.Second
	DefaultSlowThreshold = 1 * time.Second
)

// Config controls timeout, retry, and slow-call behavior for one Executor.
// Zero durations take the package defaults; MaxRetries < 0 is treated as 0.
type Config struct {
	// Timeout bounds each individual attempt, not the invocation as a whole.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after the first,
	// so an invocation makes at most MaxRetries+1 calls.
	MaxRetries int

	// BackoffFirst is slept before the first retry, BackoffNext before
	// every retry after that. The schedule is fixed, not exponential.
	BackoffFirst time.Duration
	BackoffNext  time.Duration

	// SlowThreshold is the elapsed time above which a completed attempt
	// is logged as a slow call.
	SlowThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffFirst <= 0 {
		c.BackoffFirst = DefaultBackoffFirst
	}
	if c.BackoffNext <= 0 {
		c.BackoffNext = DefaultBackoffNext
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = DefaultSlowThreshold
	}
	return c
}

// Kind distinguishes a normal caller-initiated run from admin-driven ones.
// The kind of a successful run determines its recorded outcome status.
type Kind string

const (
	KindNormal   Kind = "normal"
	KindRerun    Kind = "rerun"
	KindOverride Kind = "override"
)

// Job identifies one agent invocation.
type Job struct {
	AgentName     string
	UserID        int64
	Kind          Kind
	PromptVersion string

	// OverrideReason is recorded when Kind is KindOverride.
	OverrideReason string
}

// AgentCall performs one attempt of the underlying agent work. The executor
// passes a context whose deadline enforces the per-attempt timeout;
// implementations must honor it.
type AgentCall func(ctx context.Context) (string, error)

// Result is what the caller gets back. Text is empty when the run was gated
// or every attempt failed; Status says which.
type Result struct {
	Text     string
	Status   model.OutcomeStatus
	Retries  int
	TimedOut bool
	Fallback bool
	LogID    int64
}

// Store is the slice of storage the executor needs. *storage.DB satisfies it.
type Store interface {
	GetToggle(ctx context.Context, agentName string) (model.AgentToggle, error)
	GetAccessPolicy(ctx context.Context, agentName string, tier model.SubscriptionTier) (model.AgentAccessPolicy, error)
	ResolveTier(ctx context.Context, userID int64) (model.SubscriptionTier, error)
	InsertPerformanceLog(ctx context.Context, rec model.PerformanceLog) (model.PerformanceLog, error)
	AppendLifecycleEvent(ctx context.Context, ev model.LifecycleEvent) (model.LifecycleEvent, error)
}

// FailureRecorder receives exhausted invocations for later triage.
// A nil recorder disables queueing.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, userID int64, agentName, reason string) error
}

// SleepFunc pauses for d or until ctx is done. Injected in tests.
type SleepFunc func(ctx context.Context, d time.Duration)

func defaultSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Executor drives agent invocations. Safe for concurrent use.
type Executor struct {
	cfg      Config
	store    Store
	failures FailureRecorder
	logger   *slog.Logger
	sleep    SleepFunc

	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// New builds an Executor. failures may be nil.
func New(cfg Config, store Store, failures FailureRecorder, logger *slog.Logger) *Executor {
	meter := telemetry.Meter("noria/executor")
	runs, _ := meter.Int64Counter("noria.executor.runs",
		metric.WithDescription("Completed executor invocations by agent and outcome status"),
	)
	duration, _ := meter.Float64Histogram("noria.executor.duration_ms",
		metric.WithDescription("Wall-clock duration of executor invocations"),
		metric.WithUnit("ms"),
	)
	return &Executor{
		cfg:      cfg.withDefaults(),
		store:    store,
		failures: failures,
		logger:   logger,
		sleep:    defaultSleep,
		runs:     runs,
		duration: duration,
	}
}

// SetSleep replaces the inter-retry sleep. Test hook.
func (e *Executor) SetSleep(s SleepFunc) { e.sleep = s }

type attemptTag int

const (
	attemptSuccess attemptTag = iota
	attemptTimedOut
	attemptFailed
)

// Execute runs the job to a terminal outcome and records it. It always
// returns a Result; agent and storage failures are absorbed and logged.
func (e *Executor) Execute(ctx context.Context, job Job, call AgentCall) Result {
	if job.Kind == "" {
		job.Kind = KindNormal
	}
	start := time.Now()
	log := e.logger.With("agent", job.AgentName, "user_id", job.UserID, "kind", string(job.Kind))

	e.appendEvent(ctx, job, model.EventExecutionStarted, map[string]any{
		"kind":           string(job.Kind),
		"prompt_version": job.PromptVersion,
	})

	// Admin gate, then plan gate. Both fail open: a missing row or a
	// storage error never blocks execution.
	if status, gated := e.gate(ctx, job, log); gated {
		return e.finish(ctx, job, log, start, Result{Status: status, Fallback: true}, "")
	}

	var (
		lastTag  attemptTag
		lastErr  error
		timedOut bool
		text     string
	)
	attempts := 0
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.BackoffNext
			if attempt == 1 {
				backoff = e.cfg.BackoffFirst
			}
			log.Info("retrying agent call", "attempt", attempt, "backoff", backoff)
			e.sleep(ctx, backoff)
		}
		attempts++

		var tag attemptTag
		text, tag, lastErr = e.runAttempt(ctx, call)
		lastTag = tag
		if tag == attemptTimedOut {
			timedOut = true
		}
		if tag == attemptSuccess {
			break
		}
		log.Warn("agent attempt failed",
			"attempt", attempt,
			"timed_out", tag == attemptTimedOut,
			"error", lastErr,
		)
		if ctx.Err() != nil {
			// The caller is gone; further retries would burn the
			// backoff schedule for nobody.
			break
		}
	}

	res := Result{
		Retries:  attempts - 1,
		TimedOut: timedOut,
	}
	errMsg := ""
	switch lastTag {
	case attemptSuccess:
		res.Text = text
		res.Status = successStatus(job.Kind)
	case attemptTimedOut:
		res.Status = model.StatusTimeout
		res.Fallback = true
		errMsg = lastErr.Error()
	default:
		res.Status = model.StatusFailed
		res.Fallback = true
		errMsg = lastErr.Error()
	}

	if res.Fallback && e.failures != nil {
		if err := e.failures.RecordFailure(ctx, job.UserID, job.AgentName, errMsg); err != nil {
			log.Error("queue failure for retry", "error", err)
		}
	}

	return e.finish(ctx, job, log, start, res, errMsg)
}

// gate applies the admin toggle and the tier access policy. It returns the
// gated outcome status and true when the run must not execute.
func (e *Executor) gate(ctx context.Context, job Job, log *slog.Logger) (model.OutcomeStatus, bool) {
	toggle, err := e.store.GetToggle(ctx, job.AgentName)
	switch {
	case err == nil:
		if !toggle.Enabled {
			log.Info("agent disabled by admin toggle")
			return model.StatusDisabledByAdmin, true
		}
	case errors.Is(err, storage.ErrNotFound):
		// No toggle row: enabled.
	default:
		log.Warn("toggle lookup failed, allowing execution", "error", err)
	}

	tier, err := e.store.ResolveTier(ctx, job.UserID)
	if err != nil {
		log.Warn("tier resolution failed, allowing execution", "error", err)
		return "", false
	}

	policy, err := e.store.GetAccessPolicy(ctx, job.AgentName, tier)
	switch {
	case err == nil:
		if !policy.IsEnabled {
			log.Info("agent disabled for subscription tier", "tier", tier)
			return model.StatusDisabledByPlan, true
		}
	case errors.Is(err, storage.ErrNotFound):
		// No policy row: enabled for every tier.
	default:
		log.Warn("access policy lookup failed, allowing execution", "error", err)
	}
	return "", false
}

// runAttempt makes one bounded call. The select guards against calls that
// ignore their context: the attempt deadline holds even if call never returns.
func (e *Executor) runAttempt(ctx context.Context, call AgentCall) (string, attemptTag, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type callResult struct {
		text string
		err  error
	}
	done := make(chan callResult, 1)
	go func() {
		text, err := call(attemptCtx)
		done <- callResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.text, attemptSuccess, nil
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return "", attemptTimedOut, res.err
		}
		return "", attemptFailed, res.err
	case <-attemptCtx.Done():
		err := attemptCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", attemptTimedOut, err
		}
		return "", attemptFailed, err
	}
}

// finish records the single performance-log row, the finished lifecycle
// event, and metrics, then returns the result.
func (e *Executor) finish(ctx context.Context, job Job, log *slog.Logger, start time.Time, res Result, errMsg string) Result {
	elapsed := time.Since(start)

	// fallback_triggered stays false in the stored row; Result.Fallback is
	// a transport hint for the caller, not part of the audit record.
	rec := model.PerformanceLog{
		AgentName:       job.AgentName,
		UserID:          job.UserID,
		ExecutionTimeMS: elapsed.Milliseconds(),
		InputTokens:     0,
		OutputTokens:    len(res.Text),
		Status:          res.Status,
		TimeoutOccurred: res.TimedOut,
		Retries:         res.Retries,
	}
	if errMsg != "" {
		rec.ErrorMessage = &errMsg
	}
	if job.PromptVersion != "" {
		rec.PromptVersion = &job.PromptVersion
	}
	if job.Kind == KindOverride {
		rec.OverrideTriggered = true
		if job.OverrideReason != "" {
			rec.OverrideReason = &job.OverrideReason
		}
	}

	saved, err := e.store.InsertPerformanceLog(ctx, rec)
	if err != nil {
		log.Error("record execution outcome", "error", err, "status", rec.Status)
	} else {
		res.LogID = saved.ID
	}

	e.appendEvent(ctx, job, model.EventExecutionFinished, map[string]any{
		"status":      string(res.Status),
		"retries":     res.Retries,
		"timed_out":   res.TimedOut,
		"duration_ms": elapsed.Milliseconds(),
	})

	attrs := metric.WithAttributes(
		attribute.String("agent", job.AgentName),
		attribute.String("status", string(res.Status)),
	)
	e.runs.Add(ctx, 1, attrs)
	e.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)

	if elapsed > e.cfg.SlowThreshold {
		log.Warn("slow agent execution",
			"duration_ms", elapsed.Milliseconds(),
			"status", rec.Status,
			"retries", res.Retries,
		)
	} else {
		log.Info("agent execution finished",
			"duration_ms", elapsed.Milliseconds(),
			"status", rec.Status,
			"retries", res.Retries,
		)
	}
	return res
}

func (e *Executor) appendEvent(ctx context.Context, job Job, eventType string, details map[string]any) {
	_, err := e.store.AppendLifecycleEvent(ctx, model.LifecycleEvent{
		UserID:    job.UserID,
		AgentName: job.AgentName,
		EventType: eventType,
		Details:   details,
	})
	if err != nil {
		e.logger.Warn("append lifecycle event", "event", eventType, "error", err)
	}
}

func successStatus(kind Kind) model.OutcomeStatus {
	switch kind {
	case KindRerun:
		return model.StatusRerun
	case KindOverride:
		return model.StatusOverride
	default:
		return model.StatusSuccess
	}
}
