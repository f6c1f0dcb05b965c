// Package workflow runs multi-step jobs with per-step retries and a bounded worker pool.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guidekit/pkg/llm/middleware/retry"
	"guidekit/pkg/logx"
)

// Step is one named unit of a job operating on shared state S.
type Step[S any] struct {
	Name string
	Run  func(ctx context.Context, state *S) error
}

// StepError reports the step that exhausted its attempts.
type StepError struct {
	Err      error
	Step     string
	Attempts int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Observer receives the duration and outcome of every step attempt.
type Observer func(step string, elapsed time.Duration, err error)

// Runner executes steps in order, retrying each failed step.
type Runner[S any] struct {
	backoff  *retry.Policy
	observer Observer
	logger   *logx.Logger
	attempts int
}

// NewRunner creates a runner giving each step up to attempts tries, waiting
// between them according to backoff. A nil backoff retries immediately.
func NewRunner[S any](attempts int, backoff *retry.Policy, observer Observer) *Runner[S] {
	if attempts < 1 {
		attempts = 1
	}
	if backoff == nil {
		backoff = retry.NewPolicy(retry.Config{MaxAttempts: attempts}, nil)
	}
	if observer == nil {
		observer = func(string, time.Duration, error) {}
	}
	return &Runner[S]{
		backoff:  backoff,
		observer: observer,
		logger:   logx.NewLogger("workflow"),
		attempts: attempts,
	}
}

// Attempts returns the per-step attempt limit.
func (r *Runner[S]) Attempts() int {
	return r.attempts
}

// Run executes steps against state. It stops at the first step that fails
// on every attempt and returns a *StepError for it. Cancellation of ctx
// stops the run without further retries.
func (r *Runner[S]) Run(ctx context.Context, steps []Step[S], state *S) error {
	for _, step := range steps {
		if err := r.runStep(ctx, step, state); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner[S]) runStep(ctx context.Context, step Step[S], state *S) error {
	var lastErr error
	attempt := 0
	for attempt < r.attempts {
		attempt++
		if attempt > 1 {
			if err := r.backoff.Wait(ctx, attempt); err != nil {
				return &StepError{Step: step.Name, Attempts: attempt - 1, Err: err}
			}
		}
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name, Attempts: attempt - 1, Err: err}
		}

		start := time.Now()
		err := step.Run(ctx, state)
		r.observer(step.Name, time.Since(start), err)
		if err == nil {
			logx.DebugFlow(ctx, "workflow", step.Name, "ok")
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || IsPermanent(err) {
			break
		}
		if attempt < r.attempts {
			r.logger.Warn("Step %s failed (attempt %d/%d), retrying: %v", step.Name, attempt, r.attempts, err)
		}
	}
	return &StepError{Step: step.Name, Attempts: attempt, Err: lastErr}
}
