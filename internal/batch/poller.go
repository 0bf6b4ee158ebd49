package batch

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// PollFunc checks the status of a previously submitted provider job.
type PollFunc func(ctx context.Context, providerTaskID string) (*interfaces.StatusPayload, error)

// ProgressFunc receives the latest reported completion percentage so the
// caller can surface partial progress before the job reaches a terminal state.
type ProgressFunc func(progress int)

// Engine drives one async provider job to a terminal outcome by repeatedly
// invoking a status check, classifying each result, and sleeping per the
// backoff policy between attempts.
type Engine struct {
	backoff    BackoffPolicy
	classifier *Classifier
	logger     arbor.ILogger
}

// NewEngine creates a polling engine with the given backoff schedule.
func NewEngine(backoff BackoffPolicy, classifier *Classifier, logger arbor.ILogger) *Engine {
	return &Engine{
		backoff:    backoff,
		classifier: classifier,
		logger:     logger,
	}
}

// PollUntilTerminal polls until the job completes, fails permanently, the
// deadline passes, or ctx is cancelled. Cancellation always wins: the returned
// outcome carries classification cancelled and the caller discards any result
// from the in-flight check. The deadline produces a terminal failure with a
// polling timeout message so the batch can continue with its other subtasks.
func (e *Engine) PollUntilTerminal(ctx context.Context, providerTaskID string, pollFn PollFunc, deadline time.Time, onProgress ProgressFunc) *models.PollOutcome {
	log := e.logger.WithCorrelationId(providerTaskID)

	// Providers need a moment to accept the job before the first check.
	if !e.sleep(ctx, e.backoff.InitialDelay) {
		return cancelledOutcome(0)
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return cancelledOutcome(attempt)
		}
		if !time.Now().Before(deadline) {
			log.Warn().
				Int("attempts", attempt).
				Msg("Polling deadline exceeded")
			return &models.PollOutcome{
				Classification: models.ClassTerminalFailure,
				ErrorDetail:    "polling timeout",
				Attempts:       attempt,
			}
		}

		payload, err := pollFn(ctx, providerTaskID)
		if ctx.Err() != nil {
			return cancelledOutcome(attempt)
		}
		classification := e.classifier.Classify(payload, err)

		if payload != nil && onProgress != nil {
			onProgress(payload.Progress)
		}

		switch classification {
		case models.ClassCompleted:
			log.Debug().
				Int("attempts", attempt).
				Int("outputs", len(payload.Outputs)).
				Msg("Provider job completed")
			return &models.PollOutcome{
				Classification: models.ClassCompleted,
				Progress:       100,
				Result:         payload.Outputs,
				Attempts:       attempt,
			}
		case models.ClassTerminalFailure, models.ClassAuth, models.ClassNotFound:
			detail := errorDetail(payload, err)
			log.Warn().
				Str("classification", string(classification)).
				Int("attempts", attempt).
				Str("detail", detail).
				Msg("Provider job failed")
			return &models.PollOutcome{
				Classification: classification,
				ErrorDetail:    detail,
				Attempts:       attempt,
			}
		}

		delay := e.backoff.NextDelay(attempt, classification)
		log.Trace().
			Str("classification", string(classification)).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Provider job not terminal, backing off")

		if !e.sleep(ctx, delay) {
			return cancelledOutcome(attempt)
		}
		attempt++
	}
}

// sleep waits for d or until ctx is cancelled. It reports false on
// cancellation.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func cancelledOutcome(attempts int) *models.PollOutcome {
	return &models.PollOutcome{
		Classification: models.ClassCancelled,
		Attempts:       attempts,
	}
}

func errorDetail(payload *interfaces.StatusPayload, err error) string {
	if err != nil {
		return err.Error()
	}
	if payload != nil && payload.Message != "" {
		return payload.Message
	}
	return "provider reported failure"
}
