package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

func testEngine() *Engine {
	policy := BackoffPolicy{
		InitialDelay: 2 * time.Millisecond,
		Factor:       1.5,
		MaxDelay:     20 * time.Millisecond,
	}
	logger := arbor.NewLogger()
	return NewEngine(policy, NewClassifier(logger), logger)
}

func TestPollUntilTerminalCompletes(t *testing.T) {
	engine := testEngine()

	var polls atomic.Int32
	pollFn := func(ctx context.Context, id string) (*interfaces.StatusPayload, error) {
		if polls.Add(1) < 3 {
			return &interfaces.StatusPayload{State: "processing", Progress: 50}, nil
		}
		return &interfaces.StatusPayload{
			State:   "completed",
			Outputs: []models.OutputRef{{Type: "text", Content: "done"}},
		}, nil
	}

	outcome := engine.PollUntilTerminal(context.Background(), "task-1", pollFn, time.Now().Add(time.Minute), nil)

	if outcome.Classification != models.ClassCompleted {
		t.Fatalf("classification = %s, want completed", outcome.Classification)
	}
	if len(outcome.Result) != 1 {
		t.Errorf("result count = %d, want 1", len(outcome.Result))
	}
	if outcome.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", outcome.Attempts)
	}
	if outcome.Progress != 100 {
		t.Errorf("progress = %d, want 100", outcome.Progress)
	}
}

func TestPollUntilTerminalStopsOnTerminalClassifications(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected models.Classification
	}{
		{"auth", interfaces.NewProviderError(interfaces.ProviderErrAuth, 401, "unauthorized", nil), models.ClassAuth},
		{"not found", interfaces.NewProviderError(interfaces.ProviderErrNotFound, 404, "gone", nil), models.ClassNotFound},
		{"terminal", interfaces.NewProviderError(interfaces.ProviderErrTerminal, 500, "broken", nil), models.ClassTerminalFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testEngine()
			var polls atomic.Int32
			pollFn := func(ctx context.Context, id string) (*interfaces.StatusPayload, error) {
				polls.Add(1)
				return nil, tt.err
			}

			outcome := engine.PollUntilTerminal(context.Background(), "task-1", pollFn, time.Now().Add(time.Minute), nil)

			if outcome.Classification != tt.expected {
				t.Errorf("classification = %s, want %s", outcome.Classification, tt.expected)
			}
			if polls.Load() != 1 {
				t.Errorf("poll count = %d, want exactly 1", polls.Load())
			}
			if outcome.ErrorDetail == "" {
				t.Error("expected error detail to be set")
			}
		})
	}
}

func TestPollUntilTerminalDeadline(t *testing.T) {
	engine := testEngine()

	pollFn := func(ctx context.Context, id string) (*interfaces.StatusPayload, error) {
		return &interfaces.StatusPayload{State: "processing"}, nil
	}

	outcome := engine.PollUntilTerminal(context.Background(), "task-1", pollFn, time.Now().Add(30*time.Millisecond), nil)

	if outcome.Classification != models.ClassTerminalFailure {
		t.Fatalf("classification = %s, want terminal_failure", outcome.Classification)
	}
	if outcome.ErrorDetail != "polling timeout" {
		t.Errorf("error detail = %q, want %q", outcome.ErrorDetail, "polling timeout")
	}
}

func TestPollUntilTerminalCancellation(t *testing.T) {
	engine := testEngine()
	ctx, cancel := context.WithCancel(context.Background())

	var polls atomic.Int32
	pollFn := func(pollCtx context.Context, id string) (*interfaces.StatusPayload, error) {
		if polls.Add(1) == 2 {
			cancel()
		}
		return &interfaces.StatusPayload{State: "processing"}, nil
	}

	outcome := engine.PollUntilTerminal(ctx, "task-1", pollFn, time.Now().Add(time.Minute), nil)

	if outcome.Classification != models.ClassCancelled {
		t.Fatalf("classification = %s, want cancelled", outcome.Classification)
	}
}

func TestPollUntilTerminalCancelledBeforeFirstCheck(t *testing.T) {
	engine := testEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var polls atomic.Int32
	pollFn := func(pollCtx context.Context, id string) (*interfaces.StatusPayload, error) {
		polls.Add(1)
		return &interfaces.StatusPayload{State: "processing"}, nil
	}

	outcome := engine.PollUntilTerminal(ctx, "task-1", pollFn, time.Now().Add(time.Minute), nil)

	if outcome.Classification != models.ClassCancelled {
		t.Fatalf("classification = %s, want cancelled", outcome.Classification)
	}
	if polls.Load() != 0 {
		t.Errorf("poll count = %d, want 0", polls.Load())
	}
}

func TestPollUntilTerminalRateLimitedIntervalsIncrease(t *testing.T) {
	policy := BackoffPolicy{
		InitialDelay: 10 * time.Millisecond,
		Factor:       2,
		MaxDelay:     time.Second,
	}
	logger := arbor.NewLogger()
	engine := NewEngine(policy, NewClassifier(logger), logger)

	var pollTimes []time.Time
	var polls int
	pollFn := func(ctx context.Context, id string) (*interfaces.StatusPayload, error) {
		pollTimes = append(pollTimes, time.Now())
		polls++
		if polls <= 3 {
			return nil, interfaces.NewProviderError(interfaces.ProviderErrRateLimited, 429, "rate limit", nil)
		}
		return &interfaces.StatusPayload{
			State:   "completed",
			Outputs: []models.OutputRef{{Type: "text", Content: "ok"}},
		}, nil
	}

	outcome := engine.PollUntilTerminal(context.Background(), "task-1", pollFn, time.Now().Add(time.Minute), nil)

	if outcome.Classification != models.ClassCompleted {
		t.Fatalf("classification = %s, want completed", outcome.Classification)
	}
	if len(pollTimes) != 4 {
		t.Fatalf("poll count = %d, want 4", len(pollTimes))
	}

	// Each rate-limited response pushes the next check further out.
	gap1 := pollTimes[1].Sub(pollTimes[0])
	gap2 := pollTimes[2].Sub(pollTimes[1])
	gap3 := pollTimes[3].Sub(pollTimes[2])
	if !(gap2 > gap1 && gap3 > gap2) {
		t.Errorf("gaps between polls not strictly increasing: %v, %v, %v", gap1, gap2, gap3)
	}
}

func TestPollUntilTerminalReportsProgress(t *testing.T) {
	engine := testEngine()

	var polls atomic.Int32
	pollFn := func(ctx context.Context, id string) (*interfaces.StatusPayload, error) {
		n := polls.Add(1)
		if n < 3 {
			return &interfaces.StatusPayload{State: "processing", Progress: int(n * 30)}, nil
		}
		return &interfaces.StatusPayload{
			State:   "completed",
			Outputs: []models.OutputRef{{Type: "video", URI: "gs://bucket/clip.mp4"}},
		}, nil
	}

	var reported []int
	outcome := engine.PollUntilTerminal(context.Background(), "task-1", pollFn, time.Now().Add(time.Minute), func(p int) {
		reported = append(reported, p)
	})

	if outcome.Classification != models.ClassCompleted {
		t.Fatalf("classification = %s, want completed", outcome.Classification)
	}
	if len(reported) < 2 {
		t.Fatalf("progress callback fired %d times, want at least 2", len(reported))
	}
	if reported[0] != 30 || reported[1] != 60 {
		t.Errorf("reported progress = %v, want [30 60 ...]", reported)
	}
}
