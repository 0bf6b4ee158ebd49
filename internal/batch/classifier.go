package batch

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// Classifier labels provider responses and errors so the polling engine can
// decide whether to retry, back off, or stop. Rules are evaluated in a fixed
// precedence order; the first match wins.
type Classifier struct {
	logger arbor.ILogger
}

// NewClassifier creates a classifier that logs unrecognized payloads.
func NewClassifier(logger arbor.ILogger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify labels a poll result. Exactly one of payload or err is expected to
// be non-nil; when both are nil the result is treated as still in progress.
func (c *Classifier) Classify(payload *interfaces.StatusPayload, err error) models.Classification {
	if err != nil {
		return c.classifyError(err)
	}
	if payload != nil {
		return c.classifyPayload(payload)
	}
	c.logger.Warn().Msg("Poll returned neither payload nor error, treating as in progress")
	return models.ClassInProgress
}

func (c *Classifier) classifyPayload(payload *interfaces.StatusPayload) models.Classification {
	state := strings.ToLower(strings.TrimSpace(payload.State))

	switch state {
	case "completed", "succeeded", "done", "ended":
		if len(payload.Outputs) > 0 {
			return models.ClassCompleted
		}
		// A terminal status without outputs is not trustworthy; keep
		// polling until the deadline resolves it.
		c.logger.Warn().
			Str("state", payload.State).
			Msg("Provider reported completion with no outputs, continuing to poll")
		return models.ClassInProgress
	case "failed", "error", "errored":
		return models.ClassTerminalFailure
	case "pending", "processing", "running", "queued", "in_progress", "accepted":
		return models.ClassInProgress
	}

	c.logger.Warn().
		Str("state", payload.State).
		Msg("Unrecognized provider status, treating as in progress")
	return models.ClassInProgress
}

func (c *Classifier) classifyError(err error) models.Classification {
	var provErr *interfaces.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Kind {
		case interfaces.ProviderErrNetwork:
			return models.ClassNetwork
		case interfaces.ProviderErrAuth:
			return models.ClassAuth
		case interfaces.ProviderErrNotFound:
			return models.ClassNotFound
		case interfaces.ProviderErrRateLimited:
			return models.ClassRateLimited
		case interfaces.ProviderErrTerminal:
			return models.ClassTerminalFailure
		}
	}

	if isNetworkError(err) {
		return models.ClassNetwork
	}

	// Fallback for errors that escaped the adapter boundary untyped.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "unauthenticated") ||
		strings.Contains(msg, "permission denied") || strings.Contains(msg, "invalid api key"):
		return models.ClassAuth
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return models.ClassNotFound
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota exceeded"):
		return models.ClassRateLimited
	}

	c.logger.Warn().
		Err(err).
		Msg("Unclassified provider error, treating as in progress")
	return models.ClassInProgress
}

// isNetworkError reports whether err is a transport-level failure such as a
// connection reset, DNS failure, or dial timeout.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
