package direct

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/llm"
	"translator-backend/internal/shared/telemetry"
)

const (
	retryBaseDelay = 300 * time.Millisecond
	maxAttempts    = 3
)

type retryingTranslator struct {
	base  llm.Translator
	jobID string
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetryingTranslator(base llm.Translator, jobID string) llm.Translator {
	return retryingTranslator{base: base, jobID: jobID, sleep: sleepCtx}
}

func (r retryingTranslator) TranslateUnit(ctx context.Context, input llm.TranslateInput) (string, error) {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := r.base.TranslateUnit(ctx, input)
		if err == nil || !shouldRetry(err) || attempt == maxAttempts {
			return out, err
		}
		lastErr = err
		telemetry.Warn("direct.translate.retry", map[string]any{
			"job_id":  r.jobID,
			"unit_id": input.UnitID,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
		delay *= 2
	}
	return "", lastErr
}

func shouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, transient := range []string{"connection reset", "connection refused", "broken pipe", "tls handshake timeout", "eof"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
