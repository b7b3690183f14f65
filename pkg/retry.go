package pkg

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxCompletionAttempts bounds one-shot inference retries
const MaxCompletionAttempts = 3

var initialBackoff = 1 * time.Second

// Completer is the one-shot side of the inference client
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (*Completion, error)
}

// CompleteWithRetry wraps a one-shot completion with bounded retry and
// exponential backoff. Only transient failures (network errors, timeouts,
// 5xx) are retried; a 4xx would repeat a guaranteed failure and fails fast.
// The last error is surfaced once attempts are exhausted.
func CompleteWithRetry(ctx context.Context, c Completer, prompt string, opts Options) (*Completion, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.RandomizationFactor = 0

	var result *Completion
	op := func() error {
		completion, err := c.Complete(ctx, prompt, opts)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = completion
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, MaxCompletionAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}
