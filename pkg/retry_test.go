package pkg

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	attempts int
	script   []error // error per attempt; nil means success
	result   *Completion
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	idx := s.attempts
	s.attempts++
	if idx < len(s.script) && s.script[idx] != nil {
		return nil, s.script[idx]
	}
	return s.result, nil
}

func fastBackoff(t *testing.T) {
	t.Helper()
	prev := initialBackoff
	initialBackoff = time.Millisecond
	t.Cleanup(func() { initialBackoff = prev })
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	fastBackoff(t)
	transient := &UpstreamError{Status: http.StatusBadGateway, Body: "upstream busy"}
	c := &scriptedCompleter{
		script: []error{transient, transient, nil},
		result: &Completion{Text: "Hi there!"},
	}

	got, err := CompleteWithRetry(context.Background(), c, "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", got.Text)
	assert.Equal(t, 3, c.attempts)
}

func TestRetryDoesNotRetryClientErrors(t *testing.T) {
	fastBackoff(t)
	permanent := &UpstreamError{Status: http.StatusBadRequest, Body: "bad prompt"}
	c := &scriptedCompleter{script: []error{permanent, nil}}

	_, err := CompleteWithRetry(context.Background(), c, "hello", Options{})
	require.Error(t, err)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Equal(t, 1, c.attempts)
}

func TestRetryExhaustionSurfacesLastError(t *testing.T) {
	fastBackoff(t)
	transient := &UpstreamError{Status: http.StatusInternalServerError, Body: "still down"}
	c := &scriptedCompleter{script: []error{transient, transient, transient, transient}}

	_, err := CompleteWithRetry(context.Background(), c, "hello", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still down")
	assert.Equal(t, MaxCompletionAttempts, c.attempts)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	fastBackoff(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transient := &UpstreamError{Status: http.StatusInternalServerError}
	c := &scriptedCompleter{script: []error{transient, transient, transient}}

	_, err := CompleteWithRetry(ctx, c, "hello", Options{})
	require.Error(t, err)
	assert.Less(t, c.attempts, MaxCompletionAttempts)
}
