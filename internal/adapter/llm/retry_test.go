package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

var fastRetry = RetryPolicy{Attempts: 3, BaseSeconds: 0.001}

func TestRetryExhaustsTransientFailures(t *testing.T) {
	calls := 0
	notified := 0
	err := fastRetry.Do(context.Background(), func(int) error {
		calls++
		return &domain.TransientProviderError{Provider: "test", Err: errors.New("503")}
	}, func(int, error, time.Duration) { notified++ })

	assert.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, notified)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	boom := errors.New("bad request")
	err := fastRetry.Do(context.Background(), func(int) error {
		calls++
		return boom
	}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransient(t *testing.T) {
	var attempts []int
	err := fastRetry.Do(context.Background(), func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			return &domain.TransientProviderError{Provider: "test", Err: errors.New("timeout")}
		}
		return nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPowerBackOff(t *testing.T) {
	b := &powerBackOff{base: 2}
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}

func TestClassify(t *testing.T) {
	assert.True(t, domain.IsTransient(Classify("x", context.DeadlineExceeded)))
	assert.False(t, domain.IsTransient(Classify("x", context.Canceled)))
	assert.True(t, domain.IsTransient(Classify("x", errors.New("Rate limit reached"))))
	assert.True(t, domain.IsTransient(Classify("anthropic", fmt.Errorf("accumulate: %w", io.ErrUnexpectedEOF))))
	assert.True(t, domain.IsTransient(Classify("ollama", api.StatusError{StatusCode: 503, Status: "503 Service Unavailable"})))
	assert.False(t, domain.IsTransient(Classify("ollama", api.StatusError{StatusCode: 400, Status: "400 Bad Request"})))
	assert.False(t, domain.IsTransient(Classify("x", errors.New("invalid api key"))))
	assert.Nil(t, Classify("x", nil))
}
