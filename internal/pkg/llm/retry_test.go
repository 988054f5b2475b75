package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesTransportErrors(t *testing.T) {
	var delays []time.Duration
	attempts := 0

	policy := RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   5 * time.Second,
		MaxDelay:    120 * time.Second,
		IsRetriable: IsRetriable,
		Sleep:       func(d time.Duration) { delays = append(delays, d) },
	}

	result, err := Do(context.Background(), policy, func() (string, error) {
		attempts++
		if attempts <= 2 {
			return "", errors.New("connection reset by peer")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, delays)
}

func TestDoDoesNotRetryBadRequest(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   time.Millisecond,
		Sleep:       func(time.Duration) {},
	}

	_, err := Do(context.Background(), policy, func() (string, error) {
		attempts++
		return "", &APIError{Status: 400, Code: "InvalidParameter", Message: "content field is a required field"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestDoExhaustsRetries(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(time.Duration) {},
	}

	_, err := Do(context.Background(), policy, func() (int, error) {
		attempts++
		return 0, errors.New("unexpected EOF")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, 3, attempts)
}

func TestDoDelayCappedAtMax(t *testing.T) {
	var delays []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 7,
		BaseDelay:   5 * time.Second,
		MaxDelay:    120 * time.Second,
		Sleep:       func(d time.Duration) { delays = append(delays, d) },
	}

	_, err := Do(context.Background(), policy, func() (int, error) {
		return 0, errors.New("stream interrupted")
	})

	require.Error(t, err)
	// 5s 10s 20s 40s 80s 120s（封顶）
	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second,
		40 * time.Second, 80 * time.Second, 120 * time.Second,
	}, delays)
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, IsRetriable(errors.New("connection reset")))
	assert.True(t, IsRetriable(&APIError{Status: 429}))
	assert.True(t, IsRetriable(&APIError{Status: 503}))
	assert.False(t, IsRetriable(&APIError{Status: 400}))
	assert.False(t, IsRetriable(errors.New("InvalidParameter: messages")))
	assert.False(t, IsRetriable(errors.New("the content field is a required field")))
}
