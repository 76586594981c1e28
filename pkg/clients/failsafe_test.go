package clients

import (
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:bodyclose // test responses have no body
func TestNewHTTPRetryPolicy_NegativeRetriesMeansSingleAttempt(t *testing.T) {
	policy := NewHTTPRetryPolicy(HTTPExecutorConfig{MaxRetries: -3})

	var attempts int32
	_, err := failsafe.With(policy).Get(func() (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

//nolint:bodyclose // test responses have no body
func TestNewHTTPRetryPolicy_RetriesUnavailableUntilSuccess(t *testing.T) {
	policy := NewHTTPRetryPolicy(HTTPExecutorConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	})

	var attempts int32
	resp, err := failsafe.With(policy).Get(func() (*http.Response, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return &http.Response{StatusCode: http.StatusServiceUnavailable}, nil
		}
		return &http.Response{StatusCode: http.StatusCreated}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

//nolint:bodyclose // test responses have no body
func TestNewHTTPRetryPolicy_ClientErrorsAreFinal(t *testing.T) {
	policy := NewHTTPRetryPolicy(HTTPExecutorConfig{MaxRetries: 3, BaseDelay: time.Millisecond})

	var attempts int32
	resp, err := failsafe.With(policy).Get(func() (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return &http.Response{StatusCode: http.StatusBadRequest}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDefaultShouldRetry(t *testing.T) {
	assert.True(t, DefaultShouldRetry(nil, errors.New("dial tcp")))
	assert.True(t, DefaultShouldRetry(nil, nil))
	assert.True(t, DefaultShouldRetry(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil))
	assert.True(t, DefaultShouldRetry(&http.Response{StatusCode: http.StatusTooManyRequests}, nil))
	assert.False(t, DefaultShouldRetry(&http.Response{StatusCode: http.StatusNotFound}, nil))
	assert.False(t, DefaultShouldRetry(&http.Response{StatusCode: http.StatusOK}, nil))
}

//nolint:bodyclose // test responses have no body
func TestHTTPCircuitBreakerOpensOnServerErrors(t *testing.T) {
	var transitions []string
	cfg := CircuitBreakerConfig{
		Name:              "crier",
		FailureThreshold:  2,
		FailureExecutions: 2,
		Delay:             time.Minute,
		OnStateChange: func(_ string, _, to CircuitBreakerState) {
			transitions = append(transitions, to.String())
		},
	}
	breaker := NewHTTPCircuitBreaker(cfg)
	executor := failsafe.With(breaker)

	for i := 0; i < 2; i++ {
		_, _ = executor.Get(func() (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusInternalServerError}, nil
		})
	}
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, []string{"open"}, transitions)

	var called bool
	_, err := executor.Get(func() (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	assert.Error(t, err)
	assert.False(t, called, "an open breaker must short-circuit")
}

func TestCircuitBreakerConfigNormalize(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 50, FailureExecutions: 4}.normalize()
	assert.Equal(t, "circuit-breaker", cfg.Name)
	assert.Equal(t, uint(2), cfg.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.Delay)
	assert.Equal(t, uint(1), cfg.SuccessThreshold)
}

func TestCircuitBreakerStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(9).String())
}
