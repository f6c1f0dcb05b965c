package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidekit/pkg/llm"
	"guidekit/pkg/llmerrors"
)

func TestBreakerTransitions(t *testing.T) {
	now := time.Unix(1000, 0)
	b := New(Config{FailureThreshold: 2, SuccessThreshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	assert.Equal(t, Closed, b.State())
	b.Record(false)
	assert.Equal(t, Closed, b.State())
	b.Record(false)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())

	b.Record(false)
	assert.Equal(t, Open, b.State(), "a half-open failure reopens")

	now = now.Add(time.Minute)
	require.True(t, b.Allow())
	b.Record(true)
	assert.Equal(t, HalfOpen, b.State())
	b.Record(true)
	assert.Equal(t, Closed, b.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 2, Cooldown: time.Minute})
	b.Record(false)
	b.Record(true)
	b.Record(false)
	assert.Equal(t, Closed, b.State())

	b.Record(false)
	assert.Equal(t, Open, b.State())
	b.Reset()
	assert.Equal(t, Closed, b.State())
}

func TestMiddlewareRejectsWhenOpen(t *testing.T) {
	down := llmerrors.NewError(llmerrors.ErrorTypeTransient, "down")
	mock := llm.NewMockClient(nil, []error{down, down, down})
	breaker := New(Config{FailureThreshold: 2, Cooldown: time.Hour})
	client := llm.Chain(mock, Middleware(breaker))
	req := llm.CompletionRequest{Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")}}

	for range 2 {
		_, err := client.Complete(context.Background(), req)
		require.Error(t, err)
	}
	_, err := client.Complete(context.Background(), req)
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 2, mock.CallCount(), "open circuit must not reach the provider")
}

func TestBadPromptDoesNotTrip(t *testing.T) {
	assert.False(t, countsAsFailure(nil))
	assert.False(t, countsAsFailure(context.Canceled))
	assert.False(t, countsAsFailure(llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long")))
	assert.True(t, countsAsFailure(llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow")))
	assert.True(t, countsAsFailure(errors.New("boom")))
}
