package circuitbreaker

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(maxFailures int, cooldown time.Duration) (*CircuitBreaker, *clock) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cb := New(Config{Name: "redis", MaxFailures: maxFailures, Cooldown: cooldown}, logger)
	c := &clock{t: time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)}
	cb.now = c.now
	return cb, c
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(fail), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	m := cb.Metrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(3), m.TotalFailures)
	assert.Equal(t, int64(1), m.TotalRejected)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	require.Error(t, cb.Execute(fail))
	require.Error(t, cb.Execute(fail))
	require.NoError(t, cb.Execute(succeed))
	require.Error(t, cb.Execute(fail))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().Failures)
}

func TestHalfOpenTrial(t *testing.T) {
	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{"trial succeeds", succeed, StateClosed},
		{"trial fails", fail, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, c := newTestBreaker(1, time.Minute)
			require.Error(t, cb.Execute(fail))
			require.Equal(t, StateOpen, cb.State())

			c.t = c.t.Add(30 * time.Second)
			assert.ErrorIs(t, cb.Execute(succeed), ErrOpen)

			c.t = c.t.Add(31 * time.Second)
			cb.Execute(tt.trial)
			assert.Equal(t, tt.want, cb.State())
		})
	}
}

func TestHalfOpenAllowsOneTrialAtATime(t *testing.T) {
	cb, c := newTestBreaker(1, time.Second)
	require.Error(t, cb.Execute(fail))
	c.t = c.t.Add(2 * time.Second)

	err := cb.Execute(func() error {
		assert.ErrorIs(t, cb.Execute(succeed), ErrOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestLateCallDoesNotSettleHalfOpenTrial(t *testing.T) {
	cb, c := newTestBreaker(1, time.Minute)

	lateStarted := make(chan struct{})
	releaseLate := make(chan struct{})
	lateDone := make(chan error)
	go func() {
		lateDone <- cb.Execute(func() error {
			close(lateStarted)
			<-releaseLate
			return nil
		})
	}()
	<-lateStarted

	require.Error(t, cb.Execute(fail))
	require.Equal(t, StateOpen, cb.State())
	c.t = c.t.Add(2 * time.Minute)

	trialStarted := make(chan struct{})
	releaseTrial := make(chan struct{})
	trialDone := make(chan error)
	go func() {
		trialDone <- cb.Execute(func() error {
			close(trialStarted)
			<-releaseTrial
			return errBackend
		})
	}()
	<-trialStarted
	require.Equal(t, StateHalfOpen, cb.State())

	// The call admitted before the breaker opened finishes during the trial.
	close(releaseLate)
	require.NoError(t, <-lateDone)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(succeed), ErrOpen)

	close(releaseTrial)
	assert.ErrorIs(t, <-trialDone, errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

func TestNilBreakerRunsEverything(t *testing.T) {
	var cb *CircuitBreaker
	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.NoError(t, cb.Execute(succeed))
}

func TestDefaults(t *testing.T) {
	cb := New(Config{}, logrus.New())
	assert.Equal(t, "unnamed", cb.name)
	assert.Equal(t, defaultMaxFailures, cb.maxFailures)
	assert.Equal(t, defaultCooldown, cb.cooldown)
}

func TestManagerReportsAllBreakers(t *testing.T) {
	m := NewManager(logrus.New())
	redis := m.GetOrCreate(Config{Name: "redis", MaxFailures: 1})
	assert.Same(t, redis, m.GetOrCreate(Config{Name: "redis"}))
	m.GetOrCreate(Config{Name: "kafka"})

	require.Error(t, redis.Execute(fail))

	all := m.AllMetrics()
	require.Len(t, all, 2)
	assert.Equal(t, StateOpen, all["redis"].State)
	assert.Equal(t, StateClosed, all["kafka"].State)

	data, err := json.Marshal(all["redis"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"open"`)
}
