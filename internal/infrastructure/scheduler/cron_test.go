package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, fired <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-fired:
		return at
	case <-time.After(5 * time.Second):
		t.Fatal("job was not triggered")
		return time.Time{}
	}
}

func TestCronSchedulerFiresAtActivations(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, time.May, 10, 10, 59, 30, 0, time.UTC))
	s, err := NewCronScheduler("0 * * * *", Options{Location: time.UTC, Clock: clock})
	require.NoError(t, err)

	fired := make(chan time.Time, 4)
	require.NoError(t, s.Start(ctx, func(at time.Time) { fired <- at }))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)
	assert.Equal(t, time.Date(2024, time.May, 10, 11, 0, 0, 0, time.UTC), receive(t, fired))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	assert.Equal(t, time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC), receive(t, fired))

	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, fired)
}

func TestCronSchedulerRunOnStartup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Date(2024, time.May, 10, 10, 15, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	s, err := NewCronScheduler("0 * * * *", Options{RunOnStartup: true, Clock: clock})
	require.NoError(t, err)

	fired := make(chan time.Time, 4)
	require.NoError(t, s.Start(ctx, func(at time.Time) { fired <- at }))
	assert.Equal(t, start, receive(t, fired))

	require.NoError(t, s.Stop(ctx))
}

func TestCronSchedulerStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	s, err := NewCronScheduler("0 * * * *", Options{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, func(time.Time) {}))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	cancel()
	require.NoError(t, s.Stop(waitCtx))
}

func TestCronSchedulerNextUsesLocation(t *testing.T) {
	t.Parallel()

	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	s, err := NewCronScheduler("0 6 * * *", Options{Location: zurich})
	require.NoError(t, err)

	next := s.Next(time.Date(2024, time.May, 10, 5, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, time.May, 11, 4, 0, 0, 0, time.UTC), next.UTC())
}

func TestNewCronSchedulerRejectsInvalidExpression(t *testing.T) {
	t.Parallel()

	_, err := NewCronScheduler("every hour", Options{})
	require.Error(t, err)
}

func TestCronSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	s, err := NewCronScheduler("0 * * * *", Options{})
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
}

func TestCronSchedulerReadsSecondsFirstExpressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expression string
		from       time.Time
		want       time.Time
	}{
		{"0 */1 * * * *", time.Date(2024, time.May, 10, 10, 0, 30, 0, time.UTC), time.Date(2024, time.May, 10, 10, 1, 0, 0, time.UTC)},
		{"0 0 * * * *", time.Date(2024, time.May, 10, 10, 15, 0, 0, time.UTC), time.Date(2024, time.May, 10, 11, 0, 0, 0, time.UTC)},
		{"30 0 6 * * *", time.Date(2024, time.May, 10, 10, 15, 0, 0, time.UTC), time.Date(2024, time.May, 11, 6, 0, 30, 0, time.UTC)},
		{"0 * * * *", time.Date(2024, time.May, 10, 10, 15, 0, 0, time.UTC), time.Date(2024, time.May, 10, 11, 0, 0, 0, time.UTC)},
		{"0 0 6 * * * 2025", time.Date(2024, time.May, 10, 10, 15, 0, 0, time.UTC), time.Date(2025, time.January, 1, 6, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(tc.expression, func(t *testing.T) {
			s, err := NewCronScheduler(tc.expression, Options{Location: time.UTC})
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Next(tc.from))
		})
	}
}
