package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepContext_cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	t0 := time.Now()
	err := SleepContext(ctx, time.Minute)
	assert.Equal(t, context.Canceled, err)
	assert.Less(t, time.Since(t0), time.Second)
}

func TestSleepContext(t *testing.T) {
	err := SleepContext(context.Background(), time.Millisecond)
	assert.NoError(t, err)
}

func TestIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.False(t, IsCanceled(ctx))
	cancel()
	assert.True(t, IsCanceled(ctx))
}

func TestTimeDiff(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(1500*time.Millisecond + 300*time.Microsecond)
	assert.Equal(t, 1500*time.Millisecond, TimeDiff(t1, t0))
}
