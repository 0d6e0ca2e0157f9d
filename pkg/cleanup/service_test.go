package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDeleter struct {
	calls   atomic.Int32
	lastTTL atomic.Int64
	err     error
}

func (d *countingDeleter) DeleteOlderThan(_ context.Context, ttl time.Duration) (int64, error) {
	d.calls.Add(1)
	d.lastTTL.Store(int64(ttl))
	return 3, d.err
}

func TestServiceSweepsImmediatelyOnStart(t *testing.T) {
	deleter := &countingDeleter{}
	svc := NewService(RetentionConfig{
		Enabled:  true,
		EventTTL: 24 * time.Hour,
		Interval: time.Hour,
	}, deleter)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return deleter.calls.Load() >= 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(24*time.Hour), deleter.lastTTL.Load())
}

func TestServiceSweepsOnInterval(t *testing.T) {
	deleter := &countingDeleter{}
	svc := NewService(RetentionConfig{
		Enabled:  true,
		EventTTL: time.Hour,
		Interval: 10 * time.Millisecond,
	}, deleter)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return deleter.calls.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)
}

func TestServiceDisabledNeverStarts(t *testing.T) {
	deleter := &countingDeleter{}
	svc := NewService(RetentionConfig{Enabled: false, EventTTL: time.Hour, Interval: time.Millisecond}, deleter)

	svc.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	svc.Stop() // must not panic or hang on a loop that never ran

	assert.Zero(t, deleter.calls.Load())
}

func TestServiceStopIsIdempotent(t *testing.T) {
	deleter := &countingDeleter{}
	svc := NewService(DefaultRetentionConfig(), deleter)

	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}
