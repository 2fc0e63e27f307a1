package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchedule_FiresOnce(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule("expiry", 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	require.False(t, s.Pending("expiry"))
}

func TestSchedule_SameNameDebounces(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		s.Schedule("debounce", 20*time.Millisecond, func() { count.Add(1) })
	}
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), count.Load())
}

func TestCancel(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count atomic.Int32
	s.Schedule("pending", 30*time.Millisecond, func() { count.Add(1) })
	require.True(t, s.Cancel("pending"))
	require.False(t, s.Cancel("pending"))

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(0), count.Load())
}

func TestEvery_StopsOnCancel(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count atomic.Int32
	s.Every("liveness", 10*time.Millisecond, func() { count.Add(1) })

	time.Sleep(55 * time.Millisecond)
	require.True(t, s.Cancel("liveness"))
	time.Sleep(20 * time.Millisecond)
	settled := count.Load()
	require.Greater(t, settled, int32(0))

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, settled, count.Load())
}

func TestStop_RejectsFurtherWork(t *testing.T) {
	s := New(zap.NewNop())
	s.Stop()

	var count atomic.Int32
	s.Schedule("late", time.Millisecond, func() { count.Add(1) })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), count.Load())
}
