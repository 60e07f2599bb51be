package loadtest_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitness-team/fitload/internal/loadtest"
)

// iterationLog records which (vu, iteration) pairs ran.
type iterationLog struct {
	mu   sync.Mutex
	seen map[[2]int64]int
}

func newIterationLog() *iterationLog {
	return &iterationLog{seen: make(map[[2]int64]int)}
}

func (l *iterationLog) record(vu *loadtest.VirtualUser) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[[2]int64{int64(vu.ID), vu.Iteration()}]++
}

func (l *iterationLog) duplicates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.seen {
		if c > 1 {
			n++
		}
	}
	return n
}

func (l *iterationLog) vuIDs() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := map[int]bool{}
	for k := range l.seen {
		set[int(k[0])] = true
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func startPool(t *testing.T, p *loadtest.Pool) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestVirtualUser_Iteration(t *testing.T) {
	vu := loadtest.NewVirtualUser(7)

	assert.Equal(t, 7, vu.ID)
	assert.Equal(t, loadtest.VUStateIdle, vu.State())
	assert.Equal(t, int64(0), vu.Iteration())
	assert.Equal(t, int64(1), vu.CompleteIteration())
	assert.Equal(t, int64(1), vu.Iteration())
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state loadtest.VUState
		want  string
	}{
		{loadtest.VUStateIdle, "idle"},
		{loadtest.VUStateRunning, "running"},
		{loadtest.VUStateStopping, "stopping"},
		{loadtest.VUStateStopped, "stopped"},
		{loadtest.VUState(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestPool_ScalesUpAndDown(t *testing.T) {
	log := newIterationLog()
	p := loadtest.NewPool(func(ctx context.Context, vu *loadtest.VirtualUser) {
		log.record(vu)
		time.Sleep(2 * time.Millisecond)
	})
	_, errCh := startPool(t, p)

	p.SetTarget(3)
	require.Eventually(t, func() bool { return p.Active() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, p.MaxID())

	p.SetTarget(1)
	require.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.Active())

	p.Finish()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	assert.Equal(t, 0, p.Active())
	assert.Equal(t, 0, p.Running())
	assert.Greater(t, p.Iterations(), int64(0))
	assert.Equal(t, 0, log.duplicates(), "every (vu, iteration) pair must be unique")
}

func TestPool_ScaleDownWaitsForIterationBoundary(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var completed sync.WaitGroup
	completed.Add(1)
	var once sync.Once

	p := loadtest.NewPool(func(ctx context.Context, vu *loadtest.VirtualUser) {
		first := false
		once.Do(func() { first = true })
		if !first {
			return
		}
		started <- struct{}{}
		<-release
		completed.Done()
	})
	_, errCh := startPool(t, p)

	p.SetTarget(1)
	<-started

	p.SetTarget(0)
	require.Eventually(t, func() bool { return p.Active() == 0 }, time.Second, 5*time.Millisecond)

	// Signalled but still inside its iteration.
	assert.Equal(t, 1, p.Running())

	close(release)
	completed.Wait()
	require.Eventually(t, func() bool { return p.Running() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), p.Iterations())

	p.Finish()
	require.NoError(t, <-errCh)
}

func TestPool_ReusesParkedVUs(t *testing.T) {
	log := newIterationLog()
	p := loadtest.NewPool(func(ctx context.Context, vu *loadtest.VirtualUser) {
		log.record(vu)
		time.Sleep(time.Millisecond)
	})
	_, errCh := startPool(t, p)

	p.SetTarget(2)
	require.Eventually(t, func() bool { return p.Iterations() >= 4 }, time.Second, 5*time.Millisecond)

	p.SetTarget(0)
	require.Eventually(t, func() bool { return p.Running() == 0 }, time.Second, 5*time.Millisecond)
	before := p.Iterations()

	p.SetTarget(2)
	require.Eventually(t, func() bool { return p.Iterations() >= before+4 }, time.Second, 5*time.Millisecond)

	p.Finish()
	require.NoError(t, <-errCh)

	assert.Equal(t, 2, p.MaxID(), "parked VUs must be reused instead of allocating new ids")
	assert.Equal(t, []int{1, 2}, log.vuIDs())
	assert.Equal(t, 0, log.duplicates())
}

func TestPool_GracefulStopCancelsIterations(t *testing.T) {
	p := loadtest.NewPool(func(ctx context.Context, vu *loadtest.VirtualUser) {
		<-ctx.Done()
	}, loadtest.WithGracefulStop(20*time.Millisecond))
	_, errCh := startPool(t, p)

	p.SetTarget(2)
	require.Eventually(t, func() bool { return p.Running() == 2 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	p.Finish()
	p.Finish()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("graceful stop did not cancel in-flight iterations")
	}
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(0), p.Iterations(), "aborted iterations are not counted")
}

func TestPool_ContextCancelAbortsImmediately(t *testing.T) {
	p := loadtest.NewPool(func(ctx context.Context, vu *loadtest.VirtualUser) {
		<-ctx.Done()
	}, loadtest.WithGracefulStop(time.Hour))
	cancel, errCh := startPool(t, p)

	p.SetTarget(3)
	require.Eventually(t, func() bool { return p.Running() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pool ignored context cancellation")
	}

	// SetTarget must not block once the pool is gone.
	p.SetTarget(5)
	<-p.Done()
}

func TestPool_ObserverSeesActiveChanges(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	p := loadtest.NewPool(func(ctx context.Context, vu *loadtest.VirtualUser) {
		time.Sleep(time.Millisecond)
	}, loadtest.WithObserver(func(active int) {
		mu.Lock()
		seen = append(seen, active)
		mu.Unlock()
	}))
	_, errCh := startPool(t, p)

	p.SetTarget(4)
	p.SetTarget(2)
	p.Finish()
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 4, seen[0])
	assert.Equal(t, 0, seen[len(seen)-1])
}
