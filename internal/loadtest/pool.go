package loadtest

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultGracefulStop is how long Finish waits for in-flight iterations
// before cancelling them.
const DefaultGracefulStop = 30 * time.Second

// IterationFunc runs one complete iteration for a VU. It must return
// promptly once ctx is cancelled.
type IterationFunc func(ctx context.Context, vu *VirtualUser)

// Pool keeps a requested number of virtual users running.
//
// All pool state is owned by the goroutine in Run. Other goroutines talk to
// it only through channels: SetTarget sends the desired concurrency, Finish
// ends the test, and workers report their exit. Workers that are no longer
// needed are signalled to stop and exit at their next iteration boundary, so
// a request or idle interval in progress is never interrupted by scaling.
type Pool struct {
	iterate      IterationFunc
	gracefulStop time.Duration
	onActive     func(int)
	logger       *zap.Logger

	targets    chan int
	finish     chan struct{}
	finishOnce sync.Once
	exited     chan *worker
	done       chan struct{}

	// Owned by Run
	workers []*worker
	parked  []*VirtualUser
	nextID  int
	target  int

	active     atomic.Int32
	running    atomic.Int32
	iterations atomic.Int64
	maxID      atomic.Int32
}

type worker struct {
	vu       *VirtualUser
	stop     chan struct{}
	stopping bool
}

func (w *worker) signal() {
	if !w.stopping {
		w.stopping = true
		w.vu.setState(VUStateStopping)
		close(w.stop)
	}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithGracefulStop sets how long Finish waits before cancelling iterations.
func WithGracefulStop(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.gracefulStop = d
		}
	}
}

// WithObserver registers a callback invoked from the pool goroutine
// whenever the number of active VUs changes.
func WithObserver(fn func(active int)) PoolOption {
	return func(p *Pool) {
		p.onActive = fn
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool that runs iterate in every active VU.
func NewPool(iterate IterationFunc, opts ...PoolOption) *Pool {
	p := &Pool{
		iterate:      iterate,
		gracefulStop: DefaultGracefulStop,
		logger:       zap.NewNop(),
		targets:      make(chan int),
		finish:       make(chan struct{}),
		exited:       make(chan *worker),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetTarget requests n concurrently active VUs. It blocks until the pool
// goroutine accepts the value, and returns immediately once Run has exited.
func (p *Pool) SetTarget(n int) {
	if n < 0 {
		n = 0
	}
	select {
	case p.targets <- n:
	case <-p.done:
	}
}

// Finish ends the test: every VU is asked to stop after its current
// iteration. Safe to call more than once.
func (p *Pool) Finish() {
	p.finishOnce.Do(func() {
		close(p.finish)
	})
}

// Done is closed when Run returns.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Active returns the number of running VUs that have not been asked to stop.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Running returns the number of worker goroutines still alive, including
// those finishing their last iteration.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Iterations returns the number of completed iterations across all VUs.
func (p *Pool) Iterations() int64 {
	return p.iterations.Load()
}

// MaxID returns the highest VU id allocated so far.
func (p *Pool) MaxID() int {
	return int(p.maxID.Load())
}

// Run drives the pool until Finish is called and every worker has exited,
// or until ctx is cancelled. Cancelling ctx aborts in-flight iterations.
func (p *Pool) Run(ctx context.Context) error {
	defer close(p.done)

	iterCtx, cancelIter := context.WithCancel(ctx)
	defer cancelIter()

	finishCh := p.finish
	ctxDone := ctx.Done()
	finishing := false
	var grace <-chan time.Time

	for !finishing || len(p.workers) > 0 {
		select {
		case n := <-p.targets:
			if !finishing {
				p.target = n
				p.reconcile(iterCtx)
			}

		case w := <-p.exited:
			p.release(w)
			if !finishing {
				p.reconcile(iterCtx)
			} else {
				p.publishActive()
			}

		case <-finishCh:
			finishCh = nil
			finishing = true
			p.stopAll()
			timer := time.NewTimer(p.gracefulStop)
			defer timer.Stop()
			grace = timer.C
			p.logger.Debug("pool finishing", zap.Int("running", len(p.workers)))

		case <-grace:
			grace = nil
			p.logger.Warn("graceful stop expired, cancelling in-flight iterations",
				zap.Duration("gracefulStop", p.gracefulStop),
				zap.Int("running", len(p.workers)))
			cancelIter()

		case <-ctxDone:
			ctxDone = nil
			finishCh = nil
			finishing = true
			p.stopAll()
		}
	}

	for _, vu := range p.parked {
		vu.setState(VUStateStopped)
	}
	p.publishActive()

	return ctx.Err()
}

// reconcile spawns or signals workers until the active count matches target.
func (p *Pool) reconcile(ctx context.Context) {
	active := p.countActive()

	for active < p.target {
		w := &worker{vu: p.acquire(), stop: make(chan struct{})}
		w.vu.setState(VUStateRunning)
		p.workers = append(p.workers, w)
		p.running.Add(1)
		active++
		go p.work(ctx, w)
	}

	// Stop the most recently started workers first.
	for i := len(p.workers) - 1; i >= 0 && active > p.target; i-- {
		if w := p.workers[i]; !w.stopping {
			w.signal()
			active--
		}
	}

	p.publishActive()
}

func (p *Pool) work(ctx context.Context, w *worker) {
	defer func() { p.exited <- w }()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.iterate(ctx, w.vu)
		if ctx.Err() != nil {
			return
		}
		w.vu.CompleteIteration()
		p.iterations.Add(1)
	}
}

// acquire returns the parked VU with the lowest id, or a new one.
func (p *Pool) acquire() *VirtualUser {
	if len(p.parked) > 0 {
		vu := p.parked[0]
		p.parked = p.parked[1:]
		return vu
	}
	p.nextID++
	p.maxID.Store(int32(p.nextID))
	return NewVirtualUser(p.nextID)
}

// release removes an exited worker and parks its VU.
func (p *Pool) release(w *worker) {
	if i := slices.Index(p.workers, w); i >= 0 {
		p.workers = slices.Delete(p.workers, i, i+1)
	}
	p.running.Add(-1)

	w.vu.setState(VUStateIdle)
	i, _ := slices.BinarySearchFunc(p.parked, w.vu.ID, func(vu *VirtualUser, id int) int {
		return vu.ID - id
	})
	p.parked = slices.Insert(p.parked, i, w.vu)
}

func (p *Pool) stopAll() {
	p.target = 0
	for _, w := range p.workers {
		w.signal()
	}
	p.publishActive()
}

func (p *Pool) countActive() int {
	n := 0
	for _, w := range p.workers {
		if !w.stopping {
			n++
		}
	}
	return n
}

func (p *Pool) publishActive() {
	n := p.countActive()
	if int(p.active.Swap(int32(n))) != n && p.onActive != nil {
		p.onActive(n)
	}
}
