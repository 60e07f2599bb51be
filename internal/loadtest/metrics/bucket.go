package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucketTotals are the cumulative values stamped onto a new bucket.
type bucketTotals struct {
	requests  int64
	successes int64
	failures  int64
	bytes     int64
	latency   LatencyPercentiles
	activeVUs int
	targetVUs int
	phase     Phase
}

// TimeBucketStore keeps the time series in a fixed-size ring buffer.
//
// Recording into the current interval is lock-free; closing an interval
// takes the write lock. Once full, the oldest bucket is overwritten.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	lastFlush  time.Time

	requests   atomic.Int64
	failures   atomic.Int64
	iterations atomic.Int64
	checkFails atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		lastFlush:  time.Now(),
	}
}

// RecordRequest adds a request to the current interval.
func (s *TimeBucketStore) RecordRequest(success bool) {
	s.requests.Add(1)
	if !success {
		s.failures.Add(1)
	}
}

// RecordIteration adds a completed iteration to the current interval.
func (s *TimeBucketStore) RecordIteration() {
	s.iterations.Add(1)
}

// RecordCheck adds a check evaluation to the current interval.
func (s *TimeBucketStore) RecordCheck(passed bool) {
	if !passed {
		s.checkFails.Add(1)
	}
}

// flush closes the current interval and appends it as a bucket.
func (s *TimeBucketStore) flush(now time.Time, t bucketTotals) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := s.requests.Swap(0)
	failures := s.failures.Swap(0)

	window := now.Sub(s.lastFlush).Seconds()
	if window <= 0 {
		window = 1
	}
	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(failures) / float64(requests)
	}

	b := &TimeBucket{
		Timestamp:          now,
		TotalRequests:      t.requests,
		TotalSuccesses:     t.successes,
		TotalFailures:      t.failures,
		TotalBytes:         t.bytes,
		IntervalRequests:   requests,
		IntervalRPS:        float64(requests) / window,
		IntervalErrorRate:  errorRate,
		IntervalIterations: s.iterations.Swap(0),
		IntervalCheckFails: s.checkFails.Swap(0),
		LatencyMin:         t.latency.Min,
		LatencyMax:         t.latency.Max,
		LatencyP50:         t.latency.P50,
		LatencyP90:         t.latency.P90,
		LatencyP95:         t.latency.P95,
		LatencyP99:         t.latency.P99,
		ActiveVUs:          t.activeVUs,
		TargetVUs:          t.targetVUs,
		Phase:              t.phase,
	}

	s.buckets[s.head] = b
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	s.lastFlush = now
	return b
}

// Buckets returns all retained buckets in chronological order.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	out := make([]*TimeBucket, s.count)
	start := 0
	if s.count == s.maxBuckets {
		start = s.head
	}
	for i := range out {
		out[i] = s.buckets[(start+i)%s.maxBuckets]
	}
	return out
}

// Latest returns the most recent bucket, or nil if none.
func (s *TimeBucketStore) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// Count returns the number of retained buckets.
func (s *TimeBucketStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// SteadyStateRPS averages the interval rate over buckets recorded while the
// profile was holding its target. The second value is the number of such
// buckets.
func (s *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	n := 0
	for _, b := range s.Buckets() {
		if b.Phase == PhaseSteady {
			sum += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
