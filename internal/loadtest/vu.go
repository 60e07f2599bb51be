// Package loadtest runs virtual users: the VirtualUser identity and the
// worker pool that keeps a requested number of them busy.
package loadtest

import (
	"sync/atomic"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is parked and not running iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU will exit at its next iteration boundary.
	VUStateStopping
	// VUStateStopped indicates the VU has been shut down with the pool.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client.
//
// Its ID is unique within a run and never reused by another VU. When the pool
// scales down, the VU is parked rather than discarded, so a later scale-up
// resumes it with its iteration counter intact. Together the ID and the
// iteration number identify an iteration uniquely across the whole run.
type VirtualUser struct {
	// ID is a sequential identifier starting at 1
	ID int

	state     atomic.Int32
	iteration atomic.Int64
}

// NewVirtualUser creates an idle VU.
func NewVirtualUser(id int) *VirtualUser {
	return &VirtualUser{ID: id}
}

// State returns the current lifecycle state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

func (vu *VirtualUser) setState(s VUState) {
	vu.state.Store(int32(s))
}

// Iteration returns the number of completed iterations, which is also the
// zero-based index of the iteration currently running.
func (vu *VirtualUser) Iteration() int64 {
	return vu.iteration.Load()
}

// CompleteIteration advances the iteration counter.
func (vu *VirtualUser) CompleteIteration() int64 {
	return vu.iteration.Add(1)
}
