package smu

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smulab/go-smu/tsp"
)

// RunKind distinguishes ramps from sweeps.
type RunKind uint8

const (
	// RunRamp is a monotonic multi-step change from the current level to a
	// target level with a per-step dwell.
	RunRamp RunKind = iota
	// RunSweep is an ordered traversal of discrete levels with a settle
	// delay and a measurement at each point.
	RunSweep
)

// String returns the kind name.
func (k RunKind) String() string {
	if k == RunSweep {
		return "sweep"
	}
	return "ramp"
}

// RunStatus is the state of an automation run.
type RunStatus uint32

const (
	// RunRunning means the run is stepping.
	RunRunning RunStatus = iota
	// RunPaused means the run is holding between steps.
	RunPaused
	// RunCancelled means the run was cancelled at a step boundary. Terminal.
	RunCancelled
	// RunCompleted means every step was applied. Terminal.
	RunCompleted
	// RunFailed means a step was rejected or faulted. Terminal.
	RunFailed
)

// String returns the status name.
func (st RunStatus) String() string {
	switch st {
	case RunRunning:
		return "running"
	case RunPaused:
		return "paused"
	case RunCancelled:
		return "cancelled"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (st RunStatus) Terminal() bool {
	return st == RunCancelled || st == RunCompleted || st == RunFailed
}

// RampParams configures a ramp run.
type RampParams struct {
	// Func is the source function to ramp.
	Func tsp.SourceFunc
	// Target is the final source level. The commanded level sequence is
	// monotonic toward Target and its last element equals Target exactly.
	Target float64
	// Steps is the number of commanded levels, at least 1.
	Steps int
	// Dwell is the cancellable delay after each step.
	Dwell time.Duration
	// CheckCompliance reads the compliance flag after each step and records
	// a trip without aborting the ramp.
	CheckCompliance bool
}

func (p RampParams) validate() error {
	if p.Steps < 1 {
		return fmt.Errorf("%w: ramp steps must be at least 1", ErrInvalidRunParams)
	}
	if math.IsNaN(p.Target) || math.IsInf(p.Target, 0) {
		return fmt.Errorf("%w: ramp target %v", ErrInvalidRunParams, p.Target)
	}
	if p.Dwell < 0 {
		return fmt.Errorf("%w: negative dwell", ErrInvalidRunParams)
	}
	return nil
}

// SweepParams configures a sweep run.
type SweepParams struct {
	// Func is the source function to sweep.
	Func tsp.SourceFunc
	// Levels is the ordered list of source levels to visit.
	Levels []float64
	// Settle is the cancellable delay between applying a level and
	// measuring it.
	Settle time.Duration
}

func (p SweepParams) validate() error {
	if len(p.Levels) == 0 {
		return fmt.Errorf("%w: sweep has no levels", ErrInvalidRunParams)
	}
	for _, v := range p.Levels {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: sweep level %v", ErrInvalidRunParams, v)
		}
	}
	if p.Settle < 0 {
		return fmt.Errorf("%w: negative settle", ErrInvalidRunParams)
	}
	return nil
}

// Measurement is one recorded sweep point or measurement result.
type Measurement struct {
	// Level is the commanded source level at the time of the measurement.
	Level float64
	// Value is the measured reading.
	Value float64
	// InCompliance reports whether the hardware compliance limit was
	// reached.
	InCompliance bool
}

// Run is an in-progress ramp or sweep, owned exclusively by the session's
// automation engine. Control is cooperative: pause, resume, and cancel take
// effect at step boundaries only, never mid-command.
type Run struct {
	id    uuid.UUID
	kind  RunKind
	ch    tsp.Channel
	fn    tsp.SourceFunc
	dwell time.Duration

	// measure records a measurement at each point (sweeps).
	measure bool
	// checkCompliance reads the compliance flag after each step.
	checkCompliance bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu                sync.Mutex
	cond              *sync.Cond
	status            RunStatus
	levels            []float64
	index             int
	err               error
	results           []Measurement
	complianceTripped bool
}

func newRun(parent context.Context, kind RunKind, ch tsp.Channel, fn tsp.SourceFunc, levels []float64) *Run {
	r := &Run{
		id:     uuid.New(),
		kind:   kind,
		ch:     ch,
		fn:     fn,
		status: RunRunning,
		levels: levels,
	}
	r.cond = sync.NewCond(&r.mu)
	r.ctx, r.cancel = context.WithCancel(parent)
	r.done = make(chan struct{})

	// Wake a paused run when the context dies so cancellation is observed.
	context.AfterFunc(r.ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})

	return r
}

// ID returns the run's unique identifier.
func (r *Run) ID() uuid.UUID { return r.id }

// Kind returns the run kind.
func (r *Run) Kind() RunKind { return r.kind }

// Channel returns the channel the run drives.
func (r *Run) Channel() tsp.Channel { return r.ch }

// Status returns the current run status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

// Done returns a channel closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the failure cause for a Failed run, nil otherwise.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Results returns a copy of the measurements recorded so far.
func (r *Run) Results() []Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Measurement, len(r.results))
	copy(out, r.results)

	return out
}

// RunSnapshot is a read-only view of a run.
type RunSnapshot struct {
	ID                uuid.UUID
	Kind              RunKind
	Channel           tsp.Channel
	Status            RunStatus
	CurrentIndex      int
	TotalSteps        int
	ComplianceTripped bool
	Err               error
}

// Snapshot returns a read-only view of the run.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RunSnapshot{
		ID:                r.id,
		Kind:              r.kind,
		Channel:           r.ch,
		Status:            r.status,
		CurrentIndex:      r.index,
		TotalSteps:        len(r.levels),
		ComplianceTripped: r.complianceTripped,
		Err:               r.err,
	}
}

// Pause holds the run at the next step boundary. Valid only while Running.
// The paused run still owns the instrument link; see Session.PauseRun.
func (r *Run) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != RunRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidRunTransition, r.status)
	}
	r.status = RunPaused

	return nil
}

// Resume restarts a paused run. Valid only while Paused.
func (r *Run) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != RunPaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidRunTransition, r.status)
	}
	r.status = RunRunning
	r.cond.Broadcast()

	return nil
}

// Cancel requests cooperative cancellation. It never interrupts an in-flight
// command; the run transitions to Cancelled at the next step boundary.
// Cancelling a terminal run is a no-op.
func (r *Run) Cancel() {
	r.cancel()
}

// next blocks while the run is paused, then returns the next commanded level.
// ok is false when the run was cancelled or all levels are exhausted.
func (r *Run) next() (level float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.status == RunPaused && r.ctx.Err() == nil {
		r.cond.Wait()
	}

	if r.ctx.Err() != nil || r.status != RunRunning || r.index >= len(r.levels) {
		return 0, false
	}

	return r.levels[r.index], true
}

// advance moves past the level just applied.
func (r *Run) advance() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.index++
}

// lastStep reports whether every level has been applied.
func (r *Run) lastStep() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.index >= len(r.levels)
}

// record appends a measurement and latches a compliance trip.
func (r *Run) record(m Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, m)
	if m.InCompliance {
		r.complianceTripped = true
	}
}

// wait sleeps for the configured dwell, returning early on cancellation.
func (r *Run) wait(d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-r.ctx.Done():
	case <-timer.C:
	}
}

func (r *Run) finish(status RunStatus, err error) {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.status = status
	r.err = err
	r.cond.Broadcast()
	r.mu.Unlock()

	r.cancel()
	close(r.done)
}

// rampLevels computes the commanded level sequence for a ramp. Each level is
// interpolated from the endpoints rather than accumulated, so the sequence
// is monotonic and the final level equals the target exactly.
func rampLevels(from, to float64, steps int) []float64 {
	levels := make([]float64, steps)
	for i := 1; i <= steps; i++ {
		if i == steps {
			levels[i-1] = to
		} else {
			levels[i-1] = from + (to-from)*float64(i)/float64(steps)
		}
	}

	return levels
}
