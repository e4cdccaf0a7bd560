package smu

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/smulab/go-smu/logger"
	"github.com/smulab/go-smu/tsp"
	"github.com/smulab/go-smu/visa"
)

// maxErrorQueueDrain bounds one drain pass so a misbehaving instrument
// cannot wedge the command path.
const maxErrorQueueDrain = 64

// StateHandler receives read-only channel snapshots on every state change.
//
// Note: handlers are invoked in blocking mode on the session's command path.
// Take care with long-running implementations.
type StateHandler func(snap Snapshot)

// Session owns the only connection to one instrument and the only instance
// of each channel's state. It is the single entry point for operators,
// automation, and diagnostic collaborators.
//
// All instrument I/O is serialized: at most one command round trip is
// outstanding at any time, and an automation run owns the connection's turn
// for the duration of its sequence. Single-shot commands issued during a run
// queue behind it.
type Session struct {
	cfg    *Config
	logger logger.Logger
	conn   *visa.Conn

	// cmdMu serializes the command path. A run loop holds it for the whole
	// sequence; manual commands queue behind.
	cmdMu sync.Mutex

	// stateMu guards the in-memory models for snapshot readers.
	stateMu  sync.RWMutex
	mode     OperatingMode
	channels map[tsp.Channel]*ChannelState
	limits   map[tsp.Channel]SafetyLimits

	runs *xsync.MapOf[tsp.Channel, *Run]
	subs *xsync.MapOf[uuid.UUID, StateHandler]

	tasks  *taskManager
	closed atomic.Bool
}

// Open establishes a session on the given resource identifier. The
// connection is retried with the policy's bounded backoff; on failure no
// session exists. The session starts in Standby with outputs off.
func Open(ctx context.Context, resource string, opts ...Option) (*Session, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	res, err := visa.ParseResource(resource)
	if err != nil {
		return nil, err
	}

	tr := cfg.transport
	if tr == nil {
		tr, err = visa.NewTransport(res, cfg.transportOpts...)
		if err != nil {
			return nil, err
		}
	}

	log := cfg.logger.With("resource", res.String())

	conn, err := visa.Dial(ctx, res, tr, cfg.retryPolicy, cfg.logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		logger: log,
		conn:   conn,
		mode:   Standby,
		channels: map[tsp.Channel]*ChannelState{
			tsp.ChannelA: newChannelState(tsp.ChannelA),
			tsp.ChannelB: newChannelState(tsp.ChannelB),
		},
		limits: make(map[tsp.Channel]SafetyLimits),
		runs:   xsync.NewMapOf[tsp.Channel, *Run](),
		subs:   xsync.NewMapOf[uuid.UUID, StateHandler](),
	}
	for ch, l := range cfg.defaultLimits {
		s.limits[ch] = l
	}
	s.tasks = newTaskManager(context.Background(), log)

	conn.OnStateChange(func(prev, next visa.ConnState) {
		log.Info("connection state changed", "prev", prev.String(), "next", next.String())
	})

	return s, nil
}

// Close cancels all automation runs, forces Standby (best effort on the
// instrument side), and closes the connection. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}

	s.runs.Range(func(_ tsp.Channel, r *Run) bool {
		r.Cancel()
		return true
	})
	s.tasks.Stop()

	s.cmdMu.Lock()
	s.standbyLocked(ctx)
	s.cmdMu.Unlock()

	return s.conn.Close()
}

// Mode returns the session operating mode.
func (s *Session) Mode() OperatingMode {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.mode
}

// Resource returns the resource identifier the session was opened on.
func (s *Session) Resource() visa.ResourceID { return s.conn.Resource() }

// ConnState returns the connection state.
func (s *Session) ConnState() visa.ConnState { return s.conn.State() }

// Metrics returns the connection metrics.
func (s *Session) Metrics() *visa.ConnMetrics { return s.conn.Metrics() }

// Snapshot returns a read-only copy of a channel's state.
func (s *Session) Snapshot(ch tsp.Channel) (Snapshot, error) {
	if !ch.Valid() {
		return Snapshot{}, tsp.ErrInvalidChannel
	}

	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.channels[ch].Snapshot(), nil
}

// Limits returns a channel's configured safety limits.
func (s *Session) Limits(ch tsp.Channel) (SafetyLimits, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	l, ok := s.limits[ch]

	return l, ok && l.Configured()
}

// Subscribe registers a handler for channel state change notifications and
// returns its token.
func (s *Session) Subscribe(h StateHandler) uuid.UUID {
	id := uuid.New()
	s.subs.Store(id, h)

	return id
}

// Unsubscribe removes a previously registered handler.
func (s *Session) Unsubscribe(id uuid.UUID) {
	s.subs.Delete(id)
}

// SetLimits configures a channel's soft safety limits. Limits are mutable
// only while the session is in Standby and never during a non-terminal run
// on the channel.
func (s *Session) SetLimits(ch tsp.Channel, limits SafetyLimits) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !ch.Valid() {
		return tsp.ErrInvalidChannel
	}
	if err := limits.validate(); err != nil {
		return err
	}
	if run, ok := s.runs.Load(ch); ok && !run.Status().Terminal() {
		return ErrRunActive
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.mode != Standby {
		return ErrNotStandby
	}
	s.limits[ch] = limits

	return nil
}

// EnterActive arms the session for energizing commands. It requires
// configured safety limits on at least one channel; channels without limits
// still cannot be driven. No-op when already active.
func (s *Session) EnterActive(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.stateMu.Lock()
	if s.mode == Active {
		s.stateMu.Unlock()
		return nil
	}

	configured := false
	for _, l := range s.limits {
		if l.Configured() {
			configured = true
			break
		}
	}
	if !configured {
		s.stateMu.Unlock()
		return ErrLimitsUnset
	}

	s.mode = Active
	s.stateMu.Unlock()

	s.logger.Info("entered active mode")
	s.notifyAll()

	return nil
}

// EnterStandby returns the session to the fail-safe Standby mode: all
// non-terminal runs are cancelled and every channel's output is forced off.
// It always succeeds and is idempotent; instrument-side disables are best
// effort when the transport is faulted.
func (s *Session) EnterStandby(ctx context.Context) error {
	s.runs.Range(func(_ tsp.Channel, r *Run) bool {
		if !r.Status().Terminal() {
			r.Cancel()
		}
		return true
	})

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.standbyLocked(ctx)

	return nil
}

// Identify returns the instrument identification string.
func (s *Session) Identify(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	reply, err := s.doLocked(ctx, tsp.Identify{}, true)
	if err != nil {
		return "", err
	}

	return reply.Identity, nil
}

// ResetInstrument restores the instrument and the in-memory models to
// power-on defaults. The session returns to Standby.
func (s *Session) ResetInstrument(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if _, err := s.doLocked(ctx, tsp.Reset{}, true); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.mode = Standby
	for ch := range s.channels {
		s.channels[ch] = newChannelState(ch)
	}
	s.stateMu.Unlock()
	s.notifyAll()

	return nil
}

// SourceConfig bundles a channel's standby-safe source configuration.
type SourceConfig struct {
	Func tsp.SourceFunc
	// Autorange enables source autoranging.
	Autorange bool
	// ComplianceLimit is the hardware compliance limit for the
	// complementary quantity.
	ComplianceLimit float64
}

// ConfigureSource programs a channel's source function, autoranging, and
// hardware compliance limit. Valid in Standby; the output stays off.
func (s *Session) ConfigureSource(ctx context.Context, ch tsp.Channel, cfg SourceConfig) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !ch.Valid() {
		return tsp.ErrInvalidChannel
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	intents := []tsp.Intent{
		tsp.SetSourceFunc{Channel: ch, Func: cfg.Func},
		tsp.SetAutorange{Channel: ch, Func: cfg.Func, On: cfg.Autorange},
		tsp.SetCompliance{Channel: ch, Func: cfg.Func, Value: cfg.ComplianceLimit},
	}
	for _, intent := range intents {
		if _, err := s.doLocked(ctx, intent, true); err != nil {
			return err
		}
	}

	s.stateMu.Lock()
	s.channels[ch].SetSourceFunc(cfg.Func)
	s.channels[ch].SetComplianceLimit(cfg.ComplianceLimit)
	s.stateMu.Unlock()
	s.notifyChannel(ch)

	return nil
}

// SetComplianceLimit programs a channel's hardware compliance limit using
// its current source function.
func (s *Session) SetComplianceLimit(ctx context.Context, ch tsp.Channel, value float64) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !ch.Valid() {
		return tsp.ErrInvalidChannel
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.stateMu.RLock()
	fn := s.channels[ch].SourceFunc()
	s.stateMu.RUnlock()

	if _, err := s.doLocked(ctx, tsp.SetCompliance{Channel: ch, Func: fn, Value: value}, true); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.channels[ch].SetComplianceLimit(value)
	s.stateMu.Unlock()
	s.notifyChannel(ch)

	return nil
}

// EnableOutput switches a channel's output relay. Enabling requires Active
// mode and configured limits; disabling is always permitted.
func (s *Session) EnableOutput(ctx context.Context, ch tsp.Channel, on bool) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !ch.Valid() {
		return tsp.ErrInvalidChannel
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if _, err := s.doLocked(ctx, tsp.EnableOutput{Channel: ch, On: on}, true); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.channels[ch].SetOutput(on)
	s.stateMu.Unlock()
	s.notifyChannel(ch)

	return nil
}

// SetSource applies a validated source level to a channel, enabling the
// output first when it is off. Both the level and the implied enable are
// validated by the governor before any command reaches the transport.
func (s *Session) SetSource(ctx context.Context, ch tsp.Channel, fn tsp.SourceFunc, value float64) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !ch.Valid() {
		return tsp.ErrInvalidChannel
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	return s.setSourceLocked(ctx, ch, fn, value)
}

func (s *Session) setSourceLocked(ctx context.Context, ch tsp.Channel, fn tsp.SourceFunc, value float64) error {
	s.stateMu.RLock()
	limits := s.limits[ch]
	mode := s.mode
	needEnable := !s.channels[ch].OutputEnabled()
	s.stateMu.RUnlock()

	// Validate the whole intent sequence up front: a rejected level must
	// leave the transport untouched.
	levelIntent := tsp.SetSourceLevel{Channel: ch, Func: fn, Value: value}
	if err := Validate(levelIntent, limits, mode); err != nil {
		return err
	}
	if needEnable {
		if err := Validate(tsp.EnableOutput{Channel: ch, On: true}, limits, mode); err != nil {
			return err
		}
	}

	if needEnable {
		if _, err := s.doLocked(ctx, tsp.EnableOutput{Channel: ch, On: true}, true); err != nil {
			return err
		}
		s.stateMu.Lock()
		s.channels[ch].SetOutput(true)
		s.stateMu.Unlock()
	}

	if _, err := s.doLocked(ctx, levelIntent, true); err != nil {
		return err
	}

	s.stateMu.Lock()
	err := s.channels[ch].ApplySourceLevel(fn, value)
	s.stateMu.Unlock()
	if err != nil {
		return err
	}
	s.notifyChannel(ch)

	return nil
}

// Measure reads a channel's measurement and compliance flag, updating the
// channel model. The compliance latch clears only on an in-range reading.
func (s *Session) Measure(ctx context.Context, ch tsp.Channel) (Measurement, error) {
	if s.closed.Load() {
		return Measurement{}, ErrSessionClosed
	}
	if !ch.Valid() {
		return Measurement{}, tsp.ErrInvalidChannel
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	return s.measureLocked(ctx, ch, true)
}

func (s *Session) measureLocked(ctx context.Context, ch tsp.Channel, blindRetry bool) (Measurement, error) {
	s.stateMu.RLock()
	fn := s.channels[ch].SourceFunc()
	level := s.channels[ch].Level()
	s.stateMu.RUnlock()

	reply, err := s.doLocked(ctx, tsp.Measure{Channel: ch, Func: fn}, blindRetry)
	if err != nil {
		return Measurement{}, err
	}

	compliance, err := s.doLocked(ctx, tsp.ReadCompliance{Channel: ch}, blindRetry)
	if err != nil {
		return Measurement{}, err
	}

	s.stateMu.Lock()
	s.channels[ch].ApplyMeasurement(reply.Value, compliance.Flag)
	s.stateMu.Unlock()
	s.notifyChannel(ch)

	return Measurement{Level: level, Value: reply.Value, InCompliance: compliance.Flag}, nil
}

// SetBeeper enables or disables the instrument beeper.
func (s *Session) SetBeeper(ctx context.Context, on bool) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	_, err := s.doLocked(ctx, tsp.SetBeeper{On: on}, true)

	return err
}

// Beep sounds the beeper for duration seconds at frequency hertz.
func (s *Session) Beep(ctx context.Context, duration float64, frequency int) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	_, err := s.doLocked(ctx, tsp.Beep{Duration: duration, Frequency: frequency}, true)

	return err
}

// ConfigureDisplay brings a channel's panel to the front display showing its
// source function's measurement.
func (s *Session) ConfigureDisplay(ctx context.Context, ch tsp.Channel) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !ch.Valid() {
		return tsp.ErrInvalidChannel
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.stateMu.RLock()
	fn := s.channels[ch].SourceFunc()
	s.stateMu.RUnlock()

	if _, err := s.doLocked(ctx, tsp.SetDisplayScreen{Channel: ch}, true); err != nil {
		return err
	}
	_, err := s.doLocked(ctx, tsp.SetDisplayMeasure{Channel: ch, Func: fn}, true)

	return err
}

// DrainErrorQueue pops every pending entry from the instrument error queue.
func (s *Session) DrainErrorQueue(ctx context.Context) ([]tsp.ErrorEntry, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	entries, err := s.drainLocked(ctx)
	if err != nil && s.isFault(err) {
		s.logger.Error("transport fault during error queue drain, reverting to standby", "error", err)
		s.standbyLocked(context.Background())
	}

	return entries, err
}

// --- automation ---

// StartRamp starts a monotonic ramp from the channel's current level to the
// target. At most one non-terminal run may exist per channel; a conflicting
// request fails rather than queueing or preempting.
func (s *Session) StartRamp(ctx context.Context, ch tsp.Channel, params RampParams) (*Run, error) {
	if !ch.Valid() {
		return nil, tsp.ErrInvalidChannel
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	s.stateMu.RLock()
	from := s.channels[ch].Level()
	s.stateMu.RUnlock()

	levels := rampLevels(from, params.Target, params.Steps)

	run, err := s.startRun(ch, RunRamp, params.Func, levels)
	if err != nil {
		return nil, err
	}
	run.dwell = params.Dwell
	run.checkCompliance = params.CheckCompliance

	s.tasks.Start("ramp-"+ch.String(), func() { s.runLoop(run) })

	return run, nil
}

// RampToZeroParams configures a de-energizing ramp.
type RampToZeroParams struct {
	// Func is the source function to ramp down.
	Func tsp.SourceFunc
	// StepSize is the magnitude of each step, greater than zero.
	StepSize float64
	// Dwell is the cancellable delay after each step.
	Dwell time.Duration
	// Tolerance treats a level within it of zero as already there.
	Tolerance float64
}

// RampToZero ramps a channel down to zero in StepSize increments. A channel
// already within Tolerance of zero completes immediately.
func (s *Session) RampToZero(ctx context.Context, ch tsp.Channel, params RampToZeroParams) (*Run, error) {
	if !ch.Valid() {
		return nil, tsp.ErrInvalidChannel
	}
	if params.StepSize <= 0 || math.IsNaN(params.StepSize) || math.IsInf(params.StepSize, 0) {
		return nil, fmt.Errorf("%w: step size %v", ErrInvalidRunParams, params.StepSize)
	}
	if params.Tolerance < 0 {
		return nil, fmt.Errorf("%w: negative tolerance", ErrInvalidRunParams)
	}
	if params.Dwell < 0 {
		return nil, fmt.Errorf("%w: negative dwell", ErrInvalidRunParams)
	}

	s.stateMu.RLock()
	from := s.channels[ch].Level()
	s.stateMu.RUnlock()

	var levels []float64
	if math.Abs(from) > params.Tolerance {
		steps := int(math.Ceil(math.Abs(from) / params.StepSize))
		levels = rampLevels(from, 0, steps)
	}

	run, err := s.startRun(ch, RunRamp, params.Func, levels)
	if err != nil {
		return nil, err
	}
	run.dwell = params.Dwell

	s.tasks.Start("ramp-to-zero-"+ch.String(), func() { s.runLoop(run) })

	return run, nil
}

// StartSweep starts an ordered traversal of discrete levels with a settle
// delay and a measurement at each point.
func (s *Session) StartSweep(ctx context.Context, ch tsp.Channel, params SweepParams) (*Run, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	levels := make([]float64, len(params.Levels))
	copy(levels, params.Levels)

	run, err := s.startRun(ch, RunSweep, params.Func, levels)
	if err != nil {
		return nil, err
	}
	run.dwell = params.Settle
	run.measure = true

	s.tasks.Start("sweep-"+ch.String(), func() { s.runLoop(run) })

	return run, nil
}

// Run returns the most recent run on a channel, terminal or not.
func (s *Session) Run(ch tsp.Channel) (*Run, bool) {
	return s.runs.Load(ch)
}

// PauseRun holds a channel's run at the next step boundary.
//
// A paused run keeps its turn on the instrument link: manual commands,
// including Measure, queue until the run is resumed and finishes or is
// cancelled.
func (s *Session) PauseRun(ch tsp.Channel) error {
	run, ok := s.runs.Load(ch)
	if !ok {
		return ErrNoRun
	}

	return run.Pause()
}

// ResumeRun restarts a channel's paused run.
func (s *Session) ResumeRun(ch tsp.Channel) error {
	run, ok := s.runs.Load(ch)
	if !ok {
		return ErrNoRun
	}

	return run.Resume()
}

// CancelRun requests cooperative cancellation of a channel's run. The run
// transitions to Cancelled at the next step boundary; an in-flight command
// is never interrupted. Idempotent for terminal runs.
func (s *Session) CancelRun(ch tsp.Channel) error {
	run, ok := s.runs.Load(ch)
	if !ok {
		return ErrNoRun
	}
	run.Cancel()

	return nil
}

// startRun validates preconditions shared by every run kind and registers
// the run, failing on conflict with an existing non-terminal run.
func (s *Session) startRun(ch tsp.Channel, kind RunKind, fn tsp.SourceFunc, levels []float64) (*Run, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if !ch.Valid() {
		return nil, tsp.ErrInvalidChannel
	}

	s.stateMu.RLock()
	limits := s.limits[ch]
	mode := s.mode
	s.stateMu.RUnlock()

	// Every commanded level must pass the governor before the run starts;
	// the per-step validation still runs as the single chokepoint.
	for _, level := range levels {
		if err := Validate(tsp.SetSourceLevel{Channel: ch, Func: fn, Value: level}, limits, mode); err != nil {
			return nil, err
		}
	}
	if len(levels) == 0 {
		// Degenerate run; still requires an armed session.
		if err := Validate(tsp.EnableOutput{Channel: ch, On: true}, limits, mode); err != nil {
			return nil, err
		}
	}

	run := newRun(s.tasks.Context(), kind, ch, fn, levels)

	conflict := false
	s.runs.Compute(ch, func(old *Run, loaded bool) (*Run, bool) {
		if loaded && old != nil && !old.Status().Terminal() {
			conflict = true
			return old, false
		}
		return run, false
	})
	if conflict {
		return nil, ErrRunActive
	}

	return run, nil
}

// runLoop executes one automation run. It owns the connection's turn for the
// whole sequence: single-shot commands issued while it runs queue behind it.
func (s *Session) runLoop(run *Run) {
	log := s.logger.With("run", run.id.String(), "kind", run.kind.String(), "channel", run.ch.String())

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	log.Info("automation run started", "steps", len(run.levels))

	// In-flight commands are never cancelled by run cancellation, so steps
	// use a fresh context bounded by the policy's command timeout.
	cmdCtx := context.Background()

	if len(run.levels) > 0 {
		if err := s.ensureOutputLocked(cmdCtx, run.ch); err != nil {
			s.failRunLocked(run, err, log)
			return
		}
	}

	for {
		level, ok := run.next()
		if !ok {
			break
		}

		if err := s.applyLevelLocked(cmdCtx, run.ch, run.fn, level); err != nil {
			s.failRunLocked(run, err, log)
			return
		}
		run.advance()
		s.notifyChannel(run.ch)

		switch {
		case run.measure:
			// Settle, then measure this point. Cancellation takes effect at
			// the next step boundary.
			run.wait(run.dwell)
			m, err := s.measureLocked(cmdCtx, run.ch, false)
			if err != nil {
				s.failRunLocked(run, err, log)
				return
			}
			m.Level = level
			run.record(m)

		case run.checkCompliance:
			reply, err := s.doLocked(cmdCtx, tsp.ReadCompliance{Channel: run.ch}, false)
			if err != nil {
				s.failRunLocked(run, err, log)
				return
			}
			if reply.Flag {
				// The output is clamped; further levels would not take
				// effect. Stop at this step and report the trip.
				run.record(Measurement{Level: level, InCompliance: true})
				s.stateMu.Lock()
				s.channels[run.ch].ApplyCompliance(true)
				s.stateMu.Unlock()
				s.notifyChannel(run.ch)
				log.Warn("compliance reached, stopping run early", "level", level)
				run.finish(RunCompleted, nil)
				return
			}
			run.wait(run.dwell)

		default:
			run.wait(run.dwell)
		}
	}

	if run.ctx.Err() != nil && !run.Status().Terminal() {
		log.Info("automation run cancelled, returning channel to standby")
		s.standbyLocked(context.Background())
		run.finish(RunCancelled, nil)
		return
	}

	run.finish(RunCompleted, nil)
	log.Info("automation run completed")
}

func (s *Session) failRunLocked(run *Run, err error, log logger.Logger) {
	log.Error("automation run failed, forcing standby", "error", err)
	run.finish(RunFailed, err)
	s.standbyLocked(context.Background())
}

func (s *Session) ensureOutputLocked(ctx context.Context, ch tsp.Channel) error {
	s.stateMu.RLock()
	on := s.channels[ch].OutputEnabled()
	s.stateMu.RUnlock()

	if on {
		return nil
	}

	if _, err := s.doLocked(ctx, tsp.EnableOutput{Channel: ch, On: true}, false); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.channels[ch].SetOutput(true)
	s.stateMu.Unlock()
	s.notifyChannel(ch)

	return nil
}

func (s *Session) applyLevelLocked(ctx context.Context, ch tsp.Channel, fn tsp.SourceFunc, level float64) error {
	if _, err := s.doLocked(ctx, tsp.SetSourceLevel{Channel: ch, Func: fn, Value: level}, false); err != nil {
		return err
	}

	s.stateMu.Lock()
	err := s.channels[ch].ApplySourceLevel(fn, level)
	s.stateMu.Unlock()

	return err
}

// --- serialized command path ---

// doLocked validates, encodes, exchanges and decodes one intent, then
// optionally drains the instrument error queue. Transport and reply-parsing
// faults force the session back to Standby before the error surfaces.
// blindRetry false suppresses the transport's idempotent resend; automation
// steps are never resent blindly.
func (s *Session) doLocked(ctx context.Context, intent tsp.Intent, blindRetry bool) (tsp.Reply, error) {
	reply, err := s.exchangeLocked(ctx, intent, blindRetry)
	if err != nil {
		if s.isFault(err) {
			s.logger.Error("fault on command path, reverting to standby",
				"intent", fmt.Sprintf("%T", intent), "error", err)
			s.standbyLocked(context.Background())
		}
		return reply, err
	}

	if s.cfg.drainErrorQueue {
		if _, isDrain := intent.(tsp.QueryError); !isDrain {
			entries, derr := s.drainLocked(ctx)
			if derr != nil {
				if s.isFault(derr) {
					s.standbyLocked(context.Background())
				}
				return reply, derr
			}
			if len(entries) > 0 {
				for _, entry := range entries {
					s.logger.Warn("instrument reported error", "code", entry.Code,
						"severity", entry.Severity, "message", entry.Message)
				}
				return reply, &tsp.InstrumentError{Entry: entries[0]}
			}
		}
	}

	return reply, nil
}

// exchangeLocked is the raw validated round trip with no fail-safe side
// effects: governor → encode → exchange → decode.
func (s *Session) exchangeLocked(ctx context.Context, intent tsp.Intent, blindRetry bool) (tsp.Reply, error) {
	s.stateMu.RLock()
	var limits SafetyLimits
	if ch, ok := tsp.IntentChannel(intent); ok {
		limits = s.limits[ch]
	}
	mode := s.mode
	s.stateMu.RUnlock()

	if err := Validate(intent, limits, mode); err != nil {
		return tsp.Reply{}, err
	}

	cmd, err := tsp.Encode(intent)
	if err != nil {
		return tsp.Reply{}, err
	}

	idempotent := blindRetry && intent.Idempotent()
	resp, err := s.conn.Exchange(ctx, cmd, intent.ReplyKind() != tsp.ReplyNone, idempotent)
	if err != nil {
		return tsp.Reply{}, err
	}

	return tsp.Decode(resp, intent.ReplyKind())
}

func (s *Session) drainLocked(ctx context.Context) ([]tsp.ErrorEntry, error) {
	var entries []tsp.ErrorEntry
	for i := 0; i < maxErrorQueueDrain; i++ {
		reply, err := s.exchangeLocked(ctx, tsp.QueryError{}, true)
		if err != nil {
			return entries, err
		}
		if reply.Entry == nil {
			break
		}
		entries = append(entries, *reply.Entry)
	}

	return entries, nil
}

// standbyLocked forces Standby: mode and every channel output drop
// atomically in the in-memory model, then the instrument outputs are
// disabled best effort. Idempotent.
func (s *Session) standbyLocked(ctx context.Context) {
	s.stateMu.Lock()
	wasActive := s.mode == Active
	s.mode = Standby
	for _, chs := range s.channels {
		chs.Disable()
	}
	s.stateMu.Unlock()

	if wasActive {
		s.logger.Info("entered standby mode")
	}

	for _, ch := range []tsp.Channel{tsp.ChannelA, tsp.ChannelB} {
		if _, err := s.exchangeLocked(ctx, tsp.EnableOutput{Channel: ch, On: false}, true); err != nil {
			s.logger.Warn("standby: output disable not acknowledged",
				"channel", ch.String(), "error", err)
		}
	}

	s.notifyAll()
}

// isFault reports whether an error is a transport or reply-parsing fault
// that must trigger the fail-safe revert to Standby. Governor rejections and
// instrument-reported errors are not faults.
func (s *Session) isFault(err error) bool {
	return errors.Is(err, visa.ErrTransport) ||
		errors.Is(err, tsp.ErrMalformedReply) ||
		errors.Is(err, tsp.ErrUnexpectedReply)
}

func (s *Session) notifyChannel(ch tsp.Channel) {
	s.stateMu.RLock()
	snap := s.channels[ch].Snapshot()
	s.stateMu.RUnlock()

	s.subs.Range(func(_ uuid.UUID, h StateHandler) bool {
		h(snap)
		return true
	})
}

func (s *Session) notifyAll() {
	s.notifyChannel(tsp.ChannelA)
	s.notifyChannel(tsp.ChannelB)
}
