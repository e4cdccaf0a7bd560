package visa

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// simIdentity is the identification string the simulator reports for *IDN?.
const simIdentity = "Keithley Instruments Inc., Model 2612, 1234567, FW-1.0"

// errorQueuePrefix identifies the error-queue drain command without coupling
// the simulator to the codec package.
const errorQueuePrefix = "local code, msg, severity, node = errorqueue.next()"

// simChannel models one SMU channel of the simulated 2612.
type simChannel struct {
	fn             string // OUTPUT_DCVOLTS / OUTPUT_DCAMPS
	autorange      bool
	levelV         float64
	levelI         float64
	limitV         float64
	limitI         float64
	output         bool
	compliance     bool
	displayMeasure string
}

func newSimChannel() *simChannel {
	return &simChannel{
		fn:        "OUTPUT_DCVOLTS",
		autorange: true,
		limitI:    1e-3,
	}
}

type simError struct {
	code     int
	message  string
	severity int
	node     int
}

// Simulator is an in-process Transport that models the 2612 command set.
// It accepts the same command strings as the hardware and produces
// syntactically identical responses, so everything above the transport runs
// unchanged against it.
//
// Test hooks (SetCompliance, PushError, FailOn, SetNoise, SetLatency) inject
// conditions that only hardware would otherwise produce.
type Simulator struct {
	mu       sync.Mutex
	open     bool
	channels map[string]*simChannel

	beeperOn      bool
	lastBeep      string
	displayScreen string

	errQueue []simError

	latency   time.Duration
	noiseAmpl float64
	rng       *rand.Rand

	failMatch string
	failErr   error
}

var _ Transport = (*Simulator)(nil)

// NewSimulator creates a simulator with both channels at power-on defaults.
func NewSimulator() *Simulator {
	return &Simulator{
		channels: map[string]*simChannel{
			"smua": newSimChannel(),
			"smub": newSimChannel(),
		},
		rng: rand.New(rand.NewSource(1)),
	}
}

func (s *Simulator) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = true

	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = false

	return nil
}

func (s *Simulator) RoundTrip(ctx context.Context, cmd []byte, expectReply bool) ([]byte, error) {
	if err := s.sleepLatency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrClosed
	}

	line := strings.TrimRight(string(cmd), "\r\n")
	line = strings.TrimSpace(line)

	if s.failMatch != "" && strings.Contains(line, s.failMatch) {
		err := s.failErr
		s.failMatch = ""
		s.failErr = nil

		return nil, err
	}

	reply, err := s.process(line)
	if err != nil {
		return nil, err
	}

	if !expectReply {
		return nil, nil
	}

	return []byte(reply), nil
}

// --- test hooks ---

// SetCompliance forces the compliance flag of a channel ("smua"/"smub").
func (s *Simulator) SetCompliance(alias string, tripped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[alias]; ok {
		ch.compliance = tripped
	}
}

// PushError appends an entry to the simulated instrument error queue.
func (s *Simulator) PushError(code int, message string, severity, node int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errQueue = append(s.errQueue, simError{code, message, severity, node})
}

// FailOn arms a one-shot fault: the next command containing match fails with
// err instead of being processed.
func (s *Simulator) FailOn(match string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failMatch = match
	s.failErr = err
}

// SetNoise sets the peak amplitude of uniform noise added to measurements,
// with a deterministic seed.
func (s *Simulator) SetNoise(amplitude float64, seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.noiseAmpl = amplitude
	s.rng = rand.New(rand.NewSource(seed))
}

// SetLatency sets a fixed per-command delay to mimic bus latency.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latency = d
}

// BeeperEnabled reports the simulated beeper enable state.
func (s *Simulator) BeeperEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.beeperOn
}

// LastBeep returns the last beeper.beep command processed.
func (s *Simulator) LastBeep() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastBeep
}

// DisplayScreen returns the selected display screen ("SMUA"/"SMUB").
func (s *Simulator) DisplayScreen() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.displayScreen
}

// ChannelLevel returns the sourced voltage level of a channel.
func (s *Simulator) ChannelLevel(alias string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[alias]; ok {
		return ch.levelV
	}

	return 0
}

// ChannelOutput reports the output relay state of a channel.
func (s *Simulator) ChannelOutput(alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[alias]; ok {
		return ch.output
	}

	return false
}

// ChannelLimit returns the compliance current limit of a channel.
func (s *Simulator) ChannelLimit(alias string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[alias]; ok {
		return ch.limitI
	}

	return 0
}

// --- command model ---

func (s *Simulator) sleepLatency(ctx context.Context) error {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency <= 0 {
		return nil
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Simulator) process(line string) (string, error) {
	switch {
	case line == "":
		return "", nil

	case line == "*IDN?":
		return simIdentity, nil

	case line == "*RST":
		for alias := range s.channels {
			s.channels[alias] = newSimChannel()
		}
		return "", nil

	case strings.HasPrefix(line, errorQueuePrefix):
		return s.popError(), nil

	case strings.HasSuffix(line, ".reset()"):
		alias := strings.TrimSuffix(line, ".reset()")
		if _, ok := s.channels[alias]; !ok {
			return "", fmt.Errorf("%w: %q", ErrUnsupported, line)
		}
		s.channels[alias] = newSimChannel()
		return "", nil

	case strings.HasPrefix(line, "beeper.beep(") && strings.HasSuffix(line, ")"):
		s.lastBeep = line
		return "", nil

	case strings.HasPrefix(line, "print(") && strings.HasSuffix(line, ")"):
		return s.evaluate(line[len("print(") : len(line)-1])

	case strings.Contains(line, "="):
		return "", s.assign(line)

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, line)
	}
}

func (s *Simulator) assign(line string) error {
	lhs, rhs, _ := strings.Cut(line, "=")
	lhs = strings.TrimSpace(lhs)
	rhs = strings.TrimSpace(rhs)

	switch lhs {
	case "beeper.enable":
		s.beeperOn = rhs == "1" || strings.HasSuffix(rhs, "ON")
		return nil
	case "display.screen":
		s.displayScreen = strings.TrimPrefix(rhs, "display.")
		return nil
	}

	alias, attr, ok := strings.Cut(lhs, ".")
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupported, line)
	}
	ch, chOK := s.channels[alias]
	if !chOK {
		return fmt.Errorf("%w: unknown channel in %q", ErrUnsupported, line)
	}

	switch attr {
	case "source.func":
		ch.fn = rhs[strings.LastIndex(rhs, ".")+1:]
	case "source.autorangev", "source.autorangei":
		ch.autorange = strings.HasSuffix(rhs, "AUTORANGE_ON")
	case "source.output":
		ch.output = strings.HasSuffix(rhs, "OUTPUT_ON")
	case "display.measure.func":
		ch.displayMeasure = rhs[strings.LastIndex(rhs, ".")+1:]
	case "source.levelv", "source.leveli", "source.limitv", "source.limiti":
		v, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			s.errQueue = append(s.errQueue, simError{-285, "TSP Syntax error at line 1", 3, 0})
			return fmt.Errorf("%w: bad number in %q", ErrUnsupported, line)
		}
		switch attr {
		case "source.levelv":
			ch.levelV = v
		case "source.leveli":
			ch.levelI = v
		case "source.limitv":
			ch.limitV = v
		case "source.limiti":
			ch.limitI = v
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, line)
	}

	return nil
}

func (s *Simulator) evaluate(expr string) (string, error) {
	alias, rest, ok := strings.Cut(expr, ".")
	if !ok {
		return "", fmt.Errorf("%w: expression %q", ErrUnsupported, expr)
	}
	ch, chOK := s.channels[alias]
	if !chOK {
		return "", fmt.Errorf("%w: unknown channel in %q", ErrUnsupported, expr)
	}

	switch rest {
	case "measure.v()":
		return s.format(s.measured(ch.levelV, ch.output)), nil
	case "measure.i()":
		if ch.compliance {
			// Clamped at the limit while in compliance.
			return s.format(ch.limitI), nil
		}
		return s.format(s.measured(ch.levelI, ch.output)), nil
	case "source.compliance":
		if ch.compliance {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("%w: expression %q", ErrUnsupported, expr)
	}
}

func (s *Simulator) measured(level float64, output bool) float64 {
	if !output {
		return 0
	}
	if s.noiseAmpl > 0 {
		return level + s.noiseAmpl*(2*s.rng.Float64()-1)
	}

	return level
}

func (s *Simulator) format(v float64) string {
	return strconv.FormatFloat(v, 'e', 6, 64)
}

func (s *Simulator) popError() string {
	if len(s.errQueue) == 0 {
		return ""
	}

	entry := s.errQueue[0]
	s.errQueue = s.errQueue[1:]

	return fmt.Sprintf("%d|%s|%d|%d", entry.code, entry.message, entry.severity, entry.node)
}
