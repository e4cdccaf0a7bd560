package smu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smulab/go-smu/tsp"
)

func TestRampLevels(t *testing.T) {
	t.Run("final level equals target exactly", func(t *testing.T) {
		levels := rampLevels(0, 0.3, 7)
		require.Len(t, levels, 7)
		require.Equal(t, 0.3, levels[6])
	})

	t.Run("monotonic ascending", func(t *testing.T) {
		levels := rampLevels(0, 5, 10)
		for i := 1; i < len(levels); i++ {
			require.Greater(t, levels[i], levels[i-1])
		}
	})

	t.Run("monotonic descending", func(t *testing.T) {
		levels := rampLevels(5, -5, 8)
		for i := 1; i < len(levels); i++ {
			require.Less(t, levels[i], levels[i-1])
		}
		require.Equal(t, -5.0, levels[7])
	})

	t.Run("single step jumps to target", func(t *testing.T) {
		require.Equal(t, []float64{2.5}, rampLevels(0, 2.5, 1))
	})

	t.Run("zero steps yields no levels", func(t *testing.T) {
		require.Empty(t, rampLevels(1, 0, 0))
	})

	t.Run("interpolation avoids accumulation drift", func(t *testing.T) {
		levels := rampLevels(0, 1, 1000)
		require.Equal(t, 1.0, levels[999])
	})
}

func TestRunLifecycle(t *testing.T) {
	newTestRun := func(levels []float64) *Run {
		return newRun(context.Background(), RunRamp, tsp.ChannelA, tsp.SourceVoltage, levels)
	}

	t.Run("next walks the levels", func(t *testing.T) {
		run := newTestRun([]float64{1, 2, 3})

		for _, want := range []float64{1, 2, 3} {
			level, ok := run.next()
			require.True(t, ok)
			require.Equal(t, want, level)
			run.advance()
		}

		_, ok := run.next()
		require.False(t, ok, "levels exhausted")

		run.finish(RunCompleted, nil)
		require.Equal(t, RunCompleted, run.Status())
		select {
		case <-run.Done():
		default:
			t.Fatal("done channel not closed")
		}
	})

	t.Run("pause blocks next until resume", func(t *testing.T) {
		run := newTestRun([]float64{1, 2})
		require.NoError(t, run.Pause())
		require.Equal(t, RunPaused, run.Status())

		got := make(chan float64, 1)
		go func() {
			level, ok := run.next()
			if ok {
				got <- level
			}
			close(got)
		}()

		select {
		case <-got:
			t.Fatal("next returned while paused")
		case <-time.After(20 * time.Millisecond):
		}

		require.NoError(t, run.Resume())
		select {
		case level := <-got:
			require.Equal(t, 1.0, level)
		case <-time.After(time.Second):
			t.Fatal("next did not resume")
		}
	})

	t.Run("cancel wakes a paused run", func(t *testing.T) {
		run := newTestRun([]float64{1})
		require.NoError(t, run.Pause())

		done := make(chan struct{})
		go func() {
			_, ok := run.next()
			require.False(t, ok)
			close(done)
		}()

		run.Cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("paused run did not observe cancellation")
		}
	})

	t.Run("invalid transitions rejected", func(t *testing.T) {
		run := newTestRun([]float64{1})
		require.ErrorIs(t, run.Resume(), ErrInvalidRunTransition)

		require.NoError(t, run.Pause())
		require.ErrorIs(t, run.Pause(), ErrInvalidRunTransition)

		require.NoError(t, run.Resume())
		run.finish(RunCompleted, nil)
		require.ErrorIs(t, run.Pause(), ErrInvalidRunTransition)
		require.ErrorIs(t, run.Resume(), ErrInvalidRunTransition)
	})

	t.Run("finish is idempotent", func(t *testing.T) {
		run := newTestRun([]float64{1})
		run.finish(RunFailed, ErrNotActive)
		run.finish(RunCompleted, nil)

		require.Equal(t, RunFailed, run.Status())
		require.ErrorIs(t, run.Err(), ErrNotActive)
	})

	t.Run("wait returns early on cancel", func(t *testing.T) {
		run := newTestRun([]float64{1})
		run.Cancel()

		start := time.Now()
		run.wait(5 * time.Second)
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("record latches compliance trip", func(t *testing.T) {
		run := newTestRun([]float64{1, 2})
		run.record(Measurement{Level: 1, Value: 0.9})
		run.record(Measurement{Level: 2, Value: 1.1, InCompliance: true})

		require.True(t, run.Snapshot().ComplianceTripped)
		require.Len(t, run.Results(), 2)
	})
}

func TestRunParamsValidation(t *testing.T) {
	t.Run("ramp", func(t *testing.T) {
		require.NoError(t, RampParams{Func: tsp.SourceVoltage, Target: 1, Steps: 5}.validate())
		require.ErrorIs(t, RampParams{Target: 1, Steps: 0}.validate(), ErrInvalidRunParams)
		require.ErrorIs(t, RampParams{Target: 1, Steps: 1, Dwell: -time.Second}.validate(), ErrInvalidRunParams)
	})

	t.Run("sweep", func(t *testing.T) {
		require.NoError(t, SweepParams{Levels: []float64{0, 1}}.validate())
		require.ErrorIs(t, SweepParams{}.validate(), ErrInvalidRunParams)
		require.ErrorIs(t, SweepParams{Levels: []float64{0}, Settle: -1}.validate(), ErrInvalidRunParams)
	})
}
