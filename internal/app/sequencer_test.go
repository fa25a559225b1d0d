package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerRunsInOrderWithPacing(t *testing.T) {
	var (
		mu    sync.Mutex
		order []core.ConnID
		at    []time.Time
	)
	step := func(_ context.Context, target core.ConnID) (StepResult, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, target)
		at = append(at, time.Now())
		switch target {
		case "c":
			return StepSkipped, nil
		case "d":
			return StepCalled, errors.New("boom")
		}
		return StepCalled, nil
	}

	done := make(chan GroupReport, 1)
	s := NewSequencer(20*time.Millisecond, func(_ core.ConnID, rep GroupReport) { done <- rep })
	job := s.Start("a", []core.ConnID{"b", "c", "d", "e"}, step)
	rep := job.Wait()

	assert.Equal(t, []core.ConnID{"b", "c", "d", "e"}, order)
	assert.Equal(t, []core.ConnID{"b", "e"}, rep.Called)
	assert.Equal(t, []core.ConnID{"c"}, rep.Skipped)
	assert.Equal(t, []core.ConnID{"d"}, rep.Failed)
	assert.False(t, rep.Canceled)
	assert.GreaterOrEqual(t, at[1].Sub(at[0]), 20*time.Millisecond, "pause after a placed call")

	select {
	case got := <-done:
		assert.Equal(t, rep.Called, got.Called)
	case <-time.After(time.Second):
		t.Fatal("completion callback not called")
	}
	assert.False(t, s.Running("a"))
}

func TestSequencerCancelStopsBeforeNextStep(t *testing.T) {
	var calls []core.ConnID
	var mu sync.Mutex
	step := func(_ context.Context, target core.ConnID) (StepResult, error) {
		mu.Lock()
		calls = append(calls, target)
		mu.Unlock()
		return StepCalled, nil
	}
	s := NewSequencer(time.Hour, func(core.ConnID, GroupReport) { t.Error("canceled job reported") })
	job := s.Start("a", []core.ConnID{"b", "c"}, step)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, time.Millisecond)
	assert.True(t, s.Running("a"))
	assert.True(t, s.Cancel("a"))

	rep := job.Wait()
	assert.True(t, rep.Canceled)
	assert.Equal(t, []core.ConnID{"b"}, rep.Called)
	assert.False(t, s.Cancel("a"))
}

func TestSequencerStartSupersedes(t *testing.T) {
	block := make(chan struct{})
	step := func(ctx context.Context, target core.ConnID) (StepResult, error) {
		if target == "slow" {
			select {
			case <-block:
			case <-ctx.Done():
			}
		}
		return StepSkipped, nil
	}
	s := NewSequencer(0, nil)
	first := s.Start("a", []core.ConnID{"slow", "x"}, step)
	second := s.Start("a", []core.ConnID{"y"}, step)

	assert.True(t, first.Wait().Canceled)
	rep := second.Wait()
	assert.False(t, rep.Canceled)
	assert.Equal(t, []core.ConnID{"y"}, rep.Skipped)
	close(block)
}

func TestSequencerShutdown(t *testing.T) {
	s := NewSequencer(time.Hour, nil)
	job := s.Start("a", []core.ConnID{"b", "c"}, func(context.Context, core.ConnID) (StepResult, error) {
		return StepCalled, nil
	})
	require.Eventually(t, func() bool { return s.Running("a") }, time.Second, time.Millisecond)
	s.Shutdown()
	select {
	case <-job.Done():
	default:
		t.Fatal("job still running after shutdown")
	}
}
