package main

import (
	"os"
	"testing"
)

func TestSampleDeadOrInvalidPID(t *testing.T) {
	h := NewHealthSampler()

	for _, pid := range []int{0, -1} {
		s := h.Sample(pid)
		if s.Alive || !s.SampleFailed {
			t.Errorf("Sample(%d) = %+v, want Alive=false SampleFailed=true", pid, s)
		}
	}

	s := h.Sample(999999999)
	if s.Alive {
		t.Error("an implausible pid should never be reported alive")
	}
}

func TestSampleOwnProcessIsAlive(t *testing.T) {
	h := NewHealthSampler()
	s := h.Sample(os.Getpid())
	if !s.Alive {
		t.Error("sampling this process's own pid should report Alive=true")
	}
}

func TestSampleAllSkipsEmptyInstances(t *testing.T) {
	state := NewStateCore(19000, 27000)
	metrics := NewMetrics(nil)
	h := NewHealthSampler()

	out := h.SampleAll(state, metrics)
	if len(out) != 0 {
		t.Errorf("expected no samples when no instance has a pid, got %d", len(out))
	}

	state.UpdateInstance(0, func(inst *DecoderInstance) { inst.PID = os.Getpid() })
	out = h.SampleAll(state, metrics)
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 sample, got %d", len(out))
	}
	if !out[0].Alive {
		t.Error("expected the sampled own-process instance to be alive")
	}
}
