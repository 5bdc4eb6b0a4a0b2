package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeDecoderBinary writes a shell script that ignores whatever
// arguments the supervisor passes and sleeps, so tests can observe a
// real supervised process without depending on an actual decoder.
func fakeDecoderBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-decoder.sh")
	script := "#!/bin/sh\nsleep 5\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSliceAddedStartsProcessAndTracksPID(t *testing.T) {
	state := NewStateCore(19000, 27000)
	metrics := NewMetrics(nil)
	egress := NewUDPEgressManager()
	configRoot := t.TempDir()

	sup := NewDecoderSupervisor(state, metrics, egress, nil, configRoot, fakeDecoderBinary(t))
	ch := *state.GetChannel(0)
	ch.Letter = "A"

	if err := sup.SliceAdded(0, ch); err != nil {
		t.Fatalf("SliceAdded: %v", err)
	}
	defer sup.SliceRemoved(0)

	deadline := time.After(2 * time.Second)
	for {
		inst := state.GetInstance(0)
		if inst.PID != 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("decoder instance never recorded a pid")
		case <-time.After(10 * time.Millisecond):
		}
	}

	configPath := filepath.Join(configRoot, "slice-A", "decoder.conf")
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("expected a rendered decoder config at %s: %v", configPath, err)
	}

	sample := NewHealthSampler().Sample(state.GetInstance(0).PID)
	if !sample.Alive {
		t.Error("expected the spawned decoder process to sample as alive")
	}
}

func TestSliceAddedIsIdempotent(t *testing.T) {
	state := NewStateCore(19000, 27000)
	metrics := NewMetrics(nil)
	egress := NewUDPEgressManager()
	sup := NewDecoderSupervisor(state, metrics, egress, nil, t.TempDir(), fakeDecoderBinary(t))
	ch := *state.GetChannel(1)
	ch.Letter = "B"

	if err := sup.SliceAdded(1, ch); err != nil {
		t.Fatalf("first SliceAdded: %v", err)
	}
	defer sup.SliceRemoved(1)
	if err := sup.SliceAdded(1, ch); err != nil {
		t.Fatalf("second SliceAdded should be a no-op, got error: %v", err)
	}
}

func TestSliceRemovedIsIdempotent(t *testing.T) {
	state := NewStateCore(19000, 27000)
	metrics := NewMetrics(nil)
	egress := NewUDPEgressManager()
	sup := NewDecoderSupervisor(state, metrics, egress, nil, t.TempDir(), fakeDecoderBinary(t))

	if err := sup.SliceRemoved(2); err != nil {
		t.Fatalf("removing a never-added slice should be a no-op, got %v", err)
	}

	ch := *state.GetChannel(2)
	ch.Letter = "C"
	if err := sup.SliceAdded(2, ch); err != nil {
		t.Fatalf("SliceAdded: %v", err)
	}
	if err := sup.SliceRemoved(2); err != nil {
		t.Fatalf("SliceRemoved: %v", err)
	}
	if err := sup.SliceRemoved(2); err != nil {
		t.Fatalf("second SliceRemoved should be a no-op, got %v", err)
	}
}
