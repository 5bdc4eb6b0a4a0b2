package main

import (
	"testing"
	"time"
)

func TestNewStateCoreChannelPorts(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	for i := 0; i < 4; i++ {
		ch := sc.GetChannel(i)
		if ch == nil {
			t.Fatalf("channel %d missing", i)
		}
		if ch.UDPPort != 2237+i {
			t.Errorf("channel %d UDPPort = %d, want %d", i, ch.UDPPort, 2237+i)
		}
		if ch.TCPPort != 7809+i {
			t.Errorf("channel %d TCPPort = %d, want %d", i, ch.TCPPort, 7809+i)
		}
	}
	if sc.GetChannel(-1) != nil || sc.GetChannel(4) != nil {
		t.Error("out-of-range channel lookups must return nil")
	}
}

func TestRecordHeartbeatTransitionsIdle(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	sc.RecordHeartbeat(0)
	ch := sc.GetChannel(0)
	if !ch.Connected {
		t.Error("channel should be connected after a heartbeat")
	}
	if ch.Status != StatusIdle {
		t.Errorf("status = %v, want idle", ch.Status)
	}
}

func TestUpdateFromDecoderStatusDerivesBandAndStatus(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	sc.UpdateFromDecoderStatus(0, DecoderStatusUpdate{DialFreqHz: 14_074_000, Decoding: true})
	ch := sc.GetChannel(0)
	if ch.Band != "20m" {
		t.Errorf("band = %q, want 20m", ch.Band)
	}
	if ch.Status != StatusDecoding {
		t.Errorf("status = %v, want decoding", ch.Status)
	}

	sc.UpdateFromDecoderStatus(0, DecoderStatusUpdate{DialFreqHz: 14_074_000, Transmitting: true})
	ch = sc.GetChannel(0)
	if ch.Status != StatusCalling {
		t.Errorf("status = %v, want calling once transmitting", ch.Status)
	}
}

func TestAddDecodeTrimsHistory(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	for i := 0; i < maxDecodeHistory+10; i++ {
		sc.AddDecode(InternalDecodeRecord{ChannelIndex: 0, Timestamp: time.Now().UTC()})
	}
	recent := sc.RecentDecodes(0)
	if len(recent) != maxDecodeHistory {
		t.Errorf("history length = %d, want %d", len(recent), maxDecodeHistory)
	}
}

func TestRecentDecodesOrderAndCap(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	for i := 0; i < 5; i++ {
		sc.AddDecode(InternalDecodeRecord{ChannelIndex: 0, Callsign: string(rune('A' + i))})
	}
	recent := sc.RecentDecodes(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if recent[2].Callsign != "E" {
		t.Errorf("newest record should be last, got %q", recent[2].Callsign)
	}
}

func TestWorkedIndexCaseAndKeyNormalization(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	sc.MarkWorked("k1abc", "20M", "ft8")
	if !sc.IsWorked("K1ABC", "20m", "FT8") {
		t.Error("worked lookup should be case/band-normalized")
	}
	sc.ClearWorked()
	if sc.IsWorked("K1ABC", "20m", "FT8") {
		t.Error("ClearWorked should empty the index")
	}
}

func TestIsWorkedOnBandAndAnywhere(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	sc.MarkWorked("K1ABC", "20m", "FT8")

	if !sc.IsWorkedOnBand("k1abc", "20M") {
		t.Error("IsWorkedOnBand should match regardless of case")
	}
	if sc.IsWorkedOnBand("K1ABC", "40m") {
		t.Error("IsWorkedOnBand should not match a different band")
	}
	if !sc.IsWorkedAnywhere("k1abc") {
		t.Error("IsWorkedAnywhere should match on any band/mode")
	}
	if sc.IsWorkedAnywhere("W1AW") {
		t.Error("IsWorkedAnywhere should not match an unworked call")
	}
}

func TestAddQSOMarksWorked(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	sc.AddQSO(QSORecord{ChannelIndex: 0, Callsign: "K1ABC", Band: "20m", Mode: "FT8"})
	if !sc.IsWorked("K1ABC", "20m", "FT8") {
		t.Error("AddQSO should mark the contact worked")
	}
	ch := sc.GetChannel(0)
	if ch.QSOCount != 1 {
		t.Errorf("QSOCount = %d, want 1", ch.QSOCount)
	}
}

func TestWatchHeartbeatsTimesOutStaleChannel(t *testing.T) {
	sc := NewStateCore(2237, 7809)
	sc.RecordHeartbeat(0)
	sc.mu.Lock()
	sc.channels[0].LastHeartbeat = time.Now().UTC().Add(-heartbeatTimeout - time.Second)
	sc.mu.Unlock()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		sc.WatchHeartbeats(stop)
		close(done)
	}()

	deadline := time.After(heartbeatInterval + 2*time.Second)
	for {
		ch := sc.GetChannel(0)
		if ch.Status == StatusOffline {
			break
		}
		select {
		case <-deadline:
			close(stop)
			t.Fatal("channel never timed out to offline")
		case <-time.After(50 * time.Millisecond):
		}
	}
	close(stop)
	<-done
}
