package main

import "testing"

func newTestIngestManager() (*UDPIngestManager, *StateCore) {
	state := NewStateCore(19000, 27000)
	metrics := NewMetrics(nil)
	station := StationProfile{Callsign: "W1AW", Continent: "NA"}
	m := NewUDPIngestManager(state, nil, station, nil, metrics)
	return m, state
}

func heartbeatFrame() []byte {
	w := &frameWriter{}
	w.writeHeader(msgHeartbeat)
	w.writeString("wsjt-x", false)
	return w.bytes()
}

func statusFrame(dialHz uint64, decoding bool) []byte {
	w := &frameWriter{}
	w.writeHeader(msgStatus)
	w.writeString("wsjt-x", false)
	w.writeUint64(dialHz)
	w.writeString("FT8", false)
	w.writeString("", false)
	w.writeString("", false)
	w.writeString("", false)
	w.writeBool(false)
	w.writeBool(false)
	w.writeBool(decoding)
	w.writeUint32(1500)
	w.writeUint32(1500)
	return w.bytes()
}

func decodeFrame(message string) []byte {
	w := &frameWriter{}
	w.writeHeader(msgDecode)
	w.writeString("wsjt-x", false)
	w.writeBool(true)
	w.writeUint32(0)
	w.writeInt32(-10)
	w.writeDouble(0.2)
	w.writeUint32(1500)
	w.writeString("FT8", false)
	w.writeString(message, false)
	w.writeBool(false)
	w.writeBool(false)
	return w.bytes()
}

func TestHandleFrameHeartbeat(t *testing.T) {
	m, state := newTestIngestManager()
	m.handleFrame(0, heartbeatFrame())
	ch := state.GetChannel(0)
	if !ch.Connected {
		t.Error("heartbeat frame should mark the channel connected")
	}
}

func TestHandleFrameStatusUpdatesBand(t *testing.T) {
	m, state := newTestIngestManager()
	m.handleFrame(0, statusFrame(14_074_000, true))
	ch := state.GetChannel(0)
	if ch.Band != "20m" {
		t.Errorf("band = %q, want 20m", ch.Band)
	}
	if ch.Status != StatusDecoding {
		t.Errorf("status = %v, want decoding", ch.Status)
	}
}

func TestHandleFrameDecodeWithCallsignIsAdded(t *testing.T) {
	m, state := newTestIngestManager()
	m.handleFrame(0, statusFrame(14_074_000, true))
	m.handleFrame(0, decodeFrame("CQ DX K1ABC FN31"))

	recent := state.RecentDecodes(10)
	if len(recent) != 1 {
		t.Fatalf("expected 1 decode, got %d", len(recent))
	}
	if recent[0].Callsign != "K1ABC" {
		t.Errorf("callsign = %q, want K1ABC", recent[0].Callsign)
	}
	if recent[0].Band != "20m" {
		t.Errorf("band = %q, want 20m (derived from channel state)", recent[0].Band)
	}
}

func TestHandleFrameDecodeWithoutCallsignIsDropped(t *testing.T) {
	m, state := newTestIngestManager()
	m.handleFrame(0, statusFrame(14_074_000, true))
	m.handleFrame(0, decodeFrame("<...>"))

	if len(state.RecentDecodes(10)) != 0 {
		t.Error("a decode with no parseable callsign must be dropped, not stored")
	}
}

func TestHandleFrameBadMagicCountsParseError(t *testing.T) {
	m, _ := newTestIngestManager()
	bad := heartbeatFrame()
	bad[0] ^= 0xFF
	m.handleFrame(0, bad) // must not panic
	if got := counterValue(t, m.metrics.protocolErrorsTotal.WithLabelValues("udp_ingest")); got != 1 {
		t.Errorf("parse error count = %v, want 1", got)
	}
}

func TestHandleFrameCloseMarksOffline(t *testing.T) {
	m, state := newTestIngestManager()
	m.handleFrame(0, heartbeatFrame())
	w := &frameWriter{}
	w.writeHeader(msgClose)
	w.writeString("wsjt-x", false)
	m.handleFrame(0, w.bytes())

	ch := state.GetChannel(0)
	if ch.Connected {
		t.Error("close frame should mark the channel disconnected")
	}
}

func TestParseIntSafe(t *testing.T) {
	if got := parseIntSafe("100"); got != 100 {
		t.Errorf("parseIntSafe(100) = %d", got)
	}
	if got := parseIntSafe(""); got != 0 {
		t.Errorf("parseIntSafe(\"\") = %d, want 0", got)
	}
	if got := parseIntSafe("not-a-number"); got != 0 {
		t.Errorf("parseIntSafe(garbage) = %d, want 0", got)
	}
}
