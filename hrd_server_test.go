package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestHRDFrameRoundTrip(t *testing.T) {
	frame, err := encodeHRDFrame("STATUS")
	if err != nil {
		t.Fatalf("encodeHRDFrame: %v", err)
	}
	got, err := decodeHRDFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("decodeHRDFrame: %v", err)
	}
	if got != "STATUS" {
		t.Errorf("round trip = %q, want STATUS", got)
	}
}

func TestHRDFrameEmptyPayload(t *testing.T) {
	frame, err := encodeHRDFrame("")
	if err != nil {
		t.Fatalf("encodeHRDFrame: %v", err)
	}
	got, err := decodeHRDFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("decodeHRDFrame: %v", err)
	}
	if got != "" {
		t.Errorf("round trip = %q, want empty string", got)
	}
}

func TestHRDFrameBadMagicRejected(t *testing.T) {
	frame, _ := encodeHRDFrame("F 14074000")
	frame[4] = frame[4] ^ 0xFF // corrupt magic1
	if _, err := decodeHRDFrame(bytes.NewReader(frame)); err == nil {
		t.Error("expected an error for a corrupted magic word")
	}
}

func TestHRDFrameChecksumMismatchTolerated(t *testing.T) {
	frame, err := encodeHRDFrame("F 14074000")
	if err != nil {
		t.Fatal(err)
	}
	frame[12] ^= 0xFF // corrupt checksum only
	got, err := decodeHRDFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("checksum mismatch must not be rejected, got error: %v", err)
	}
	if got != "F 14074000" {
		t.Errorf("payload should still decode correctly, got %q", got)
	}
}

func TestXorSumNonAlignedLength(t *testing.T) {
	for n := 0; n < 16; n++ {
		body := make([]byte, n)
		for i := range body {
			body[i] = byte(i + 1)
		}
		// Must not panic regardless of length, and must be stable.
		a := xorSum(body)
		b := xorSum(body)
		if a != b {
			t.Errorf("xorSum not stable for length %d", n)
		}
	}
}

// fakeRadioBackend implements RadioBackend by recording the last
// mutation per slice, with no real socket involved.
type fakeRadioBackend struct {
	freq      map[int]uint64
	mode      map[int]string
	tx        map[int]bool
	audioCh   map[int]int
	connected bool
}

func newFakeRadioBackend() *fakeRadioBackend {
	return &fakeRadioBackend{
		freq:      make(map[int]uint64),
		mode:      make(map[int]string),
		tx:        make(map[int]bool),
		audioCh:   make(map[int]int),
		connected: true,
	}
}

func (f *fakeRadioBackend) Connect(host string) error             { f.connected = true; return nil }
func (f *fakeRadioBackend) Disconnect()                            { f.connected = false }
func (f *fakeRadioBackend) Connected() bool                        { return f.connected }
func (f *fakeRadioBackend) ListSlices() []int                      { return nil }
func (f *fakeRadioBackend) SetCallbacks(cb RadioBackendCallbacks)  {}
func (f *fakeRadioBackend) Close()                                 {}

func (f *fakeRadioBackend) TuneSlice(index int, hz uint64) (int, error) {
	f.freq[index] = hz
	return rprtOK, nil
}
func (f *fakeRadioBackend) SetSliceMode(index int, mode string) (int, error) {
	f.mode[index] = mode
	return rprtOK, nil
}
func (f *fakeRadioBackend) SetSliceTX(index int, on bool) (int, error) {
	f.tx[index] = on
	return rprtOK, nil
}
func (f *fakeRadioBackend) SetSliceAudio(index int, channel int) (int, error) {
	f.audioCh[index] = channel
	return rprtOK, nil
}

func TestDispatchGetAndSetFrequency(t *testing.T) {
	state := NewStateCore(19000, 27000)
	state.UpdateFromDecoderStatus(0, DecoderStatusUpdate{DialFreqHz: 14_074_000})
	backend := newFakeRadioBackend()
	s := &HRDServer{channelIndex: 0, backend: backend, state: state}

	if got := s.dispatch("get frequency"); got != "14074000\nRPRT 0" {
		t.Errorf("get frequency reply = %q, want 14074000/RPRT 0", got)
	}
	if got := s.dispatch("set frequency-hz 7074000"); got != "RPRT 0" {
		t.Errorf("set frequency-hz reply = %q, want RPRT 0", got)
	}
	if backend.freq[0] != 7_074_000 {
		t.Errorf("backend tuned freq = %d, want 7074000", backend.freq[0])
	}
}

func TestDispatchModeDropdown(t *testing.T) {
	state := NewStateCore(19000, 27000)
	backend := newFakeRadioBackend()
	s := &HRDServer{channelIndex: 1, backend: backend, state: state}

	if got := s.dispatch("set dropdown Mode USB 1"); got != "RPRT 0" {
		t.Errorf("set dropdown Mode reply = %q, want RPRT 0", got)
	}
	if backend.mode[1] != "USB" {
		t.Errorf("backend mode = %q, want USB", backend.mode[1])
	}
}

func TestDispatchButtonSelectTX(t *testing.T) {
	state := NewStateCore(19000, 27000)
	backend := newFakeRadioBackend()
	s := &HRDServer{channelIndex: 0, backend: backend, state: state}

	if got := s.dispatch("get button-select {TX}"); got != "0\nRPRT 0" {
		t.Errorf("get button-select {TX} reply = %q, want 0/RPRT 0", got)
	}
	if got := s.dispatch("set button-select {TX} 1"); got != "RPRT 0" {
		t.Errorf("set button-select {TX} reply = %q, want RPRT 0", got)
	}
	if !backend.tx[0] {
		t.Error("backend should have TX on for slice 0")
	}

	state.SetTXChannel(0)
	if got := s.dispatch("get button-select {PTT}"); got != "1\nRPRT 0" {
		t.Errorf("get button-select {PTT} reply = %q, want 1/RPRT 0", got)
	}
}

func TestDispatchAggregateUsesTXChannel(t *testing.T) {
	state := NewStateCore(19000, 27000)
	state.SetTXChannel(2)
	backend := newFakeRadioBackend()
	s := &HRDServer{channelIndex: -1, backend: backend, state: state}

	if got := s.dispatch("set frequency-hz 21074000"); got != "RPRT 0" {
		t.Errorf("aggregate set frequency-hz reply = %q, want RPRT 0", got)
	}
	if backend.freq[2] != 21_074_000 {
		t.Errorf("aggregate write should target the TX channel (2), got freq[2]=%d", backend.freq[2])
	}
}

func TestDispatchRadioSelectorPrefixStripped(t *testing.T) {
	state := NewStateCore(19000, 27000)
	state.UpdateFromDecoderStatus(0, DecoderStatusUpdate{DialFreqHz: 14_074_000})
	s := &HRDServer{channelIndex: 0, state: state}
	if got := s.dispatch("[1] get frequency"); got != "14074000\nRPRT 0" {
		t.Errorf("prefixed get frequency reply = %q, want 14074000/RPRT 0", got)
	}
}

func TestDispatchRadioAndContext(t *testing.T) {
	state := NewStateCore(19000, 27000)
	agg := &HRDServer{channelIndex: -1, state: state}
	if got := agg.dispatch("get radios"); got != "FT8-MCP" {
		t.Errorf("get radios reply = %q, want FT8-MCP", got)
	}
	if got := agg.dispatch("get context"); got != "FT8-MCP aggregate" {
		t.Errorf("get context reply = %q, want FT8-MCP aggregate", got)
	}

	single := &HRDServer{channelIndex: 0, state: state}
	if got := single.dispatch("get context"); got != "FT8-MCP slice A" {
		t.Errorf("get context reply = %q, want FT8-MCP slice A", got)
	}
}

func TestDispatchUnknownBackend(t *testing.T) {
	s := &HRDServer{channelIndex: 0, backend: nil, state: NewStateCore(19000, 27000)}
	if got := s.dispatch("set frequency-hz 14074000"); got != rprtReply(rprtBackendUnavailable) {
		t.Errorf("expected backend-unavailable with no backend, got %q", got)
	}
}

func TestDispatchUnrecognizedCommand(t *testing.T) {
	s := &HRDServer{channelIndex: 0, state: NewStateCore(19000, 27000)}
	got := s.dispatch("BOGUS")
	if got != rprtReply(rprtUnrecognized) {
		t.Errorf("unrecognized command reply = %q, want %q", got, rprtReply(rprtUnrecognized))
	}
}

func TestStatusLineAggregateVsPerChannel(t *testing.T) {
	state := NewStateCore(19000, 27000)
	agg := &HRDServer{channelIndex: -1, state: state}
	if !strings.Contains(agg.statusLine(), "A:") {
		t.Errorf("aggregate status should list every slice, got %q", agg.statusLine())
	}

	single := &HRDServer{channelIndex: 0, state: state}
	if !strings.HasPrefix(single.statusLine(), "A:") {
		t.Errorf("per-channel status should start with its own letter, got %q", single.statusLine())
	}
}
