package main

import "testing"

func newTestQSOMachine() (*QSOMachine, *StateCore) {
	state := NewStateCore(19000, 27000)
	egress := NewUDPEgressManager()
	station := StationProfile{Callsign: "W1AW"}
	portFor := func(channel int) int {
		ch := state.GetChannel(channel)
		if ch == nil {
			return 0
		}
		return ch.UDPPort
	}
	return NewQSOMachine(egress, state, station, portFor), state
}

func TestCallCQStartsSessionAndRejectsDuplicate(t *testing.T) {
	q, _ := newTestQSOMachine()
	if err := q.CallCQ(0); err != nil {
		t.Fatalf("CallCQ: %v", err)
	}
	sess := q.ActiveSession(0)
	if sess == nil || sess.State != QSOWaitingReply {
		t.Fatalf("expected session in waiting_reply, got %+v", sess)
	}
	if err := q.CallCQ(0); err == nil {
		t.Error("expected a second CallCQ on the same channel to fail")
	}
}

func TestAnswerDecodedStationLandsInWaitingReply(t *testing.T) {
	q, _ := newTestQSOMachine()
	rec := InternalDecodeRecord{ChannelIndex: 1, Callsign: "K1ABC", Grid: "FN31"}
	if err := q.AnswerDecodedStation(1, rec, "-10"); err != nil {
		t.Fatalf("AnswerDecodedStation: %v", err)
	}
	sess := q.ActiveSession(1)
	if sess == nil || sess.State != QSOWaitingReply {
		t.Fatalf("expected waiting_reply, got %+v", sess)
	}
	if sess.Peer != "K1ABC" {
		t.Errorf("peer = %q, want K1ABC", sess.Peer)
	}

	q.HandleDecode(InternalDecodeRecord{ChannelIndex: 1, Callsign: "K1ABC", RawText: "K1ABC W1AW FN31"})
	sess = q.ActiveSession(1)
	if sess == nil || sess.State != QSOWaitingReport {
		t.Fatalf("expected waiting_report after the peer's reply, got %+v", sess)
	}
}

func TestHandleDecodeAdvancesThroughFSM(t *testing.T) {
	q, _ := newTestQSOMachine()
	if err := q.CallCQ(0); err != nil {
		t.Fatalf("CallCQ: %v", err)
	}

	q.HandleDecode(InternalDecodeRecord{ChannelIndex: 0, Callsign: "K1ABC", RawText: "K1ABC W1AW FN31"})
	sess := q.ActiveSession(0)
	if sess == nil || sess.State != QSOWaitingReport {
		t.Fatalf("expected waiting_report after first reply, got %+v", sess)
	}

	q.HandleDecode(InternalDecodeRecord{ChannelIndex: 0, Callsign: "K1ABC", RawText: "W1AW K1ABC -10"})
	sess = q.ActiveSession(0)
	if sess == nil || sess.State != QSOWaiting73 {
		t.Fatalf("expected waiting_73 after report exchange, got %+v", sess)
	}

	q.HandleDecode(InternalDecodeRecord{ChannelIndex: 0, Callsign: "K1ABC", RawText: "K1ABC W1AW 73"})
	if sess := q.ActiveSession(0); sess != nil {
		t.Errorf("session should be cleared on completion, got %+v", sess)
	}
}

func TestHandleDecodeIgnoresOtherChannelsAndPeers(t *testing.T) {
	q, _ := newTestQSOMachine()
	if err := q.AnswerDecodedStation(0, InternalDecodeRecord{ChannelIndex: 0, Callsign: "K1ABC"}, "-10"); err != nil {
		t.Fatalf("AnswerDecodedStation: %v", err)
	}
	q.HandleDecode(InternalDecodeRecord{ChannelIndex: 0, Callsign: "W9XYZ", RawText: "W9XYZ W1AW -05"})
	sess := q.ActiveSession(0)
	if sess == nil || sess.State != QSOWaitingReply {
		t.Error("a decode from an unrelated peer must not advance the session")
	}
	q.HandleDecode(InternalDecodeRecord{ChannelIndex: 2, Callsign: "K1ABC", RawText: "K1ABC W1AW -05"})
	if q.ActiveSession(2) != nil {
		t.Error("decode on a channel with no active session must be a no-op")
	}
}

func TestAbortClearsSession(t *testing.T) {
	q, _ := newTestQSOMachine()
	if err := q.CallCQ(3); err != nil {
		t.Fatalf("CallCQ: %v", err)
	}
	q.Abort(3)
	if q.ActiveSession(3) != nil {
		t.Error("Abort should clear the active session")
	}
}

func TestExtractReportToken(t *testing.T) {
	cases := map[string]string{
		"K1ABC W1AW -10": "-10",
		"K1ABC W1AW R-10": "",
		"K1ABC W1AW +05": "+05",
		"K1ABC W1AW":      "",
	}
	for text, want := range cases {
		if got := extractReportToken(text); got != want {
			t.Errorf("extractReportToken(%q) = %q, want %q", text, got, want)
		}
	}
}
