package main

import (
	"fmt"
	"sync"
	"time"
)

// QSOState is the small closed tagged variant for the autonomous
// contact state machine (§4.7).
type QSOState int

const (
	QSOIdle QSOState = iota
	QSOCallingCQ
	QSOWaitingReply
	QSOSendingReport
	QSOWaitingReport
	QSOSendingRR73
	QSOWaiting73
	QSOComplete
	QSOFailed
)

func (s QSOState) String() string {
	switch s {
	case QSOIdle:
		return "idle"
	case QSOCallingCQ:
		return "calling_cq"
	case QSOWaitingReply:
		return "waiting_reply"
	case QSOSendingReport:
		return "sending_report"
	case QSOWaitingReport:
		return "waiting_report"
	case QSOSendingRR73:
		return "sending_rr73"
	case QSOWaiting73:
		return "waiting_73"
	case QSOComplete:
		return "complete"
	case QSOFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	qsoStepTimeout = 15 * time.Second
	qsoMaxRetries  = 3
)

// QSOSession tracks one in-progress contact on one channel (§4.7).
type QSOSession struct {
	ChannelIndex int
	Peer         string
	Grid         string
	ReportSent   string
	ReportRecv   string
	State        QSOState
	Retries      int
	StartedAt    time.Time
	timer        *time.Timer
}

// QSOMachine runs the per-channel finite state machines for autonomous
// CQ/answer contacts (§4.7). One session per channel at a time.
type QSOMachine struct {
	mu       sync.Mutex
	sessions map[int]*QSOSession

	egress  *UDPEgressManager
	state   *StateCore
	station StationProfile

	portFor func(channel int) int
}

func NewQSOMachine(egress *UDPEgressManager, state *StateCore, station StationProfile, portFor func(int) int) *QSOMachine {
	return &QSOMachine{
		sessions: make(map[int]*QSOSession),
		egress:   egress,
		state:    state,
		station:  station,
		portFor:  portFor,
	}
}

// ActiveSession returns the in-progress session for a channel, or nil.
func (q *QSOMachine) ActiveSession(channel int) *QSOSession {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sessions[channel]
}

// CallCQ starts a new session by sending a CQ free-text transmission
// on the given channel (§4.7 IDLE -> CALLING_CQ -> WAITING_REPLY).
// Fails if a session is already active on that channel.
func (q *QSOMachine) CallCQ(channel int) error {
	q.mu.Lock()
	if _, exists := q.sessions[channel]; exists {
		q.mu.Unlock()
		return fmt.Errorf("channel %s already has an active qso session", ChannelLetter(channel))
	}
	sess := &QSOSession{ChannelIndex: channel, State: QSOCallingCQ, StartedAt: time.Now().UTC()}
	q.sessions[channel] = sess
	q.mu.Unlock()

	ch := q.state.GetChannel(channel)
	if ch == nil {
		q.failSession(channel, "unknown channel")
		return fmt.Errorf("unknown channel %d", channel)
	}

	text := fmt.Sprintf("CQ %s", q.station.Callsign)
	if err := q.egress.SendFreeText(channel, ch.UDPPort, "qso-machine", text, true); err != nil {
		q.failSession(channel, err.Error())
		return err
	}

	q.transition(channel, QSOWaitingReply)
	q.armTimeout(channel)
	return nil
}

// AnswerDecodedStation starts a session answering a specific decoded
// call (§4.7, used by the answer_decoded_station AI tool): emits a
// Reply frame keyed to that decode, semantically equivalent to the
// operator double-clicking it, and lands in WAITING_REPLY like a
// CQ call does. The next decode from the peer's callsign on this
// channel sends the report; its text is not checked for addressing us.
func (q *QSOMachine) AnswerDecodedStation(channel int, rec InternalDecodeRecord, report string) error {
	q.mu.Lock()
	if _, exists := q.sessions[channel]; exists {
		q.mu.Unlock()
		return fmt.Errorf("channel %s already has an active qso session", ChannelLetter(channel))
	}
	sess := &QSOSession{
		ChannelIndex: channel,
		Peer:         rec.Callsign,
		Grid:         rec.Grid,
		ReportSent:   report,
		State:        QSOWaitingReply,
		StartedAt:    time.Now().UTC(),
	}
	q.sessions[channel] = sess
	q.mu.Unlock()

	ch := q.state.GetChannel(channel)
	if ch == nil {
		q.failSession(channel, "unknown channel")
		return fmt.Errorf("unknown channel %d", channel)
	}

	if err := q.egress.SendReply(channel, ch.UDPPort, "qso-machine", rec); err != nil {
		q.failSession(channel, err.Error())
		return err
	}

	q.armTimeout(channel)
	return nil
}

// HandleDecode feeds a fresh decode into any active session on its
// channel, advancing the state machine by one step (§4.7). Only the
// decode's callsign is compared with the session's peer (any callsign
// is accepted while no peer is set); the message text is not matched
// against the expected next message.
func (q *QSOMachine) HandleDecode(rec InternalDecodeRecord) {
	q.mu.Lock()
	sess, exists := q.sessions[rec.ChannelIndex]
	q.mu.Unlock()
	if !exists {
		return
	}
	if sess.Peer != "" && rec.Callsign != sess.Peer {
		return
	}

	ch := q.state.GetChannel(rec.ChannelIndex)
	if ch == nil {
		return
	}

	switch sess.State {
	case QSOWaitingReply:
		sess.Peer = rec.Callsign
		sess.Grid = rec.Grid
		sess.ReportSent = "-10"
		if err := q.egress.SendReply(rec.ChannelIndex, ch.UDPPort, "qso-machine", rec); err == nil {
			q.transition(rec.ChannelIndex, QSOSendingReport)
			q.transition(rec.ChannelIndex, QSOWaitingReport)
			q.armTimeout(rec.ChannelIndex)
		}
	case QSOWaitingReport:
		sess.ReportRecv = extractReportToken(rec.RawText)
		if err := q.egress.SendFreeText(rec.ChannelIndex, ch.UDPPort, "qso-machine", sess.Peer+" RR73", true); err == nil {
			q.transition(rec.ChannelIndex, QSOSendingRR73)
			q.transition(rec.ChannelIndex, QSOWaiting73)
			q.armTimeout(rec.ChannelIndex)
		}
	case QSOWaiting73:
		q.completeSession(rec.ChannelIndex)
	}
}

func extractReportToken(text string) string {
	for _, f := range splitFields(text) {
		if len(f) > 0 && (f[0] == '-' || f[0] == '+' || (f[0] >= '0' && f[0] <= '9')) {
			return f
		}
	}
	return ""
}

func splitFields(s string) []string {
	var out []string
	cur := ""
	for _, c := range s {
		if c == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(c)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func (q *QSOMachine) transition(channel int, next QSOState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sess, ok := q.sessions[channel]; ok {
		sess.State = next
	}
}

func (q *QSOMachine) armTimeout(channel int) {
	q.mu.Lock()
	sess, ok := q.sessions[channel]
	if !ok {
		q.mu.Unlock()
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.timer = time.AfterFunc(qsoStepTimeout, func() { q.onTimeout(channel) })
	q.mu.Unlock()
}

// onTimeout re-arms the step timer up to qsoMaxRetries times, then
// fails the session (§4.7 "bounded retries"). Nothing is re-sent on a
// timeout; the session keeps waiting in its current state.
func (q *QSOMachine) onTimeout(channel int) {
	q.mu.Lock()
	sess, ok := q.sessions[channel]
	if !ok {
		q.mu.Unlock()
		return
	}
	sess.Retries++
	retries := sess.Retries
	q.mu.Unlock()

	if retries > qsoMaxRetries {
		q.failSession(channel, "timed out waiting for reply")
		return
	}
	q.armTimeout(channel)
}

func (q *QSOMachine) completeSession(channel int) {
	q.mu.Lock()
	sess, ok := q.sessions[channel]
	if ok {
		sess.State = QSOComplete
		if sess.timer != nil {
			sess.timer.Stop()
		}
		delete(q.sessions, channel)
	}
	q.mu.Unlock()
}

func (q *QSOMachine) failSession(channel int, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sess, ok := q.sessions[channel]; ok {
		sess.State = QSOFailed
		if sess.timer != nil {
			sess.timer.Stop()
		}
		_ = reason
		delete(q.sessions, channel)
	}
}

// Abort cancels any active session on a channel immediately, used by
// the rig_emergency_stop AI tool (§4.7, §4.9).
func (q *QSOMachine) Abort(channel int) {
	q.failSession(channel, "aborted")
}
