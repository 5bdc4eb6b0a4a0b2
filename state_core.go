package main

import (
	"sync"
	"time"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatTimeout  = 30 * time.Second
	debounceInterval  = 100 * time.Millisecond
	maxDecodeHistory  = 500
)

// DecoderStatusUpdate is the decoded payload of an inbound Status
// datagram (§4.2), handed to the state core as a unit so the core owns
// all derived-field computation (Band, Status tag) in one place.
type DecoderStatusUpdate struct {
	DialFreqHz      uint64
	Mode            string
	TXEnabled       bool
	Transmitting    bool
	Decoding        bool
	RXAudioOffsetHz uint32
	TXAudioOffsetHz uint32
}

// StateCore is the single source of truth for the system's channel and
// decoder-instance state (§4.1). All reads and writes go through its
// mutex; no other component keeps a competing copy of this state.
type StateCore struct {
	mu sync.RWMutex

	channels  [4]*Channel
	instances [4]*DecoderInstance

	decodes    []InternalDecodeRecord
	qsos       []QSORecord
	workedIdx  map[WorkedIndexKey]bool

	udpBase int
	tcpBase int

	txChannel int

	subscribers []chan struct{}
	debounceSet bool
	debounceC   chan struct{}
}

func NewStateCore(udpBase, tcpBase int) *StateCore {
	sc := &StateCore{
		udpBase:   udpBase,
		tcpBase:   tcpBase,
		txChannel: -1,
		workedIdx: make(map[WorkedIndexKey]bool),
	}
	for i := 0; i < 4; i++ {
		sc.channels[i] = NewChannel(i, udpBase, tcpBase)
		sc.instances[i] = &DecoderInstance{Name: "slice" + ChannelLetter(i), ChannelIndex: i}
	}
	return sc
}

// Subscribe registers a channel that receives a signal (non-blocking,
// best-effort) no more often than once per debounceInterval after a
// state mutation (§4.1 "100ms debounce fan-out").
func (s *StateCore) Subscribe() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(chan struct{}, 1)
	s.subscribers = append(s.subscribers, c)
	return c
}

func (s *StateCore) notify() {
	if s.debounceSet {
		return
	}
	s.debounceSet = true
	time.AfterFunc(debounceInterval, func() {
		s.mu.Lock()
		s.debounceSet = false
		subs := append([]chan struct{}(nil), s.subscribers...)
		s.mu.Unlock()
		for _, c := range subs {
			select {
			case c <- struct{}{}:
			default:
			}
		}
	})
}

func (s *StateCore) GetChannel(index int) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.channels) {
		return nil
	}
	clone := s.channels[index].Clone()
	return &clone
}

func (s *StateCore) AllChannels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.Clone())
	}
	return out
}

func (s *StateCore) InstanceForChannel(index int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.instances) {
		return ""
	}
	return s.instances[index].Name
}

// RecordHeartbeat marks a channel connected and updates its last-seen
// timestamp (§4.1, §4.2 Heartbeat handling).
func (s *StateCore) RecordHeartbeat(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.channels) {
		return
	}
	ch := s.channels[index]
	ch.Connected = true
	ch.LastHeartbeat = time.Now().UTC()
	if ch.Status == StatusOffline {
		ch.Status = StatusIdle
	}
	s.notify()
}

// UpdateFromDecoderStatus applies an inbound Status datagram to the
// named channel, deriving Band from DialFreqHz and Status from the
// reported decoder flags (§4.1, §4.2).
func (s *StateCore) UpdateFromDecoderStatus(index int, u DecoderStatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.channels) {
		return
	}
	ch := s.channels[index]
	ch.DialFreqHz = u.DialFreqHz
	ch.RadioMode = u.Mode
	ch.Band = BandForFrequency(u.DialFreqHz)
	ch.DecoderMode = u.Mode
	ch.DecoderTXEnabled = u.TXEnabled
	ch.DecoderTransmitter = u.Transmitting
	ch.DecoderDecoding = u.Decoding
	ch.RXAudioOffsetHz = u.RXAudioOffsetHz
	ch.TXAudioOffsetHz = u.TXAudioOffsetHz

	if u.Transmitting {
		s.setTXChannelLocked(index)
	} else if ch.IsTX {
		ch.IsTX = false
		if s.txChannel == index {
			s.txChannel = -1
		}
	}

	switch {
	case u.Transmitting:
		ch.Status = StatusCalling
	case u.Decoding:
		ch.Status = StatusDecoding
	default:
		ch.Status = StatusIdle
	}
	s.notify()
}

// SetTXChannel atomically marks index as the sole transmitting channel,
// clearing is-tx on every other channel (§8 "at most one has is-tx =
// true"). Pass a negative index to clear TX on every channel.
func (s *StateCore) SetTXChannel(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTXChannelLocked(index)
}

func (s *StateCore) setTXChannelLocked(index int) {
	for i, ch := range s.channels {
		ch.IsTX = i == index
	}
	if index >= 0 && index < len(s.channels) {
		s.txChannel = index
	} else {
		s.txChannel = -1
	}
	s.notify()
}

// TXChannelIndex returns the index of the channel currently
// transmitting, or -1 if none is (§4.4 "Aggregate server behavior").
func (s *StateCore) TXChannelIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txChannel
}

// SetChannelOffline marks a channel disconnected after a Close datagram
// or a heartbeat timeout (§4.1, §4.2, §4.6).
func (s *StateCore) SetChannelOffline(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.channels) {
		return
	}
	ch := s.channels[index]
	ch.Connected = false
	ch.Status = StatusOffline
	ch.IsTX = false
	if s.txChannel == index {
		s.txChannel = -1
	}
	s.notify()
}

// AddDecode appends a decode record, bumps counters, and trims history
// to maxDecodeHistory (§3, §4.1).
func (s *StateCore) AddDecode(rec InternalDecodeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodes = append(s.decodes, rec)
	if len(s.decodes) > maxDecodeHistory {
		s.decodes = s.decodes[len(s.decodes)-maxDecodeHistory:]
	}
	if idx := rec.ChannelIndex; idx >= 0 && idx < len(s.channels) {
		s.channels[idx].DecodeCount++
		s.channels[idx].LastDecode = rec.Timestamp
	}
	s.notify()
}

// RecentDecodes returns up to n of the most recent decode records,
// newest last.
func (s *StateCore) RecentDecodes(n int) []InternalDecodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.decodes) {
		n = len(s.decodes)
	}
	out := make([]InternalDecodeRecord, n)
	copy(out, s.decodes[len(s.decodes)-n:])
	return out
}

// AddQSO records a completed contact and marks it worked in the
// in-memory index (§3, §4.8 — the logbook file is the durable copy;
// this index is rebuilt from it at startup).
func (s *StateCore) AddQSO(rec QSORecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qsos = append(s.qsos, rec)
	s.workedIdx[workedKey(rec.Callsign, rec.Band, rec.Mode)] = true
	if idx := rec.ChannelIndex; idx >= 0 && idx < len(s.channels) {
		s.channels[idx].QSOCount++
	}
	s.notify()
}

// MarkWorked seeds the worked-index without appending a QSO record
// (used by the logbook's startup scan, §4.8).
func (s *StateCore) MarkWorked(call, band, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workedIdx[workedKey(call, band, mode)] = true
}

// IsWorked reports whether (call, band, mode) has already been logged.
func (s *StateCore) IsWorked(call, band, mode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workedIdx[workedKey(call, band, mode)]
}

// IsWorkedOnBand reports whether call has been logged on band in any
// mode (§4.8 "is-worked-on-band").
func (s *StateCore) IsWorkedOnBand(call, band string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, band = upper(call), lower(band)
	for k := range s.workedIdx {
		if k.Call == call && k.Band == band {
			return true
		}
	}
	return false
}

// IsWorkedAnywhere reports whether call has been logged on any band or
// mode (§4.8 "is-worked-anywhere").
func (s *StateCore) IsWorkedAnywhere(call string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call = upper(call)
	for k := range s.workedIdx {
		if k.Call == call {
			return true
		}
	}
	return false
}

// ClearWorked empties the worked-index (§4.8 logbook clear operation).
func (s *StateCore) ClearWorked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workedIdx = make(map[WorkedIndexKey]bool)
}

func workedKey(call, band, mode string) WorkedIndexKey {
	return WorkedIndexKey{Call: upper(call), Band: lower(band), Mode: upper(mode)}
}

// UpdateInstance records the decoder supervisor's view of a slice's
// external process (§4.6).
func (s *StateCore) UpdateInstance(index int, mutate func(*DecoderInstance)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.instances) {
		return
	}
	mutate(s.instances[index])
	s.notify()
}

func (s *StateCore) GetInstance(index int) *DecoderInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.instances) {
		return nil
	}
	clone := *s.instances[index]
	return &clone
}

// WatchHeartbeats runs until stop is closed, transitioning any channel
// whose last heartbeat is older than heartbeatTimeout to offline (§4.1
// "heartbeat watchdog", §4.2 "5s cadence / 30s timeout").
func (s *StateCore) WatchHeartbeats(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			s.mu.Lock()
			for _, ch := range s.channels {
				if ch.Connected && now.Sub(ch.LastHeartbeat) > heartbeatTimeout {
					ch.Connected = false
					ch.Status = StatusOffline
				}
			}
			s.notify()
			s.mu.Unlock()
		}
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
