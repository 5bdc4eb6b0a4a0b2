package main

import (
	"fmt"
	"net"
	"sync"
)

// UDPEgressManager sends outbound WSJT-X-style datagrams to each
// slice's decoder instance (§4.3). One UDP "connection" per channel,
// dialed lazily and redialed on send failure.
type UDPEgressManager struct {
	mu    sync.Mutex
	conns map[int]*net.UDPConn
}

func NewUDPEgressManager() *UDPEgressManager {
	return &UDPEgressManager{conns: make(map[int]*net.UDPConn)}
}

func (m *UDPEgressManager) connFor(channel int, port int) (*net.UDPConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[channel]; ok {
		return c, nil
	}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("egress dial port %d: %w", port, err)
	}
	m.conns[channel] = c
	return c, nil
}

// Forget drops the cached outbound socket so the next send redials
// (used when the decoder instance is restarted, §4.6).
func (m *UDPEgressManager) Forget(channel int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[channel]; ok {
		c.Close()
		delete(m.conns, channel)
	}
}

func (m *UDPEgressManager) send(channel, port int, w *frameWriter) error {
	conn, err := m.connFor(channel, port)
	if err != nil {
		return err
	}
	if _, err := conn.Write(w.bytes()); err != nil {
		m.Forget(channel)
		return fmt.Errorf("egress send to channel %s: %w", ChannelLetter(channel), err)
	}
	return nil
}

func newOutboundFrame(msgType uint32, identifier string) *frameWriter {
	w := &frameWriter{}
	w.writeHeader(msgType)
	w.writeString(identifier, false)
	return w
}

// SendReply instructs the decoder to answer a specific decoded call
// (§4.3, used by the QSO state machine's AnswerDecodedStation and its
// WAITING_REPLY->SENDING_REPORT transition).
func (m *UDPEgressManager) SendReply(channel, port int, identifier string, rec InternalDecodeRecord) error {
	w := newOutboundFrame(msgReply, identifier)
	w.writeJulianTimestamp(rec.Timestamp)
	w.writeUint32(uint32(rec.SNRdB))
	w.writeDouble(rec.DTSec)
	w.writeUint32(rec.AudioOffset)
	w.writeString(rec.Mode, false)
	w.writeString(rec.RawText, false)
	w.writeBool(rec.LowConfidence)
	w.writeByte(0x02) // modifiers: shift held, so the decoder auto-enables TX
	return m.send(channel, port, w)
}

// SendFreeText queues a free-text transmission for the next TX cycle
// (§4.3). When send is false the text is queued but not immediately
// transmitted.
func (m *UDPEgressManager) SendFreeText(channel, port int, identifier, text string, send bool) error {
	w := newOutboundFrame(msgFreeText, identifier)
	w.writeString(text, false)
	w.writeBool(send)
	return m.send(channel, port, w)
}

// ConfigureFields carries the subset of decoder configuration that can
// be pushed live via a Configure datagram (§4.3). A false "set" flag on
// a field leaves the decoder's current value untouched (explicit-null
// semantics, §4.2).
type ConfigureFields struct {
	Mode      string
	SetMode   bool
	DialFreq  uint64
	SetFreq   bool
	TXEnabled bool
	SetTX     bool
}

// SendConfigure pushes a live configuration change to a running decoder
// instance (§4.3, §6 message type 15 — this spec's extension beyond the
// base WSJT-X protocol).
func (m *UDPEgressManager) SendConfigure(channel, port int, identifier string, f ConfigureFields) error {
	w := newOutboundFrame(msgConfigure, identifier)
	w.writeString(f.Mode, !f.SetMode)
	if f.SetFreq {
		w.writeUint64(f.DialFreq)
	} else {
		w.writeUint64(0)
	}
	w.writeBool(f.SetFreq)
	w.writeBool(f.TXEnabled)
	w.writeBool(f.SetTX)
	return m.send(channel, port, w)
}

// SendHaltTx immediately stops any in-progress transmission (§4.3,
// used by the emergency-stop AI tool).
func (m *UDPEgressManager) SendHaltTx(channel, port int, identifier string, autoTXOff bool) error {
	w := newOutboundFrame(msgHaltTx, identifier)
	w.writeBool(autoTXOff)
	return m.send(channel, port, w)
}

// SendClear clears the decoder's decode history / band activity
// display (§4.3).
func (m *UDPEgressManager) SendClear(channel, port int, identifier string, windowKind uint32) error {
	w := newOutboundFrame(msgClear, identifier)
	w.writeUint32(windowKind)
	return m.send(channel, port, w)
}

// SendClose tells the decoder instance to shut down cleanly (§4.3,
// §4.6 graceful-restart-all and shutdown sequencing).
func (m *UDPEgressManager) SendClose(channel, port int, identifier string) error {
	w := newOutboundFrame(msgClose, identifier)
	return m.send(channel, port, w)
}
