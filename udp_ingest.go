package main

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// udpListener is one per-channel ingest pipeline (§4.2).
type udpListener struct {
	channelIndex int
	conn         *net.UDPConn
	stop         chan struct{}
	wg           sync.WaitGroup
}

// UDPIngestManager owns the four per-slice UDP listeners. Lifecycle is
// driven by main's start-channel/stop-channel calls, which are
// idempotent (§4.2 "Lifecycle").
type UDPIngestManager struct {
	mu        sync.Mutex
	listeners map[int]*udpListener

	state     *StateCore
	logbook   *Logbook
	station   StationProfile
	telemetry *TelemetryPublisher
	metrics   *Metrics
}

func NewUDPIngestManager(state *StateCore, logbook *Logbook, station StationProfile, telemetry *TelemetryPublisher, metrics *Metrics) *UDPIngestManager {
	return &UDPIngestManager{
		listeners: make(map[int]*udpListener),
		state:     state,
		logbook:   logbook,
		station:   station,
		telemetry: telemetry,
		metrics:   metrics,
	}
}

// StartChannel binds the ingest listener for the given channel index.
// Unbalanced/duplicate calls are idempotent no-ops (§4.2).
func (m *UDPIngestManager) StartChannel(index int, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listeners[index]; exists {
		return nil
	}

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("ingest listen on port %d: %w", port, err)
	}

	l := &udpListener{
		channelIndex: index,
		conn:         conn,
		stop:         make(chan struct{}),
	}
	m.listeners[index] = l

	l.wg.Add(1)
	go m.serve(l)

	log.Printf("udp-ingest: channel %s listening on :%d", ChannelLetter(index), port)
	return nil
}

// StopChannel tears down the ingest listener for a channel. Idempotent.
func (m *UDPIngestManager) StopChannel(index int) error {
	m.mu.Lock()
	l, exists := m.listeners[index]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.listeners, index)
	m.mu.Unlock()

	close(l.stop)
	l.conn.Close()
	l.wg.Wait()
	return nil
}

func (m *UDPIngestManager) serve(l *udpListener) {
	defer l.wg.Done()

	buf := make([]byte, 65535)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-l.stop:
				return
			default:
				continue
			}
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		m.handleFrame(l.channelIndex, frame)
	}
}

// handleFrame parses one datagram and applies it to the state core
// (§4.2). Malformed frames are discarded and counted, never propagated
// (§7 Protocol-parse).
func (m *UDPIngestManager) handleFrame(channel int, data []byte) {
	r := newFrameReader(data)

	magic, err := r.readUint32()
	if err != nil || magic != protocolMagic {
		m.metrics.IncProtocolParseError("udp_ingest")
		return
	}
	if _, err := r.readUint32(); err != nil { // schema version, not enforced
		m.metrics.IncProtocolParseError("udp_ingest")
		return
	}
	msgType, err := r.readUint32()
	if err != nil {
		m.metrics.IncProtocolParseError("udp_ingest")
		return
	}
	if _, err := r.readString(); err != nil { // identifier string
		m.metrics.IncProtocolParseError("udp_ingest")
		return
	}

	var parseErr error
	switch msgType {
	case msgHeartbeat:
		m.state.RecordHeartbeat(channel)
	case msgStatus:
		parseErr = m.handleStatus(channel, r)
	case msgDecode:
		parseErr = m.handleDecode(channel, r)
	case msgQSOLogged:
		parseErr = m.handleQSOLogged(channel, r)
	case msgClose:
		m.state.SetChannelOffline(channel)
	default:
		// unrecognized message type, ignore per §7 drop-and-count policy
	}

	if parseErr != nil {
		m.metrics.IncProtocolParseError("udp_ingest")
	}
}

func (m *UDPIngestManager) handleStatus(channel int, r *frameReader) error {
	dialFreq, err := r.readUint64()
	if err != nil {
		return err
	}
	mode, err := r.readString()
	if err != nil {
		return err
	}
	if _, err := r.readString(); err != nil { // dx-call
		return err
	}
	if _, err := r.readString(); err != nil { // report
		return err
	}
	if _, err := r.readString(); err != nil { // tx-mode
		return err
	}
	txEnabled, err := r.readBool()
	if err != nil {
		return err
	}
	transmitting, err := r.readBool()
	if err != nil {
		return err
	}
	decoding, err := r.readBool()
	if err != nil {
		return err
	}
	rxOffset, err := r.readUint32()
	if err != nil {
		return err
	}
	txOffset, err := r.readUint32()
	if err != nil {
		return err
	}

	m.state.UpdateFromDecoderStatus(channel, DecoderStatusUpdate{
		DialFreqHz:      dialFreq,
		Mode:            mode,
		TXEnabled:       txEnabled,
		Transmitting:    transmitting,
		Decoding:        decoding,
		RXAudioOffsetHz: rxOffset,
		TXAudioOffsetHz: txOffset,
	})
	return nil
}

func (m *UDPIngestManager) handleDecode(channel int, r *frameReader) error {
	newFlag, err := r.readBool()
	if err != nil {
		return err
	}
	_, err = r.readUint32() // time, ms-since-midnight; wall clock used instead (§4.2)
	if err != nil {
		return err
	}
	snr, err := r.readInt32()
	if err != nil {
		return err
	}
	dt, err := r.readDouble()
	if err != nil {
		return err
	}
	deltaFreq, err := r.readUint32()
	if err != nil {
		return err
	}
	mode, err := r.readString()
	if err != nil {
		return err
	}
	message, err := r.readString()
	if err != nil {
		return err
	}
	lowConfidence, err := r.readBool()
	if err != nil {
		return err
	}
	offAir, err := r.readBool()
	if err != nil {
		return err
	}

	ch := m.state.GetChannel(channel)
	if ch == nil {
		return fmt.Errorf("unknown channel %d", channel)
	}

	enriched := EnrichDecodeText(message, m.station)
	if enriched.Callsign == "" {
		// no valid callsign: dropped at ingest (§3)
		return nil
	}

	rec := InternalDecodeRecord{
		ChannelIndex:     channel,
		SliceLetter:      ChannelLetter(channel),
		Timestamp:        time.Now().UTC(),
		Band:             ch.Band,
		Mode:             mode,
		DialHz:           ch.DialFreqHz,
		AudioOffset:      deltaFreq,
		RFHz:             ch.DialFreqHz + uint64(deltaFreq),
		SNRdB:            int(snr),
		DTSec:            dt,
		Callsign:         enriched.Callsign,
		Grid:             enriched.Grid,
		IsCQ:             enriched.IsCQ,
		IsMyCall:         enriched.IsMyCall,
		IsDirectedCQToMe: enriched.IsDirectedToMe,
		CQTargetToken:    enriched.CQTargetToken,
		RawText:          message,
		LowConfidence:    lowConfidence,
		OffAir:           offAir,
		NewDecode:        newFlag,
	}

	m.state.AddDecode(rec)
	if m.telemetry != nil {
		m.telemetry.PublishDecode(rec)
	}
	m.metrics.IncDecode(ChannelLetter(channel))
	return nil
}

func (m *UDPIngestManager) handleQSOLogged(channel int, r *frameReader) error {
	timeOff, err := r.readJulianTimestamp()
	if err != nil {
		return err
	}
	dxCall, err := r.readString()
	if err != nil {
		return err
	}
	dxGrid, err := r.readString()
	if err != nil {
		return err
	}
	txFreq, err := r.readUint64()
	if err != nil {
		return err
	}
	mode, err := r.readString()
	if err != nil {
		return err
	}
	reportSent, err := r.readString()
	if err != nil {
		return err
	}
	reportRcvd, err := r.readString()
	if err != nil {
		return err
	}
	txPower, err := r.readString()
	if err != nil {
		return err
	}
	comments, err := r.readString()
	if err != nil {
		return err
	}
	if _, err := r.readString(); err != nil { // name
		return err
	}
	timeOn, err := r.readJulianTimestamp()
	if err != nil {
		return err
	}
	start := timeOn
	if start.IsZero() {
		start = timeOff
	}

	band := BandForFrequency(txFreq)
	inst := m.state.InstanceForChannel(channel)

	rec := QSORecord{
		StartTime:    start,
		EndTime:      timeOff,
		Callsign:     dxCall,
		Grid:         dxGrid,
		Band:         band,
		DialHz:       txFreq,
		Mode:         mode,
		ReportSent:   reportSent,
		ReportReceived: reportRcvd,
		TXPowerWatts: parseIntSafe(txPower),
		SliceLetter:  ChannelLetter(channel),
		ChannelIndex: channel,
		InstanceName: inst,
		Notes:        comments,
	}

	m.state.AddQSO(rec)
	if m.logbook != nil {
		if err := m.logbook.LogQSO(rec, m.station); err != nil {
			log.Printf("logbook: failed to append QSO for %s: %v", rec.Callsign, err)
		}
	}
	if m.telemetry != nil {
		m.telemetry.PublishQSO(rec)
	}
	m.metrics.IncQSO(ChannelLetter(channel))
	return nil
}

func parseIntSafe(s string) int {
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return 0
	}
	return v
}
