package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
)

// HRD frame header layout (§4.4): 32-bit LE total frame size (header +
// payload), two fixed magic words, and a 32-bit XOR-sum checksum of
// the payload bytes. The payload itself is a null-terminated UTF-16LE
// string.
const (
	hrdHeaderSize = 16
	hrdMagic1     = uint32(0x1234ABCD)
	hrdMagic2     = uint32(0xABCD1234)
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func encodeHRDFrame(payload string) ([]byte, error) {
	encoded, err := utf16le.NewEncoder().String(payload + "\x00")
	if err != nil {
		return nil, fmt.Errorf("utf16le encode: %w", err)
	}
	body := []byte(encoded)

	total := uint32(hrdHeaderSize + len(body))
	checksum := xorSum(body)

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, total)
	binary.Write(buf, binary.LittleEndian, hrdMagic1)
	binary.Write(buf, binary.LittleEndian, hrdMagic2)
	binary.Write(buf, binary.LittleEndian, checksum)
	buf.Write(body)
	return buf.Bytes(), nil
}

// decodeHRDFrame reads one frame from r. Checksum mismatches are
// tolerated on receive per §9's Open Question resolution (XOR-sum
// computed on send, logged-but-accepted on receive) since the payload
// is still well-formed UTF-16LE.
func decodeHRDFrame(r io.Reader) (string, error) {
	header := make([]byte, hrdHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", err
	}
	total := binary.LittleEndian.Uint32(header[0:4])
	magic1 := binary.LittleEndian.Uint32(header[4:8])
	magic2 := binary.LittleEndian.Uint32(header[8:12])
	wantChecksum := binary.LittleEndian.Uint32(header[12:16])

	if magic1 != hrdMagic1 || magic2 != hrdMagic2 {
		return "", fmt.Errorf("bad hrd frame magic")
	}
	if total < hrdHeaderSize {
		return "", fmt.Errorf("bad hrd frame size %d", total)
	}

	bodyLen := total - hrdHeaderSize
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", err
	}

	if got := xorSum(body); got != wantChecksum {
		log.Printf("hrd: checksum mismatch (got %08x want %08x), accepting anyway", got, wantChecksum)
	}

	decoded, err := utf16le.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("utf16le decode: %w", err)
	}
	return strings.TrimRight(string(decoded), "\x00"), nil
}

func xorSum(body []byte) uint32 {
	var sum uint32
	i := 0
	for ; i+4 <= len(body); i += 4 {
		sum ^= binary.LittleEndian.Uint32(body[i : i+4])
	}
	if rem := len(body) - i; rem > 0 {
		var tail [4]byte
		copy(tail[:], body[i:])
		sum ^= binary.LittleEndian.Uint32(tail[:])
	}
	return sum
}

// HRDServer is one TCP listener implementing the HRD-style rig-control
// protocol (§4.4). channelIndex is -1 for the aggregate (all-slice)
// listener on port 7800.
type HRDServer struct {
	channelIndex int
	listener     net.Listener
	state        *StateCore
	backend      RadioBackend
	egress       *UDPEgressManager

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewHRDServer(channelIndex int, port int, state *StateCore, backend RadioBackend, egress *UDPEgressManager) (*HRDServer, error) {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen hrd port %d: %w", port, err)
	}
	s := &HRDServer{
		channelIndex: channelIndex,
		listener:     l,
		state:        state,
		backend:      backend,
		egress:       egress,
		conns:        make(map[net.Conn]struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *HRDServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *HRDServer) serve(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		cmd, err := decodeHRDFrame(conn)
		if err != nil {
			return
		}
		reply := s.dispatch(cmd)
		frame, err := encodeHRDFrame(reply)
		if err != nil {
			log.Printf("hrd: encode reply: %v", err)
			return
		}
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// dispatch applies the §4.4 named HRD command grammar and returns the
// response line, including RPRT codes for set-style commands. Reads
// are served from the state core (the canonical record of each
// channel's last-known frequency/mode/TX); writes are relayed to the
// radio backend for the server's own channel (or the current TX
// channel, for the aggregate listener).
func (s *HRDServer) dispatch(cmd string) string {
	cmd = stripRadioSelector(cmd)
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return rprtReply(rprtUnrecognized)
	}

	head := strings.ToLower(fields[0])
	switch {
	case head == "get" && len(fields) >= 2 && (fields[1] == "frequency" || fields[1] == "frequency-hz"):
		ch := s.targetChannel()
		if ch == nil {
			return rprtReply(rprtUnrecognized)
		}
		return strconv.FormatUint(ch.DialFreqHz, 10) + "\n" + rprtReply(rprtOK)

	case head == "set" && len(fields) >= 3 && fields[1] == "frequency-hz":
		hz, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return rprtReply(rprtUnrecognized)
		}
		index, ok := s.targetIndex()
		if !ok || s.backend == nil {
			return rprtReply(rprtBackendUnavailable)
		}
		code, _ := s.backend.TuneSlice(index, hz)
		return rprtReply(code)

	case head == "get" && len(fields) >= 2 && fields[1] == "mode":
		ch := s.targetChannel()
		if ch == nil {
			return rprtReply(rprtUnrecognized)
		}
		return ch.RadioMode

	case head == "set" && len(fields) >= 4 && fields[1] == "dropdown" && strings.EqualFold(fields[2], "mode"):
		mode := fields[3]
		index, ok := s.targetIndex()
		if !ok || s.backend == nil {
			return rprtReply(rprtBackendUnavailable)
		}
		code, _ := s.backend.SetSliceMode(index, mode)
		return rprtReply(code)

	case head == "get" && len(fields) >= 2 && fields[1] == "button-select" && isTXOrPTT(fields):
		ch := s.targetChannel()
		if ch == nil {
			return rprtReply(rprtUnrecognized)
		}
		if ch.IsTX {
			return "1\n" + rprtReply(rprtOK)
		}
		return "0\n" + rprtReply(rprtOK)

	case head == "set" && len(fields) >= 4 && fields[1] == "button-select" && isTXOrPTT(fields):
		index, ok := s.targetIndex()
		if !ok || s.backend == nil {
			return rprtReply(rprtBackendUnavailable)
		}
		code, _ := s.backend.SetSliceTX(index, fields[3] == "1")
		return rprtReply(code)

	case head == "get" && len(fields) >= 2 && (fields[1] == "radio" || fields[1] == "radios"):
		return "FT8-MCP"

	case head == "get" && len(fields) >= 2 && (fields[1] == "context" || fields[1] == "contexts"):
		return s.identityString()

	default:
		return rprtReply(rprtUnrecognized)
	}
}

// isTXOrPTT accepts either the literal "{TX}" or "{PTT}" selector
// token the spec's grammar uses interchangeably for the PTT button.
func isTXOrPTT(fields []string) bool {
	if len(fields) < 3 {
		return false
	}
	sel := strings.ToUpper(fields[2])
	return sel == "{TX}" || sel == "{PTT}"
}

// stripRadioSelector removes an optional leading "[N] " radio-selector
// prefix a client may send before the actual command (§4.4).
func stripRadioSelector(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) > 0 && cmd[0] == '[' {
		if idx := strings.Index(cmd, "]"); idx >= 0 {
			return strings.TrimSpace(cmd[idx+1:])
		}
	}
	return cmd
}

func rprtReply(code int) string {
	return fmt.Sprintf("RPRT %d", code)
}

// targetChannel returns the channel this server reads from: its own
// slice, or the current TX channel for the aggregate listener (§4.4
// "Aggregate server behavior").
func (s *HRDServer) targetChannel() *Channel {
	index, ok := s.targetIndex()
	if !ok {
		return nil
	}
	return s.state.GetChannel(index)
}

func (s *HRDServer) targetIndex() (int, bool) {
	if s.channelIndex >= 0 {
		return s.channelIndex, true
	}
	tx := s.state.TXChannelIndex()
	if tx < 0 {
		return 0, true
	}
	return tx, true
}

func (s *HRDServer) identityString() string {
	if s.channelIndex < 0 {
		return "FT8-MCP aggregate"
	}
	return fmt.Sprintf("FT8-MCP slice %s", ChannelLetter(s.channelIndex))
}

func (s *HRDServer) statusLine() string {
	if s.channelIndex < 0 {
		chans := s.state.AllChannels()
		parts := make([]string, 0, len(chans))
		for _, c := range chans {
			parts = append(parts, fmt.Sprintf("%s:%s", c.Letter, c.Status.String()))
		}
		return strings.Join(parts, " ")
	}
	ch := s.state.GetChannel(s.channelIndex)
	if ch == nil {
		return rprtReply(rprtUnrecognized)
	}
	return fmt.Sprintf("%s:%s:%d", ch.Letter, ch.Status.String(), ch.DialFreqHz)
}

// Push sends an unsolicited status line to every connected client
// (§4.4 "unsolicited push updates").
func (s *HRDServer) Push(line string) {
	frame, err := encodeHRDFrame(line)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Write(frame)
	}
}

func (s *HRDServer) Close() error {
	return s.listener.Close()
}
