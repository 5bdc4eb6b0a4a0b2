package main

import (
	"bufio"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RPRT error codes surfaced by the radio backend (§4.4, shared with
// the HRD TCP server's command grammar).
const (
	rprtOK                 = 0
	rprtUnrecognized       = -1
	rprtBackendUnavailable = -9
)

// RadioBackendCallbacks are invoked as the backend observes slice
// lifecycle and connection-state changes (§4.5). Callbacks run
// synchronously in the backend's read-loop goroutine and must not
// block (§5 "Shared resources").
type RadioBackendCallbacks struct {
	SliceAdded   func(index int, freqHz uint64, mode string)
	SliceRemoved func(index int)
	SliceUpdated func(index int, freqHz uint64, mode string)
	Error        func(err error)
	Connected    func()
	Disconnected func()
}

// RadioBackend is the abstraction over the SDR's slice-control link
// (§4.5). Every mutating call addresses one of the four independent
// slices by index; the backend owns reconnection and slice-event
// tracking, and callers never see a raw socket.
type RadioBackend interface {
	Connect(host string) error
	Disconnect()
	Connected() bool
	ListSlices() []int
	TuneSlice(index int, hz uint64) (int, error)
	SetSliceMode(index int, mode string) (int, error)
	SetSliceTX(index int, on bool) (int, error)
	SetSliceAudio(index int, channel int) (int, error)
	SetCallbacks(cb RadioBackendCallbacks)
	Close()
}

// sliceState is the backend's cached view of one slice, rebuilt from
// unsolicited "slice <index> key=value ..." push messages (§4.5).
type sliceState struct {
	freqHz uint64
	mode   string
	active bool
}

// lineRadioBackend talks a line-oriented command/response protocol to
// the SDR's control daemon on TCP port 4992 (§4.5): requests are sent
// as "C<handle>|<command>" lines, responses and unsolicited slice
// pushes both arrive as "S<handle>|<payload>" lines. Grounded on the
// teacher's rotctl client: same exponential-backoff reconnect idiom
// and mutex-protected conn swap, different wire grammar.
type lineRadioBackend struct {
	port int

	mu      sync.Mutex
	host    string
	conn    net.Conn
	seq     int
	pending map[string]chan string
	slices  map[int]*sliceState
	cb      RadioBackendCallbacks
	wasConn bool

	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	timeout           time.Duration

	stop    chan struct{}
	stopped bool
}

func NewLineRadioBackend(port int) *lineRadioBackend {
	return &lineRadioBackend{
		port:              port,
		pending:           make(map[string]chan string),
		slices:            make(map[int]*sliceState),
		initialRetryDelay: 1 * time.Second,
		maxRetryDelay:     60 * time.Second,
		timeout:           5 * time.Second,
		stop:              make(chan struct{}),
	}
}

func (b *lineRadioBackend) SetCallbacks(cb RadioBackendCallbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = cb
}

// Connect dials the backend and starts the reconnect-on-failure loop
// (§4.5 "connect(host)").
func (b *lineRadioBackend) Connect(host string) error {
	b.mu.Lock()
	b.host = host
	b.mu.Unlock()
	go b.connectLoop()
	return nil
}

func (b *lineRadioBackend) connectLoop() {
	delay := b.initialRetryDelay
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		if err := b.dial(); err == nil {
			return
		}
		select {
		case <-b.stop:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > b.maxRetryDelay {
			delay = b.maxRetryDelay
		}
	}
}

func (b *lineRadioBackend) dial() error {
	b.mu.Lock()
	host := b.host
	b.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", host, b.port)
	conn, err := net.DialTimeout("tcp", addr, b.timeout)
	if err != nil {
		return fmt.Errorf("dial radio backend %s: %w", addr, err)
	}

	b.mu.Lock()
	b.conn = conn
	cb := b.cb
	b.mu.Unlock()

	go b.readLoop(conn, bufio.NewReader(conn))
	if cb.Connected != nil {
		cb.Connected()
	}
	return nil
}

// readLoop consumes response and unsolicited slice-push lines until
// the connection fails, then kicks off reconnection (§4.5).
func (b *lineRadioBackend) readLoop(conn net.Conn, reader *bufio.Reader) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			b.onDisconnect(conn, err)
			return
		}
		b.handleLine(strings.TrimRight(line, "\r\n"))
	}
}

func (b *lineRadioBackend) onDisconnect(conn net.Conn, err error) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	cb := b.cb
	stopped := b.stopped
	b.mu.Unlock()

	if stopped {
		return
	}
	if cb.Disconnected != nil {
		cb.Disconnected()
	}
	if cb.Error != nil && err != nil {
		cb.Error(err)
	}
	go b.connectLoop()
}

// handleLine dispatches a "S<handle>|<payload>" line either to a
// pending command's reply channel or, if no command is waiting on
// that handle, to the unsolicited slice-push handler (§4.5).
func (b *lineRadioBackend) handleLine(line string) {
	if line == "" || !strings.HasPrefix(line, "S") {
		return
	}
	rest := line[1:]
	parts := strings.SplitN(rest, "|", 2)
	if len(parts) != 2 {
		return
	}
	handle, payload := parts[0], parts[1]

	b.mu.Lock()
	ch, pending := b.pending[handle]
	if pending {
		delete(b.pending, handle)
	}
	b.mu.Unlock()

	if pending {
		select {
		case ch <- payload:
		default:
		}
		return
	}
	b.handleSlicePush(payload)
}

// handleSlicePush parses "slice <index> key=value ..." messages,
// translating MHz to Hz, and fires slice-added/removed/updated
// callbacks on an active-flag transition (§4.5).
func (b *lineRadioBackend) handleSlicePush(payload string) {
	fields := strings.Fields(payload)
	if len(fields) < 2 || fields[0] != "slice" {
		return
	}
	index, err := strconv.Atoi(fields[1])
	if err != nil {
		return
	}

	b.mu.Lock()
	st, exists := b.slices[index]
	if !exists {
		st = &sliceState{}
		b.slices[index] = st
	}
	wasActive := st.active
	for _, f := range fields[2:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "freq":
			if mhz, err := strconv.ParseFloat(kv[1], 64); err == nil {
				st.freqHz = uint64(mhz * 1_000_000)
			}
		case "mode":
			st.mode = kv[1]
		case "active":
			st.active = kv[1] == "1" || kv[1] == "true"
		}
	}
	freqHz, mode, active := st.freqHz, st.mode, st.active
	cb := b.cb
	b.mu.Unlock()

	switch {
	case active && !wasActive:
		if cb.SliceAdded != nil {
			cb.SliceAdded(index, freqHz, mode)
		}
	case !active && wasActive:
		if cb.SliceRemoved != nil {
			cb.SliceRemoved(index)
		}
	default:
		if cb.SliceUpdated != nil {
			cb.SliceUpdated(index, freqHz, mode)
		}
	}
}

func (b *lineRadioBackend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *lineRadioBackend) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *lineRadioBackend) Close() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.stop)
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (b *lineRadioBackend) ListSlices() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, 0, len(b.slices))
	for idx, st := range b.slices {
		if st.active {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// command sends one "C<handle>|<cmd>" line and blocks for its
// "S<handle>|<payload>" reply. On any I/O error the connection is
// dropped and a background reconnect is kicked off; the call itself
// fails with rprtBackendUnavailable (§4.4/§4.5).
func (b *lineRadioBackend) command(cmd string) (string, int, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return "", rprtBackendUnavailable, fmt.Errorf("radio backend not connected")
	}
	b.seq++
	handle := strconv.Itoa(b.seq)
	replyCh := make(chan string, 1)
	b.pending[handle] = replyCh
	b.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(b.timeout))
	if _, err := fmt.Fprintf(conn, "C%s|%s\n", handle, cmd); err != nil {
		b.mu.Lock()
		delete(b.pending, handle)
		b.mu.Unlock()
		conn.Close() // readLoop sees the error and starts reconnection
		return "", rprtBackendUnavailable, fmt.Errorf("send command: %w", err)
	}

	select {
	case payload := <-replyCh:
		return payload, rprtOK, nil
	case <-time.After(b.timeout):
		b.mu.Lock()
		delete(b.pending, handle)
		b.mu.Unlock()
		return "", rprtUnrecognized, fmt.Errorf("command %q timed out", cmd)
	}
}

func (b *lineRadioBackend) TuneSlice(index int, hz uint64) (int, error) {
	mhz := float64(hz) / 1_000_000
	_, code, err := b.command(fmt.Sprintf("slice tune %d freq=%.6f", index, mhz))
	return code, err
}

func (b *lineRadioBackend) SetSliceMode(index int, mode string) (int, error) {
	_, code, err := b.command(fmt.Sprintf("slice set %d mode=%s", index, mode))
	return code, err
}

func (b *lineRadioBackend) SetSliceTX(index int, on bool) (int, error) {
	val := "0"
	if on {
		val = "1"
	}
	_, code, err := b.command(fmt.Sprintf("slice set %d tx=%s", index, val))
	return code, err
}

func (b *lineRadioBackend) SetSliceAudio(index int, channel int) (int, error) {
	_, code, err := b.command(fmt.Sprintf("slice set %d audio_channel=%d", index, channel))
	return code, err
}

// rprtMessage maps an RPRT code to a human-readable description, per
// the backend-unavailable/unrecognized semantics in §4.4.
func rprtMessage(code int) string {
	switch code {
	case rprtOK:
		return "ok"
	case rprtUnrecognized:
		return "unrecognized command"
	case rprtBackendUnavailable:
		return "backend unavailable"
	default:
		return fmt.Sprintf("error %d", code)
	}
}
