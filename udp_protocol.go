package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// Wire-protocol constants shared by the UDP ingest and egress halves
// of the decoder protocol (§4.2/§4.3/§6). Grounded on the WSJT-X UDP
// datagram layout, adapted to this spec's Latin-1 string encoding and
// schema version.
const (
	protocolMagic   uint32 = 0xadbccbda
	protocolSchema  uint32 = 2

	msgHeartbeat   uint32 = 0
	msgStatus      uint32 = 1
	msgDecode      uint32 = 2
	msgClear       uint32 = 3
	msgReply       uint32 = 4
	msgQSOLogged   uint32 = 5
	msgClose       uint32 = 6
	msgReplay      uint32 = 7
	msgHaltTx      uint32 = 8
	msgFreeText    uint32 = 9
	msgWSPRDecode  uint32 = 10
	msgConfigure   uint32 = 15

	// nullStringLength is the length-prefix sentinel meaning "null"
	// rather than "empty string" (§4.2).
	nullStringLength uint32 = 0xFFFFFFFF

	// julianEpochOffset converts a Julian day number to days since the
	// Unix epoch (1970-01-01 is Julian day 2440588) per §4.2.
	julianEpochOffset int64 = 2440588
)

var latin1 = charmap.ISO8859_1

// frameReader wraps a byte slice with big-endian, Latin-1-aware
// primitives for decoding an inbound datagram.
type frameReader struct {
	buf *bytes.Reader
}

func newFrameReader(data []byte) *frameReader {
	return &frameReader{buf: bytes.NewReader(data)}
}

func (r *frameReader) readUint32() (uint32, error) {
	var v uint32
	if err := binary.Read(r.buf, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *frameReader) readInt32() (int32, error) {
	var v int32
	if err := binary.Read(r.buf, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *frameReader) readUint64() (uint64, error) {
	var v uint64
	if err := binary.Read(r.buf, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *frameReader) readInt64() (int64, error) {
	var v int64
	if err := binary.Read(r.buf, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *frameReader) readDouble() (float64, error) {
	var v float64
	if err := binary.Read(r.buf, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *frameReader) readBool() (bool, error) {
	b, err := r.buf.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *frameReader) readByte() (byte, error) {
	return r.buf.ReadByte()
}

// readString decodes a length-prefixed, 8-bit-clean Latin-1 string.
// A length of 0xFFFFFFFF means null (returned as ""); 0 means empty.
func (r *frameReader) readString() (string, error) {
	length, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if length == nullStringLength || length == 0 {
		return "", nil
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(r.buf, raw); err != nil {
		return "", fmt.Errorf("read string body: %w", err)
	}
	decoded, err := latin1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("latin-1 decode: %w", err)
	}
	return string(decoded), nil
}

// readJulianTimestamp decodes the §4.2 structured timestamp: a 64-bit
// signed Julian day number, a 32-bit unsigned ms-of-day, and an 8-bit
// time-spec byte. Julian day 0 means null.
func (r *frameReader) readJulianTimestamp() (time.Time, error) {
	jd, err := r.readInt64()
	if err != nil {
		return time.Time{}, err
	}
	ms, err := r.readUint32()
	if err != nil {
		return time.Time{}, err
	}
	if _, err := r.readByte(); err != nil { // time-spec, not interpreted
		return time.Time{}, err
	}
	if jd == 0 {
		return time.Time{}, nil
	}
	epochDay := jd - julianEpochOffset
	unixMs := epochDay*86_400_000 + int64(ms)
	return time.UnixMilli(unixMs).UTC(), nil
}

// frameWriter accumulates a big-endian, Latin-1-aware outbound
// datagram body (header already written by the caller).
type frameWriter struct {
	buf bytes.Buffer
}

func (w *frameWriter) bytes() []byte { return w.buf.Bytes() }

func (w *frameWriter) writeUint32(v uint32) { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *frameWriter) writeInt32(v int32)    { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *frameWriter) writeUint64(v uint64)  { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *frameWriter) writeDouble(v float64) { binary.Write(&w.buf, binary.BigEndian, v) }

func (w *frameWriter) writeBool(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *frameWriter) writeByte(b byte) { w.buf.WriteByte(b) }

// writeString encodes a length-prefixed Latin-1 string. An empty Go
// string with explicitNull=true writes the 0xFFFFFFFF "do not change"
// sentinel used by Configure (§4.3); otherwise it writes length 0.
func (w *frameWriter) writeString(s string, explicitNull bool) {
	if explicitNull && s == "" {
		w.writeUint32(nullStringLength)
		return
	}
	encoded, err := latin1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Latin-1 cannot represent the string; fall back to writing its
		// UTF-8 bytes unchanged rather than dropping the whole frame.
		encoded = []byte(s)
	}
	w.writeUint32(uint32(len(encoded)))
	w.buf.Write(encoded)
}

// writeHeader writes the magic, schema, and message-type prefix common
// to every frame.
func (w *frameWriter) writeHeader(msgType uint32) {
	w.writeUint32(protocolMagic)
	w.writeUint32(protocolSchema)
	w.writeUint32(msgType)
}

// writeJulianTimestamp encodes t using the §4.2 structured timestamp.
// The zero time encodes as Julian day 0 (null).
func (w *frameWriter) writeJulianTimestamp(t time.Time) {
	if t.IsZero() {
		w.writeInt64(0)
		w.writeUint32(0)
		w.writeByte(0)
		return
	}
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	daysSinceEpoch := int64(midnight.Unix() / 86400)
	jd := daysSinceEpoch + julianEpochOffset
	msOfDay := uint32(utc.Sub(midnight).Milliseconds())
	w.writeInt64(jd)
	w.writeUint32(msOfDay)
	w.writeByte(2) // time-spec: UTC
}

func (w *frameWriter) writeInt64(v int64) { binary.Write(&w.buf, binary.BigEndian, v) }
