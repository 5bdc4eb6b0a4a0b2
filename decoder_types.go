package main

import (
	"time"
)

// ChannelStatus is the small closed tagged variant for a channel's
// operating state (§3, §9 "Channel status and operation mode are
// small closed tagged variants").
type ChannelStatus int

const (
	StatusOffline ChannelStatus = iota
	StatusIdle
	StatusDecoding
	StatusCalling
	StatusInQSO
	StatusError
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusIdle:
		return "idle"
	case StatusDecoding:
		return "decoding"
	case StatusCalling:
		return "calling"
	case StatusInQSO:
		return "in_qso"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// channelLetters maps index 0..3 to letters A..D.
var channelLetters = [4]string{"A", "B", "C", "D"}

// ChannelLetter returns the stable public identifier for a channel index.
func ChannelLetter(index int) string {
	if index < 0 || index >= len(channelLetters) {
		return "?"
	}
	return channelLetters[index]
}

// Channel is the system's per-slice world state (§3).
type Channel struct {
	Index        int
	Letter       string
	InstanceName string

	DialFreqHz uint64
	RadioMode  string // e.g. "DIGU", "DIGL", "USB"
	Band       string // derived from DialFreqHz via BandForFrequency

	IsTX bool

	AudioRXChannel int // 1..4
	AudioTXChannel int

	UDPPort int
	TCPPort int

	DecoderMode        string // decoder-reported digital mode, e.g. "FT8"
	DecoderTXEnabled   bool
	DecoderTransmitter bool // decoder reports it is transmitting
	DecoderDecoding    bool
	RXAudioOffsetHz    uint32
	TXAudioOffsetHz    uint32

	Status ChannelStatus

	Connected     bool
	LastHeartbeat time.Time
	LastDecode    time.Time

	DecodeCount int64
	QSOCount    int64
}

// Clone returns a value copy safe to hand to callers outside the state
// core's lock.
func (c *Channel) Clone() Channel {
	return *c
}

// NewChannel builds a channel in its initial offline state for the
// given index, deriving the fixed port/audio assignments (§3 invariants).
func NewChannel(index int, udpBase, tcpBase int) *Channel {
	return &Channel{
		Index:          index,
		Letter:         ChannelLetter(index),
		AudioRXChannel: index + 1,
		AudioTXChannel: index + 1,
		UDPPort:        udpBase + index,
		TCPPort:        tcpBase + index,
		Status:         StatusOffline,
	}
}

// DecoderInstance tracks the lifecycle of the external per-slice
// decoder process (§3).
type DecoderInstance struct {
	Name           string
	ChannelIndex   int
	PID            int // 0 means no OS process currently associated
	Running        bool
	RestartCount   int
	LastStart      time.Time
	LastError      string
	PermanentError bool
}

// HealthSample is a point-in-time OS-level liveness/resource reading
// for a decoder instance's process (SPEC_FULL §3 addition).
type HealthSample struct {
	PID          int
	Alive        bool
	RSSBytes     uint64
	CPUPercent   float64
	SampledAt    time.Time
	SampleFailed bool
}

// InternalDecodeRecord is the per-observed-message record the ingest
// pipeline builds and hands to the state core (§3).
type InternalDecodeRecord struct {
	ChannelIndex int
	SliceLetter  string

	Timestamp time.Time // ISO-UTC
	Band      string
	Mode      string

	DialHz      uint64
	AudioOffset uint32
	RFHz        uint64

	SNRdB int
	DTSec float64

	Callsign string // non-null; dropped at ingest otherwise
	Grid     string // "" if none

	IsCQ             bool
	IsMyCall         bool
	IsDirectedCQToMe bool
	CQTargetToken    string // "" if absent
	RawText          string
	LowConfidence    bool
	OffAir           bool
	NewDecode        bool
}

// PublicDecodeRecord is the AI-facing view of a decode: the same
// fields minus routing identifiers, plus a per-snapshot unique id (§4.9).
type PublicDecodeRecord struct {
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	Band      string    `json:"band"`
	Mode      string    `json:"mode"`

	DialHz      uint64 `json:"dial_hz"`
	AudioOffset uint32 `json:"audio_offset_hz"`
	RFHz        uint64 `json:"rf_hz"`

	SNRdB int     `json:"snr_db"`
	DTSec float64 `json:"dt_sec"`

	Callsign string `json:"callsign"`
	Grid     string `json:"grid,omitempty"`

	IsCQ             bool   `json:"is_cq"`
	IsMyCall         bool   `json:"is_my_call"`
	IsDirectedCQToMe bool   `json:"is_directed_cq_to_me"`
	CQTargetToken    string `json:"cq_target_token,omitempty"`
	RawText          string `json:"raw_text"`

	LowConfidence bool `json:"low_confidence,omitempty"`
	OffAir        bool `json:"off_air,omitempty"`
	NewDecode     bool `json:"new_decode,omitempty"`
}

// DecodeSnapshot is a time-bounded, id-stamped list of public decode
// records returned to the AI client (§4.9).
type DecodeSnapshot struct {
	SnapshotID string               `json:"snapshot_id"`
	Generated  time.Time            `json:"generated_at"`
	Decodes    []PublicDecodeRecord `json:"decodes"`
}

// WorkedIndexKey is the (callsign, band, mode) key used for duplicate
// detection (§3, §4.8). Callers must normalize before constructing.
type WorkedIndexKey struct {
	Call string
	Band string
	Mode string
}

// QSORecord is a completed or in-progress autonomous contact (§3).
type QSORecord struct {
	StartTime time.Time
	EndTime   time.Time

	Callsign string
	Grid     string
	Band     string
	DialHz   uint64
	Mode     string

	ReportSent     string
	ReportReceived string
	TXPowerWatts   int

	SliceLetter  string
	ChannelIndex int
	InstanceName string
	Notes        string
}

// StationProfile is the operator's own identity used for CQ-targeting
// decisions (§3, §4.10).
type StationProfile struct {
	Callsign  string
	Grid      string
	Continent string // one of EU/NA/SA/AF/AS/OC/AN
	DXCC      string // DXCC prefix, e.g. "HB9"
	Prefixes  []string
}
