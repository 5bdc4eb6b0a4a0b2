package main

import (
	"fmt"
	"os"
	"os/exec"
)

// decoderConfigTemplate renders one slice's WSJT-X-compatible INI
// configuration file (§6): rig type "Ham Radio Deluxe" pointed at this
// process's own HRD TCP listener, PTT via CAT, a DAX-named audio
// device, and the slice's dedicated UDP port. Grounded on the
// teacher's DecoderBandConfig/DecoderConfig structure (name/mode/
// frequency/enabled fields), adapted from a decode-depth invocation
// config into a full rig/audio/network configuration template.
const decoderConfigTemplate = `[Configuration]
RigName=Ham Radio Deluxe
RigControlHost=127.0.0.1
RigControlPort=%d
PTTMethod=CAT
PollInterval=1
HoldTxFreq=true
AutoSequencing=true

[Audio]
SoundInName=%s
SoundOutName=%s

[Mode]
Mode=%s
TxAudioSource=Rear/Data

[UDP]
UDPServer=127.0.0.1
UDPServerPort=%d
NUDPPort=%d
AcceptUDPRequests=true

[Waterfall]
StartFreqHz=200
EndFreqHz=2700

[Station]
DialFrequencyHz=%d
SliceLetter=%s
`

// daxAudioDeviceName mirrors the DAX virtual-audio-cable naming
// convention: "DAX Audio RX N" / "DAX Audio TX N" for channel N (1-4).
func daxAudioDeviceName(role string, audioChannel int) string {
	return fmt.Sprintf("DAX Audio %s %d", role, audioChannel)
}

// RenderDecoderConfig builds the on-disk WSJT-X-style config file for
// a slice's decoder instance (§4.6, §6). The rig-control endpoint is
// this process's own per-channel HRD TCP server (7809+index), not a
// direct radio connection — the decoder talks CAT to us, and we relay
// to the physical rig via RadioBackend.
func RenderDecoderConfig(index int, ch Channel) string {
	rxDevice := daxAudioDeviceName("RX", ch.AudioRXChannel)
	txDevice := daxAudioDeviceName("TX", ch.AudioTXChannel)
	mode := ch.DecoderMode
	if mode == "" {
		mode = "FT8"
	}

	return fmt.Sprintf(decoderConfigTemplate,
		ch.TCPPort,
		rxDevice,
		txDevice,
		mode,
		ch.UDPPort,
		ch.UDPPort,
		ch.DialFreqHz,
		ch.Letter,
	)
}

// CheckDecoderBinaryAvailable reports whether the configured decoder
// binary path looks runnable, mirroring the teacher's startup sanity
// check (§4.6 "process spawn" preconditions) without tying it to a
// specific fixed set of mode binaries.
func CheckDecoderBinaryAvailable(path string) error {
	if path == "" {
		return fmt.Errorf("decoder binary path not configured")
	}
	if resolved, err := exec.LookPath(path); err == nil {
		path = resolved
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("decoder binary %q not found: %w", path, err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("decoder binary %q is not executable", path)
	}
	return nil
}
