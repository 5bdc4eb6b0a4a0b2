package main

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// HealthSampler takes point-in-time OS-level liveness/resource
// readings of decoder processes (§4.6, §3's HealthSample). Grounded
// on the teacher's decoder health diagnostics structures, radically
// simplified: per-cycle aggregate stats are gone, replaced by one
// sample per PID drawn straight from the OS via gopsutil.
type HealthSampler struct{}

func NewHealthSampler() *HealthSampler { return &HealthSampler{} }

// Sample reports the current liveness/resource usage for pid. A dead
// or unreadable process yields Alive=false, SampleFailed=true, and
// zeroed resource fields rather than an error (§8 "health-sample-for-
// dead-pid behavior" — sampling must never panic or block the caller
// on a gone process).
func (h *HealthSampler) Sample(pid int) HealthSample {
	now := time.Now().UTC()
	if pid <= 0 {
		return HealthSample{PID: pid, Alive: false, SampledAt: now, SampleFailed: true}
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return HealthSample{PID: pid, Alive: false, SampledAt: now, SampleFailed: true}
	}

	running, err := proc.IsRunning()
	if err != nil || !running {
		return HealthSample{PID: pid, Alive: false, SampledAt: now, SampleFailed: true}
	}

	sample := HealthSample{PID: pid, Alive: true, SampledAt: now}

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		sample.RSSBytes = mem.RSS
	} else {
		sample.SampleFailed = true
	}

	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	} else {
		sample.SampleFailed = true
	}

	return sample
}

// SampleAll polls every known decoder instance's PID and reports the
// per-channel health samples, feeding the metrics gauges (§4.12).
func (h *HealthSampler) SampleAll(state *StateCore, metrics *Metrics) map[int]HealthSample {
	out := make(map[int]HealthSample, 4)
	for i := 0; i < 4; i++ {
		inst := state.GetInstance(i)
		if inst == nil || inst.PID == 0 {
			continue
		}
		sample := h.Sample(inst.PID)
		out[i] = sample
		metrics.SetDecoderHealth(ChannelLetter(i), sample)
	}
	return out
}
