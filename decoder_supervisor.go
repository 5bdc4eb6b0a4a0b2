package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const (
	maxRestarts         = 5
	minRestartInterval  = 5 * time.Second
	graceShutdownWait   = 5 * time.Second
	restartAllSettle    = 3 * time.Second
)

// DecoderSupervisor owns the lifecycle of the four external per-slice
// decoder processes (§4.6). Adapted from the teacher's one-shot,
// per-cycle exec.Command spawner into a long-running supervised
// process model: each decoder instance runs until it exits or is
// stopped, and is restarted under a bounded policy rather than
// re-invoked every decode cycle.
type DecoderSupervisor struct {
	mu        sync.Mutex
	processes map[int]*supervisedProcess

	state      *StateCore
	metrics    *Metrics
	egress     *UDPEgressManager
	backend    RadioBackend
	configRoot string
	binaryPath string
}

type supervisedProcess struct {
	cmd       *exec.Cmd
	stopped   bool
	configDir string
}

func NewDecoderSupervisor(state *StateCore, metrics *Metrics, egress *UDPEgressManager, backend RadioBackend, configRoot, binaryPath string) *DecoderSupervisor {
	return &DecoderSupervisor{
		processes:  make(map[int]*supervisedProcess),
		state:      state,
		metrics:    metrics,
		egress:     egress,
		backend:    backend,
		configRoot: configRoot,
		binaryPath: binaryPath,
	}
}

// SliceAdded starts a decoder instance for a newly configured channel
// (§4.6 "slice-added lifecycle"). Idempotent.
func (d *DecoderSupervisor) SliceAdded(index int, ch Channel) error {
	d.mu.Lock()
	if _, exists := d.processes[index]; exists {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if d.backend != nil {
		if _, err := d.backend.SetSliceAudio(index, ch.AudioRXChannel); err != nil {
			log.Printf("decoder-supervisor: set slice %s audio channel: %v", ch.Letter, err)
		}
	}

	configDir, err := d.generateConfig(index, ch)
	if err != nil {
		return fmt.Errorf("generate decoder config for channel %s: %w", ch.Letter, err)
	}

	return d.start(index, configDir)
}

// SliceRemoved stops and forgets a channel's decoder instance (§4.6).
func (d *DecoderSupervisor) SliceRemoved(index int) error {
	d.mu.Lock()
	p, exists := d.processes[index]
	if !exists {
		d.mu.Unlock()
		return nil
	}
	delete(d.processes, index)
	d.mu.Unlock()

	p.stopped = true
	if p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() { p.cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(graceShutdownWait):
			p.cmd.Process.Kill()
		}
	}
	d.egress.Forget(index)
	return nil
}

func (d *DecoderSupervisor) start(index int, configDir string) error {
	cmd := exec.Command(d.binaryPath, "--config", filepath.Join(configDir, "decoder.conf"))
	cmd.Dir = configDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder process: %w", err)
	}

	p := &supervisedProcess{cmd: cmd, configDir: configDir}
	d.mu.Lock()
	d.processes[index] = p
	d.mu.Unlock()

	pid := cmd.Process.Pid
	d.state.UpdateInstance(index, func(inst *DecoderInstance) {
		inst.PID = pid
		inst.Running = true
		inst.LastStart = time.Now().UTC()
	})

	go d.watch(index, p)
	return nil
}

// watch blocks on the process and applies the restart policy when it
// exits unexpectedly: restart iff RestartCount < maxRestarts AND at
// least minRestartInterval has elapsed since the last start (§4.6).
func (d *DecoderSupervisor) watch(index int, p *supervisedProcess) {
	err := p.cmd.Wait()

	d.mu.Lock()
	current, stillTracked := d.processes[index]
	d.mu.Unlock()
	if !stillTracked || current != p || p.stopped {
		return
	}

	d.state.UpdateInstance(index, func(inst *DecoderInstance) {
		inst.Running = false
		inst.PID = 0
		if err != nil {
			inst.LastError = err.Error()
		}
	})

	inst := d.state.GetInstance(index)
	if inst == nil {
		return
	}

	elapsed := time.Since(inst.LastStart)
	if inst.RestartCount >= maxRestarts {
		d.state.UpdateInstance(index, func(i *DecoderInstance) { i.PermanentError = true })
		log.Printf("decoder-supervisor: channel %s exceeded %d restarts, giving up", ChannelLetter(index), maxRestarts)
		return
	}
	if elapsed < minRestartInterval {
		time.Sleep(minRestartInterval - elapsed)
	}

	d.state.UpdateInstance(index, func(i *DecoderInstance) { i.RestartCount++ })
	d.metrics.IncDecoderRestart(ChannelLetter(index))

	if startErr := d.start(index, p.configDir); startErr != nil {
		log.Printf("decoder-supervisor: restart channel %s failed: %v", ChannelLetter(index), startErr)
	}
}

// RestartAll gracefully restarts every running decoder instance in
// turn (§4.6 "graceful-restart-all").
func (d *DecoderSupervisor) RestartAll() error {
	d.mu.Lock()
	indices := make([]int, 0, len(d.processes))
	for idx := range d.processes {
		indices = append(indices, idx)
	}
	d.mu.Unlock()

	for _, idx := range indices {
		d.mu.Lock()
		p := d.processes[idx]
		d.mu.Unlock()
		if p == nil {
			continue
		}
		configDir := p.configDir

		if ch := d.state.GetChannel(idx); ch != nil && ch.Connected {
			d.egress.SendClose(idx, ch.UDPPort, "restart-all")
		}
		time.Sleep(restartAllSettle)

		if err := d.SliceRemoved(idx); err != nil {
			return fmt.Errorf("restart-all: stop channel %d: %w", idx, err)
		}
		if err := d.start(idx, configDir); err != nil {
			return fmt.Errorf("restart-all: start channel %d: %w", idx, err)
		}
	}
	return nil
}

func (d *DecoderSupervisor) generateConfig(index int, ch Channel) (string, error) {
	dir := filepath.Join(d.configRoot, fmt.Sprintf("slice-%s", ch.Letter))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("mkdir decoder config dir: %w", err)
	}
	content := RenderDecoderConfig(index, ch)
	path := filepath.Join(dir, "decoder.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write decoder config: %w", err)
	}
	return dir, nil
}
