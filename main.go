package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// StartTime records when the process started; it is set once in main
// and is not read elsewhere in the package.
var StartTime time.Time

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	StartTime = time.Now().UTC()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown: signal received")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(ctx context.Context, cfg *Config) error {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	if err := metrics.Serve(cfg.Metrics.ListenAddr, registry); err != nil {
		return err
	}

	state := NewStateCore(2237, cfg.Flex.CATBasePort)

	var logbook *Logbook
	if cfg.Logbook.Path != "" {
		lb, err := NewLogbook(cfg.Logbook.Path)
		if err != nil {
			return err
		}
		logbook = lb
		defer logbook.Close()

		worked, err := ScanWorked(cfg.Logbook.Path)
		if err != nil {
			log.Printf("logbook: startup scan failed: %v", err)
		}
		for _, k := range worked {
			state.MarkWorked(k.Call, k.Band, k.Mode)
		}
		log.Printf("logbook: seeded %d worked entries from %s", len(worked), cfg.Logbook.Path)
	}

	telemetry, err := NewTelemetryPublisher(cfg.Telemetry)
	if err != nil {
		log.Printf("telemetry: disabled, connect failed: %v", err)
		telemetry = nil
	}
	if telemetry != nil {
		defer telemetry.Close()
	}

	station := StationProfile{
		Callsign:  cfg.Station.Callsign,
		Grid:      cfg.Station.Grid,
		Continent: cfg.Station.Continent,
		DXCC:      cfg.Station.DXCC,
		Prefixes:  cfg.Station.Prefixes,
	}

	egress := NewUDPEgressManager()
	ingest := NewUDPIngestManager(state, logbook, station, telemetry, metrics)

	backend := RadioBackend(NewLineRadioBackend(4992))
	defer backend.Close()

	supervisor := NewDecoderSupervisor(state, metrics, egress, backend, "decoder-configs", cfg.WSJTX.Path)
	backend.SetCallbacks(RadioBackendCallbacks{
		SliceAdded: func(index int, freqHz uint64, mode string) {
			ch := state.GetChannel(index)
			if ch == nil {
				return
			}
			if err := supervisor.SliceAdded(index, *ch); err != nil {
				log.Printf("decoder-supervisor: slice %s not started: %v", ch.Letter, err)
			}
		},
		SliceRemoved: func(index int) {
			if err := supervisor.SliceRemoved(index); err != nil {
				log.Printf("decoder-supervisor: slice %d teardown: %v", index, err)
			}
		},
	})
	if err := backend.Connect(cfg.Flex.Host); err != nil {
		log.Printf("radio-backend: connect failed, continuing without live rig control: %v", err)
	}
	for i, hz := range cfg.Flex.DefaultBands {
		if i >= 4 {
			break
		}
		if _, err := backend.TuneSlice(i, hz); err != nil {
			log.Printf("radio-backend: pre-tune slice %s to %d Hz: %v", ChannelLetter(i), hz, err)
		}
	}

	portFor := func(channel int) int {
		ch := state.GetChannel(channel)
		if ch == nil {
			return 0
		}
		return ch.UDPPort
	}
	qso := NewQSOMachine(egress, state, station, portFor)

	var hrdServers []*HRDServer
	if cfg.Logbook.EnableHRDServer {
		aggregate, err := NewHRDServer(-1, cfg.Logbook.HRDPort, state, backend, egress)
		if err != nil {
			return err
		}
		hrdServers = append(hrdServers, aggregate)
		defer aggregate.Close()
	}

	for i := 0; i < 4; i++ {
		ch := state.GetChannel(i)
		if err := ingest.StartChannel(i, ch.UDPPort); err != nil {
			return err
		}
		defer ingest.StopChannel(i)

		srv, err := NewHRDServer(i, ch.TCPPort, state, backend, egress)
		if err != nil {
			return err
		}
		hrdServers = append(hrdServers, srv)
		defer srv.Close()

		if err := supervisor.SliceAdded(i, *ch); err != nil {
			log.Printf("decoder-supervisor: slice %s not started: %v", ch.Letter, err)
		}
		defer supervisor.SliceRemoved(i)
	}

	sampler := NewHealthSampler()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		state.WatchHeartbeats(gctx.Done())
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sampler.SampleAll(state, metrics)
			}
		}
	})

	g.Go(func() error {
		sub := state.Subscribe()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sub:
				for _, c := range state.AllChannels() {
					metrics.SetChannelStatus(c.Letter, c.Status)
				}
			}
		}
	})

	tools := NewAIToolSurface(state, qso, egress, supervisor, backend, station, portFor)
	g.Go(func() error {
		if err := tools.Serve(); err != nil {
			log.Printf("ai-tool-surface: stdio server exited: %v", err)
		}
		cancel()
		return nil
	})

	<-gctx.Done()
	shutdownAll(state, egress)

	return g.Wait()
}

// shutdownAll sends a Close datagram to every connected slice and
// gives decoders a moment to exit cleanly before the deferred
// supervisor/egress teardown forcibly kills anything still running
// (§4.6 "graceful shutdown sequencing").
func shutdownAll(state *StateCore, egress *UDPEgressManager) {
	for _, ch := range state.AllChannels() {
		if ch.Connected {
			egress.SendClose(ch.Index, ch.UDPPort, "shutdown")
		}
	}
	time.Sleep(2 * time.Second)
}
