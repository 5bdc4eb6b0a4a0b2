package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the optional prometheus surface (§4.12). It is
// never on the hot path for a correctness decision: every increment
// here is a side observation of something the rest of the system
// already decided.
type Metrics struct {
	decodesTotal       *prometheus.CounterVec
	qsosTotal          *prometheus.CounterVec
	protocolErrorsTotal *prometheus.CounterVec
	decoderRestarts    *prometheus.CounterVec
	channelStatus      *prometheus.GaugeVec
	decoderRSSBytes    *prometheus.GaugeVec
	decoderCPUPercent  *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ft8mcp_decodes_total",
			Help: "Total decodes ingested, by channel.",
		}, []string{"channel"}),
		qsosTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ft8mcp_qsos_total",
			Help: "Total QSOs logged, by channel.",
		}, []string{"channel"}),
		protocolErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ft8mcp_protocol_parse_errors_total",
			Help: "Malformed wire frames dropped, by source component.",
		}, []string{"source"}),
		decoderRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ft8mcp_decoder_restarts_total",
			Help: "Decoder process restarts, by channel.",
		}, []string{"channel"}),
		channelStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ft8mcp_channel_status",
			Help: "Current ChannelStatus tag value, by channel (0=offline..5=error).",
		}, []string{"channel"}),
		decoderRSSBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ft8mcp_decoder_rss_bytes",
			Help: "Last sampled resident set size of the decoder process, by channel.",
		}, []string{"channel"}),
		decoderCPUPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ft8mcp_decoder_cpu_percent",
			Help: "Last sampled CPU percentage of the decoder process, by channel.",
		}, []string{"channel"}),
	}
}

func (m *Metrics) IncDecode(channel string) { m.decodesTotal.WithLabelValues(channel).Inc() }
func (m *Metrics) IncQSO(channel string)    { m.qsosTotal.WithLabelValues(channel).Inc() }

func (m *Metrics) IncProtocolParseError(source string) {
	m.protocolErrorsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) IncDecoderRestart(channel string) {
	m.decoderRestarts.WithLabelValues(channel).Inc()
}

func (m *Metrics) SetChannelStatus(channel string, status ChannelStatus) {
	m.channelStatus.WithLabelValues(channel).Set(float64(status))
}

func (m *Metrics) SetDecoderHealth(channel string, sample HealthSample) {
	m.decoderRSSBytes.WithLabelValues(channel).Set(float64(sample.RSSBytes))
	m.decoderCPUPercent.WithLabelValues(channel).Set(sample.CPUPercent)
}

// Serve starts the optional /metrics HTTP endpoint (§4.12). A disabled
// endpoint (addr == "") is a no-op; the registry keeps collecting
// either way so a later enable doesn't lose history.
func (m *Metrics) Serve(addr string, reg *prometheus.Registry) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return nil
}
