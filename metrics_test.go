package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestIncDecodeIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.IncDecode("A")
	m.IncDecode("A")
	m.IncDecode("B")

	got := counterValue(t, m.decodesTotal.WithLabelValues("A"))
	if got != 2 {
		t.Errorf("channel A count = %v, want 2", got)
	}
	got = counterValue(t, m.decodesTotal.WithLabelValues("B"))
	if got != 1 {
		t.Errorf("channel B count = %v, want 1", got)
	}
}

func TestSetChannelStatusGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetChannelStatus("A", StatusDecoding)

	var metric dto.Metric
	if err := m.channelStatus.WithLabelValues("A").Write(&metric); err != nil {
		t.Fatal(err)
	}
	if metric.GetGauge().GetValue() != float64(StatusDecoding) {
		t.Errorf("gauge = %v, want %v", metric.GetGauge().GetValue(), StatusDecoding)
	}
}

func TestMetricsServeDisabledIsNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if err := m.Serve("", reg); err != nil {
		t.Errorf("Serve with empty addr should never error, got %v", err)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatal(err)
	}
	return metric.GetCounter().GetValue()
}
