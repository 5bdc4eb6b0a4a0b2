package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TelemetryConfig configures the optional MQTT spot/QSO forwarder
// (§4.13). A zero-value Broker disables forwarding entirely.
type TelemetryConfig struct {
	Broker      string `json:"broker"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
}

// TelemetryPublisher forwards decode and QSO events to an MQTT broker,
// best-effort (§4.13 "never blocks ingestion"). Grounded on the
// teacher's MQTT client setup idiom (client options, reconnect
// handlers) but publishing this spec's own payload shapes rather than
// scraped Prometheus metric families.
type TelemetryPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewTelemetryPublisher connects to the broker and returns a forwarder,
// or nil with no error if cfg.Broker is empty (forwarding disabled).
func NewTelemetryPublisher(cfg TelemetryConfig) (*TelemetryPublisher, error) {
	if cfg.Broker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateTelemetryClientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("telemetry: mqtt connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Println("telemetry: mqtt reconnecting")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "ft8mcp"
	}

	return &TelemetryPublisher{client: client, prefix: prefix, qos: cfg.QoS}, nil
}

func generateTelemetryClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "ft8mcp_" + hex.EncodeToString(b)
}

// PublishDecode forwards one enriched decode, never blocking the
// ingest pipeline (§4.13 — publish is fire-and-forget; failures are
// logged, not surfaced to the caller).
func (t *TelemetryPublisher) PublishDecode(rec InternalDecodeRecord) {
	if t == nil || t.client == nil || !t.client.IsConnected() {
		return
	}
	topic := fmt.Sprintf("%s/decodes/%s/%s", t.prefix, rec.Band, rec.Mode)
	t.publishAsync(topic, map[string]interface{}{
		"timestamp": rec.Timestamp.Unix(),
		"band":      rec.Band,
		"mode":      rec.Mode,
		"callsign":  rec.Callsign,
		"grid":      rec.Grid,
		"snr_db":    rec.SNRdB,
		"rf_hz":     rec.RFHz,
		"is_cq":     rec.IsCQ,
	})
}

// PublishQSO forwards one completed contact (§4.13).
func (t *TelemetryPublisher) PublishQSO(rec QSORecord) {
	if t == nil || t.client == nil || !t.client.IsConnected() {
		return
	}
	topic := fmt.Sprintf("%s/qsos/%s", t.prefix, rec.Band)
	t.publishAsync(topic, map[string]interface{}{
		"timestamp": rec.EndTime.Unix(),
		"callsign":  rec.Callsign,
		"grid":      rec.Grid,
		"band":      rec.Band,
		"mode":      rec.Mode,
		"rst_sent":  rec.ReportSent,
		"rst_rcvd":  rec.ReportReceived,
	})
}

func (t *TelemetryPublisher) publishAsync(topic string, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("telemetry: marshal payload for %s: %v", topic, err)
		return
	}
	token := t.client.Publish(topic, t.qos, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("telemetry: publish to %s failed: %v", topic, token.Error())
		}
	}()
}

// Close disconnects from the broker (§4.13 shutdown sequencing).
func (t *TelemetryPublisher) Close() {
	if t == nil || t.client == nil {
		return
	}
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}
