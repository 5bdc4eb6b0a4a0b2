package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config is the top-level application configuration (§6), loaded from
// a single JSON document. Unknown fields are ignored; every field has
// a documented default applied after schema validation.
type Config struct {
	Mode string `json:"mode"` // "flex" or "standard"

	Station StationConfig `json:"station"`
	Flex    FlexConfig    `json:"flex"`
	WSJTX   WSJTXConfig   `json:"wsjtx"`
	Logbook LogbookConfig `json:"logbook"`

	Dashboard DashboardConfig `json:"dashboard"`

	Metrics   MetricsConfig   `json:"metrics"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type StationConfig struct {
	Callsign  string   `json:"callsign"`
	Grid      string   `json:"grid"`
	Continent string   `json:"continent"`
	DXCC      string   `json:"dxcc"`
	Prefixes  []string `json:"prefixes"`
}

type FlexConfig struct {
	Host         string   `json:"host"`
	CATBasePort  int      `json:"cat_base_port"`
	DefaultBands []uint64 `json:"default_bands"` // Hz, one per slice, pre-tuned on appearance
}

type WSJTXConfig struct {
	Path string `json:"path"`
}

type LogbookConfig struct {
	Path             string `json:"path"`
	EnableHRDServer  bool   `json:"enable_hrd_server"`
	HRDPort          int    `json:"hrd_port"`
}

type DashboardConfig struct {
	StationLifetimeSeconds int   `json:"station_lifetime_seconds"`
	SNRThresholds          []int `json:"snr_thresholds"`
}

type MetricsConfig struct {
	ListenAddr string `json:"listen_addr"` // "" disables the /metrics endpoint
}

// configSchema is the §4.11 JSON Schema used to validate a loaded
// configuration document before defaults are applied. Grounded on the
// pack's jsonschema/v5 usage pattern (compile once, validate a decoded
// interface{} tree).
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "mode": {"type": "string", "enum": ["flex", "standard"]},
    "station": {
      "type": "object",
      "properties": {
        "callsign": {"type": "string"},
        "grid": {"type": "string"},
        "continent": {"type": "string"},
        "dxcc": {"type": "string"},
        "prefixes": {"type": "array", "items": {"type": "string"}}
      }
    },
    "flex": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "cat_base_port": {"type": "integer"},
        "default_bands": {"type": "array", "items": {"type": "integer"}}
      }
    },
    "wsjtx": {
      "type": "object",
      "properties": {"path": {"type": "string"}}
    },
    "logbook": {
      "type": "object",
      "properties": {
        "path": {"type": "string"},
        "enable_hrd_server": {"type": "boolean"},
        "hrd_port": {"type": "integer"}
      }
    },
    "dashboard": {
      "type": "object",
      "properties": {
        "station_lifetime_seconds": {"type": "integer"},
        "snr_thresholds": {"type": "array", "items": {"type": "integer"}}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {"listen_addr": {"type": "string"}}
    },
    "telemetry": {
      "type": "object",
      "properties": {
        "broker": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "topic_prefix": {"type": "string"}
      }
    }
  }
}`

func compileConfigSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(configSchema)); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
}

// LoadConfig reads, schema-validates, and defaults a configuration
// document (§4.11). A schema validation failure is Fatal per §7.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}

	schema, err := compileConfigSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("config schema validation failed: %w", err)
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode config into struct: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Mode: "standard",
		Flex: FlexConfig{
			Host:         "127.0.0.1",
			CATBasePort:  7809,
			DefaultBands: []uint64{7074000, 14074000, 18100000, 21074000},
		},
		WSJTX: WSJTXConfig{Path: "/usr/bin/wsjtx"},
		Logbook: LogbookConfig{
			Path:            "logbook.adi",
			EnableHRDServer: true,
			HRDPort:         7800,
		},
		Dashboard: DashboardConfig{
			StationLifetimeSeconds: 86400,
			SNRThresholds:          []int{-20, -10, 0, 10},
		},
		Metrics: MetricsConfig{ListenAddr: ""},
	}
}
