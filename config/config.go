// Package config loads the YAML fixtures used by the test-harness
// servers (initial tag/register state, Forward-Open reject behavior)
// and by the example CLI tools (batch tag-read/write lists). It is not
// used by the CORE library itself — a library caller hands in a tag
// attribute string (see the attr package), never a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ABServerConfig configures the Allen-Bradley EtherNet/IP test-harness
// server (spec.md §4.8's golden-reference server).
type ABServerConfig struct {
	Listen string `yaml:"listen"`

	// ForwardOpenRejectCount rejects the first this-many Forward Open
	// requests the server receives, counted server-wide across every
	// session, before accepting any, modeling a
	// PLC that's briefly out of connection slots (spec.md §8 S2).
	ForwardOpenRejectCount int `yaml:"forward_open_reject_count,omitempty"`

	Tags []ABTagFixture `yaml:"tags,omitempty"`

	// PCCCFiles seeds the PCCC data-table emulation keyed by file-type
	// letter + file number (e.g. "N7", "B3").
	PCCCFiles []PCCCFileFixture `yaml:"pccc_files,omitempty"`
}

// ABTagFixture seeds one Logix symbolic tag's initial value in the test
// server's tag database.
type ABTagFixture struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"` // BOOL, SINT, INT, DINT, LINT, REAL, LREAL, STRING, or a UDT name
	ElemCount int    `yaml:"elem_count,omitempty"`

	// InitialHex is the tag's initial raw value, written as hex bytes
	// ("01 02 03 04"); empty means zero-fill.
	InitialHex string `yaml:"initial_hex,omitempty"`

	TemplateID uint16 `yaml:"template_id,omitempty"` // set for UDT-typed tags
}

// PCCCFileFixture seeds one PCCC data-table file's backing storage.
type PCCCFileFixture struct {
	FileType string `yaml:"file_type"` // letter code: N, B, F, T, C, ST, ...
	FileNum  int    `yaml:"file_num"`
	Elements int    `yaml:"elements"`
}

// ModbusServerConfig configures the Modbus/TCP test-harness server.
type ModbusServerConfig struct {
	Listen string `yaml:"listen"`

	Coils            int `yaml:"coils,omitempty"`
	DiscreteInputs   int `yaml:"discrete_inputs,omitempty"`
	HoldingRegisters int `yaml:"holding_registers,omitempty"`
	InputRegisters   int `yaml:"input_registers,omitempty"`

	// UnitID is the only unit address the server responds to; requests
	// addressed to any other unit id return a gateway-path exception.
	UnitID byte `yaml:"unit_id,omitempty"`
}

// BatchConfig lists tag attribute strings for the example CLI's batch
// read/write mode.
type BatchConfig struct {
	Reads  []string      `yaml:"reads,omitempty"`
	Writes []BatchWrite  `yaml:"writes,omitempty"`
	Period time.Duration `yaml:"period,omitempty"` // 0 = run once
}

// BatchWrite pairs a tag attribute string with the value to write,
// given as a YAML int, float or bool scalar. cmd/tagctl writes it at
// offset 0 as an unsigned integer sized by the tag's element size (1, 2
// or 8 bytes, otherwise 4); a float is truncated to an integer first, and
// a string value is rejected with ERR_UNSUPPORTED.
type BatchWrite struct {
	Attr  string `yaml:"attr"`
	Value any    `yaml:"value"`
}

// SinkConfig configures the optional event-sink publishers the scheduler's
// event fanout can feed in addition to its in-process listener registry
// (spec.md §4.6). Each broker sub-config is independently optional; a zero
// value (Enabled: false or the whole pointer nil) means that broker isn't
// wired up, and the scheduler falls back to sink.Noop{}.
type SinkConfig struct {
	MQTT  *MQTTSinkConfig  `yaml:"mqtt,omitempty"`
	Kafka *KafkaSinkConfig `yaml:"kafka,omitempty"`
	Redis *RedisSinkConfig `yaml:"redis,omitempty"`
}

// MQTTSinkConfig configures a sink.MQTTSink.
type MQTTSinkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	RootTopic string `yaml:"root_topic"`
	UseTLS    bool   `yaml:"use_tls,omitempty"`
}

// KafkaSinkConfig configures a sink.KafkaSink.
type KafkaSinkConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	UseTLS       bool          `yaml:"use_tls,omitempty"`
	RequiredAcks int           `yaml:"required_acks,omitempty"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
}

// RedisSinkConfig configures a sink.RedisSink.
type RedisSinkConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database,omitempty"`
	KeyPrefix      string        `yaml:"key_prefix"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`
	PublishChanges bool          `yaml:"publish_changes,omitempty"`
	UseTLS         bool          `yaml:"use_tls,omitempty"`
}

// LoadSink reads a SinkConfig from a YAML file.
func LoadSink(path string) (*SinkConfig, error) {
	cfg := &SinkConfig{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadABServer reads an ABServerConfig from a YAML file.
func LoadABServer(path string) (*ABServerConfig, error) {
	cfg := &ABServerConfig{Listen: "0.0.0.0:44818"}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadModbusServer reads a ModbusServerConfig from a YAML file.
func LoadModbusServer(path string) (*ModbusServerConfig, error) {
	cfg := &ModbusServerConfig{
		Listen:           "0.0.0.0:502",
		Coils:            2000,
		DiscreteInputs:   2000,
		HoldingRegisters: 125,
		InputRegisters:   125,
		UnitID:           1,
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBatch reads a BatchConfig from a YAML file.
func LoadBatch(path string) (*BatchConfig, error) {
	cfg := &BatchConfig{}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}
