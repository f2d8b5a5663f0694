package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds everything a server or client needs to run a connection.
type Config struct {
	ListenAddr     string `yaml:"listen_addr"`
	MaxConnections int    `yaml:"max_connections"`

	MaxReservedStreams int    `yaml:"max_reserved_streams"`
	MinChunkSize       uint32 `yaml:"min_chunk_size"`
	MaxChunkSize       uint32 `yaml:"max_chunk_size"`
	OutChunkSize       uint32 `yaml:"out_chunk_size"`
	WindowAckSize      uint32 `yaml:"window_ack_size"`

	// UnvalidatedConnectionAllowed keeps a connection whose C2 fails digest validation.
	UnvalidatedConnectionAllowed bool `yaml:"unvalidated_connection_allowed"`
	// EncryptionAllowed lets a server accept RTMPE (C0 = 6) handshakes.
	EncryptionAllowed     bool `yaml:"encryption_allowed"`
	MaxProtocolViolations int  `yaml:"max_protocol_violations"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`

	TLS   TLSConfig   `yaml:"tls"`
	RTMPT RTMPTConfig `yaml:"rtmpt"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether both a certificate and a key were configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type RTMPTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with every field set to its default value.
func Default() *Config {
	return &Config{
		ListenAddr:                   ":" + DefaultPort,
		MaxReservedStreams:           MaxReservedStreams,
		MinChunkSize:                 MinChunkSize,
		MaxChunkSize:                 MaxChunkSize,
		OutChunkSize:                 DefaultOutChunkSize,
		WindowAckSize:                DefaultClientWindowSize,
		UnvalidatedConnectionAllowed: true,
		EncryptionAllowed:            true,
		MaxProtocolViolations:        MaxProtocolViolations,
		HandshakeTimeout:             DefaultHandshakeTimeout,
		IdleTimeout:                  DefaultIdleTimeout,
		RTMPT: RTMPTConfig{
			ListenAddr: ":" + DefaultTunnelPort,
		},
	}
}

// Load reads a YAML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// An empty document leaves the defaults untouched.
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns a descriptive error for the first invalid value found.
func (c *Config) Validate() error {
	if c.MaxConnections < 0 {
		return errors.Errorf("max_connections must not be negative, got %d", c.MaxConnections)
	}
	if c.MaxReservedStreams <= 0 {
		return errors.Errorf("max_reserved_streams must be positive, got %d", c.MaxReservedStreams)
	}
	if c.MinChunkSize == 0 {
		return errors.New("min_chunk_size must be at least 1")
	}
	if c.MaxChunkSize < c.MinChunkSize {
		return errors.Errorf("max_chunk_size (%d) must not be smaller than min_chunk_size (%d)", c.MaxChunkSize, c.MinChunkSize)
	}
	if c.MaxChunkSize > 0x7FFFFFFF {
		return errors.Errorf("max_chunk_size must leave the top bit clear, got %#x", c.MaxChunkSize)
	}
	if c.OutChunkSize < c.MinChunkSize || c.OutChunkSize > c.MaxChunkSize {
		return errors.Errorf("out_chunk_size must be between %d and %d, got %d", c.MinChunkSize, c.MaxChunkSize, c.OutChunkSize)
	}
	if c.WindowAckSize == 0 {
		return errors.New("window_ack_size must be positive")
	}
	if c.MaxProtocolViolations <= 0 {
		return errors.Errorf("max_protocol_violations must be positive, got %d", c.MaxProtocolViolations)
	}
	if c.HandshakeTimeout < 0 || c.IdleTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}
	if c.RTMPT.Enabled && c.RTMPT.ListenAddr == "" {
		return errors.New("rtmpt.listen_addr is required when rtmpt is enabled")
	}
	return nil
}
