// Package config assembles the runtime configuration from defaults, an
// optional YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"landmark-stream/shazam"
	"landmark-stream/utils"

	"github.com/mdobak/go-xerrors"
	"gopkg.in/yaml.v3"
)

// Config is the whole runtime configuration.
type Config struct {
	Fingerprint shazam.FingerprintConfig `yaml:"fingerprint"`
	Server      ServerConfig             `yaml:"server"`
	MQTT        MQTTConfig               `yaml:"mqtt"`
	Log         LogConfig                `yaml:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            string `yaml:"port"`
	ChunkSize       int    `yaml:"chunk_size"`        // bytes read from a request body per write
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`    // 0 means unlimited
	MaxMessageBytes int64  `yaml:"max_message_bytes"` // per websocket message, 0 means unlimited
}

// MQTTConfig configures the optional fingerprint publisher. An empty
// Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// LogConfig is handed to logger.Configure.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Fingerprint: shazam.DefaultConfig(),
		Server: ServerConfig{
			Port:            "5000",
			ChunkSize:       32 << 10,
			MaxBodyBytes:    5000 << 20,
			MaxMessageBytes: 1 << 20,
		},
		MQTT: MQTTConfig{
			Topic:    "landmark/fingerprints",
			ClientID: "landmark-stream",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (when non-empty and present) over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, xerrors.New("config: read "+path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, xerrors.New("config: parse "+path, err)
			}
		}
	}

	cfg.applyEnv()

	cfg.Fingerprint = cfg.Fingerprint.WithDefaults()
	if err := cfg.Fingerprint.Validate(); err != nil {
		return nil, xerrors.New("config: fingerprint", err)
	}
	if cfg.Server.ChunkSize <= 0 {
		return nil, xerrors.New(fmt.Sprintf("config: server chunk size %d", cfg.Server.ChunkSize))
	}
	if cfg.MQTT.QoS > 2 {
		return nil, xerrors.New(fmt.Sprintf("config: mqtt qos %d", cfg.MQTT.QoS))
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	fp := &c.Fingerprint
	fp.SampleRate = utils.GetEnvInt("FP_SAMPLE_RATE", fp.SampleRate)
	if n := utils.GetEnvInt("FP_NFFT", 0); n != 0 && n != fp.NFFT {
		// Step and band follow a new FFT size unless set explicitly.
		fp.NFFT = n
		fp.Step = 0
		fp.MaxBin = 0
	}
	fp.Step = utils.GetEnvInt("FP_STEP", fp.Step)
	fp.MaxPeaksPerFrame = utils.GetEnvInt("FP_MNLM", fp.MaxPeaksPerFrame)
	fp.MaxHashesPerPeak = utils.GetEnvInt("FP_MPPP", fp.MaxHashesPerPeak)
	fp.Verbose = utils.GetEnvBool("FP_VERBOSE", fp.Verbose)

	c.Server.Port = utils.GetEnv("PORT", c.Server.Port)
	c.Log.Level = utils.GetEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = utils.GetEnv("LOG_FORMAT", c.Log.Format)
	c.MQTT.Broker = utils.GetEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = utils.GetEnv("MQTT_TOPIC", c.MQTT.Topic)
}

// YAML renders the configuration the way Load reads it.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, xerrors.New("config: encode", err)
	}
	return out, nil
}
