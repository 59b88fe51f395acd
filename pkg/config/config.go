// Package config loads the YAML configuration shared by the command line
// tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of the configuration file
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Node      NodeConfig      `yaml:"node"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	CoreAPI   CoreAPIConfig   `yaml:"coreApi"`
	Publisher PublisherConfig `yaml:"publisher"`
	Relay     RelayConfig     `yaml:"relay"`
	HTTP      HTTPConfig      `yaml:"httpServer"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// NodeConfig describes the local peer
type NodeConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type" validate:"oneof=node tracker"`
	Addrs   []string `yaml:"addrs"`
	Country string   `yaml:"country"`
	City    string   `yaml:"city"`
}

// ProtocolConfig selects the versions written on the wire. Zero selects the latest.
type ProtocolConfig struct {
	StreamMessageVersion int `yaml:"streamMessageVersion" validate:"omitempty,oneof=30 31 32"`
	ControlVersion       int `yaml:"controlVersion" validate:"omitempty,eq=2"`
}

// CoreAPIConfig points at the REST API serving stream metadata
type CoreAPIConfig struct {
	URL          string        `yaml:"url" validate:"required,url"`
	SessionToken string        `yaml:"sessionToken"`
	CacheMaxAge  time.Duration `yaml:"cacheMaxAge" validate:"gte=0"`
	CacheSize    int           `yaml:"cacheSize" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
}

// PublisherConfig configures signing and encryption of published messages
type PublisherConfig struct {
	PrivateKeyFile    string `yaml:"privateKeyFile"`
	GroupKeyDB        string `yaml:"groupKeyDb" validate:"required"`
	CreateMissingKeys bool   `yaml:"createMissingKeys"`
	MsgChainID        string `yaml:"msgChainId"`
}

// RelayConfig configures the version-translating relay
type RelayConfig struct {
	BufferSize int `yaml:"bufferSize" validate:"gte=0"`
}

// HTTPConfig configures the optional diagnostics server
type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	EnableCORS   bool          `yaml:"enableCors"`
	RateLimit    int           `yaml:"rateLimit" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"gte=0"`
	APIKeys      []string      `yaml:"apiKeys" validate:"dive,min=8"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Node: NodeConfig{
			Type: "node",
		},
		CoreAPI: CoreAPIConfig{
			URL:         "http://localhost/api/v1",
			CacheMaxAge: 15 * time.Minute,
			CacheSize:   10000,
			Timeout:     10 * time.Second,
		},
		Publisher: PublisherConfig{
			GroupKeyDB:        "groupkeys.db",
			CreateMissingKeys: true,
		},
		Relay: RelayConfig{
			BufferSize: 256,
		},
		HTTP: HTTPConfig{
			Port:         7171,
			EnableCORS:   true,
			RateLimit:    100,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and reports all failures at once
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Marshal encodes the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
