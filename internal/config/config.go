package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// ErrInvalidRange is returned when a decrement bound cannot produce any candidate.
var ErrInvalidRange = errors.New("invalid search range")

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Target    TargetConfig    `mapstructure:"target"`
	Search    SearchConfig    `mapstructure:"search"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// TargetConfig describes the account endpoint being probed.
type TargetConfig struct {
	Host         string        `mapstructure:"host"`
	Scheme       string        `mapstructure:"scheme"`
	AccountPath  string        `mapstructure:"account_path"`
	SecretField  string        `mapstructure:"secret_field"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	BlockPrivate bool          `mapstructure:"block_private"` // Refuse to dial private/loopback addresses
}

// SearchConfig bounds the candidate space around the known identifier.
type SearchConfig struct {
	BaseID       string `mapstructure:"base_id"`
	TimestampMax int    `mapstructure:"timestamp_max"` // Exclusive upper bound of the timestamp decrement
	CounterMax   int    `mapstructure:"counter_max"`   // Exclusive upper bound of the counter decrement
	ReportPath   string `mapstructure:"report_path"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// BaseURL returns the account collection URL; identifiers are appended to it.
func (t TargetConfig) BaseURL() string {
	path := "/" + strings.Trim(t.AccountPath, "/") + "/"
	return fmt.Sprintf("%s://%s%s", t.Scheme, t.Host, path)
}

// Origin returns the browser origin the API expects requests from: the
// target host with every "api-" occurrence removed.
func (t TargetConfig) Origin() string {
	return fmt.Sprintf("%s://%s", t.Scheme, strings.ReplaceAll(t.Host, "api-", ""))
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target.Host) == "" {
		return errors.New("target host is required")
	}
	if err := validateHost(c.Target.Host); err != nil {
		return fmt.Errorf("invalid target host %q: %w", c.Target.Host, err)
	}
	switch c.Target.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q", c.Target.Scheme)
	}
	if c.Target.SecretField == "" {
		return errors.New("secret field is required")
	}
	if c.Target.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Target.Timeout)
	}
	if c.Search.BaseID == "" {
		return errors.New("base identifier is required")
	}
	if c.Search.TimestampMax < 2 {
		return fmt.Errorf("%w: timestamp max %d leaves no decrements", ErrInvalidRange, c.Search.TimestampMax)
	}
	if c.Search.CounterMax < 2 {
		return fmt.Errorf("%w: counter max %d leaves no decrements", ErrInvalidRange, c.Search.CounterMax)
	}
	return nil
}

// validateHost accepts a DNS name or IP literal with an optional port.
func validateHost(hostport string) error {
	host := hostport
	if h, port, err := net.SplitHostPort(hostport); err == nil {
		if port == "" {
			return errors.New("empty port")
		}
		host = h
	}

	if net.ParseIP(host) != nil {
		return nil
	}
	_, err := idna.Lookup.ToASCII(host)
	return err
}

// DefaultConfig returns the configuration of the original challenge instance.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "warn",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Target: TargetConfig{
			Host:        "api-ptl-debb5a98e7aa-93e57d966e82.libcurl.me",
			Scheme:      "https",
			AccountPath: "/api/v1/accounts/",
			SecretField: "PTLAB_KEY",
			Timeout:     10 * time.Second,
			UserAgent:   "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
		},
		Search: SearchConfig{
			BaseID:       "6865f8370954c90009033a70",
			TimestampMax: 60,
			CounterMax:   100,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "oidhunt",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
	}
}
