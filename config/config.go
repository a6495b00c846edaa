// Package config loads sketchlink settings from a TOML file, an optional
// .env file and SKETCHLINK_* environment variables, in that order of
// increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/vinayprograms/sketchlink/channel"
	"github.com/vinayprograms/sketchlink/generation"
	"github.com/vinayprograms/sketchlink/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKETCHLINK_"

// Config is the full runtime configuration.
type Config struct {
	Channel ChannelConfig `toml:"channel"`
	NATS    NATSConfig    `toml:"nats"`
	Backend BackendConfig `toml:"backend"`
	Log     LogConfig     `toml:"log"`
	Trace   TraceConfig   `toml:"trace"`
}

// ChannelConfig selects and names the transport.
type ChannelConfig struct {
	// Name is the broadcast subject.
	Name string `toml:"name"`

	// StorageKey is the durable key.
	StorageKey string `toml:"storage_key"`

	// Transport is auto, broadcast or durable.
	Transport string `toml:"transport"`

	// ContextID identifies this process to the durable strategy.
	// Empty means a fresh uuid per run.
	ContextID string `toml:"context_id"`
}

// NATSConfig points at the NATS server backing both transports.
// An empty URL keeps everything in process.
type NATSConfig struct {
	URL    string `toml:"url"`
	Bucket string `toml:"bucket"`
	Name   string `toml:"name"`
}

// BackendConfig configures the generation backend client.
type BackendConfig struct {
	BaseURL      string        `toml:"base_url"`
	ClientID     string        `toml:"client_id"`
	Checkpoint   string        `toml:"checkpoint"`
	PollInterval time.Duration `toml:"poll_interval"`
	MaxAttempts  int           `toml:"max_attempts"`
	InlineResult bool          `toml:"inline_result"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TraceConfig configures span export.
type TraceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Protocol string `toml:"protocol"`
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
	Debug    bool   `toml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			Name:       channel.DefaultChannelName,
			StorageKey: channel.DefaultStorageKey,
			Transport:  channel.TransportAuto,
		},
		NATS: NATSConfig{
			Bucket: "sketchlink",
			Name:   "sketchlink",
		},
		Backend: BackendConfig{
			BaseURL:      generation.DefaultBaseURL,
			Checkpoint:   generation.DefaultCheckpoint,
			PollInterval: generation.DefaultPollInterval,
			MaxAttempts:  generation.DefaultMaxAttempts,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Trace: TraceConfig{
			Protocol: "grpc",
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"sketchlink.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sketchlink", "config.toml"))
	}
	return paths
}

// Load builds the configuration. path names a TOML file; when empty the
// first existing StandardPaths entry is used, and none is fine. envFile
// names a .env file to load into the environment; a missing one is
// ignored.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// applyEnv overlays SKETCHLINK_* variables.
func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("CHANNEL_NAME", &c.Channel.Name)
	str("CHANNEL_STORAGE_KEY", &c.Channel.StorageKey)
	str("CHANNEL_TRANSPORT", &c.Channel.Transport)
	str("CHANNEL_CONTEXT_ID", &c.Channel.ContextID)

	str("NATS_URL", &c.NATS.URL)
	str("NATS_BUCKET", &c.NATS.Bucket)
	str("NATS_NAME", &c.NATS.Name)

	str("BACKEND_URL", &c.Backend.BaseURL)
	str("BACKEND_CLIENT_ID", &c.Backend.ClientID)
	str("BACKEND_CHECKPOINT", &c.Backend.Checkpoint)
	if v, ok := os.LookupEnv(EnvPrefix + "BACKEND_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sBACKEND_POLL_INTERVAL: %w", EnvPrefix, err)
		}
		c.Backend.PollInterval = d
	}
	if v, ok := os.LookupEnv(EnvPrefix + "BACKEND_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBACKEND_MAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Backend.MaxAttempts = n
	}
	if err := boolean("BACKEND_INLINE_RESULT", &c.Backend.InlineResult); err != nil {
		return err
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if err := boolean("TRACE_ENABLED", &c.Trace.Enabled); err != nil {
		return err
	}
	str("TRACE_PROTOCOL", &c.Trace.Protocol)
	str("TRACE_ENDPOINT", &c.Trace.Endpoint)
	if err := boolean("TRACE_INSECURE", &c.Trace.Insecure); err != nil {
		return err
	}
	return boolean("TRACE_DEBUG", &c.Trace.Debug)
}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Channel.Transport) {
	case channel.TransportAuto, channel.TransportBroadcast, channel.TransportDurable:
	default:
		return fmt.Errorf("channel.transport: unknown transport %q", c.Channel.Transport)
	}
	if c.Channel.Name == "" {
		return fmt.Errorf("channel.name is required")
	}
	if c.Channel.StorageKey == "" {
		return fmt.Errorf("channel.storage_key is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.PollInterval < 0 {
		return fmt.Errorf("backend.poll_interval must not be negative")
	}
	if c.Backend.MaxAttempts < 0 {
		return fmt.Errorf("backend.max_attempts must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if c.Trace.Enabled {
		switch c.Trace.Protocol {
		case "grpc", "http", "stdout":
		default:
			return fmt.Errorf("trace.protocol: unknown protocol %q", c.Trace.Protocol)
		}
	}
	return nil
}

// GenerationConfig returns the generation client settings.
func (c *Config) GenerationConfig() generation.Config {
	return generation.Config{
		BaseURL:      c.Backend.BaseURL,
		ClientID:     c.Backend.ClientID,
		Checkpoint:   c.Backend.Checkpoint,
		PollInterval: c.Backend.PollInterval,
		MaxAttempts:  c.Backend.MaxAttempts,
	}
}

// Logger returns a logger configured from the log section.
func (c *Config) Logger() *logging.Logger {
	l := logging.New()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		l.SetLevel(level)
	}
	if format, err := logging.ParseFormat(c.Log.Format); err == nil {
		l.SetFormat(format)
	}
	return l
}
