package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/rescp17/signbridge/pkg/gesture"
	"github.com/rescp17/signbridge/pkg/relay"
	"github.com/rescp17/signbridge/pkg/signaling"
	"github.com/rescp17/signbridge/pkg/webrtc"
)

const (
	EnvPrefix         = "SIGNBRIDGE_"
	DefaultSignaling  = "ws://localhost:8080/ws"
	DefaultEnvFile    = ".env"
	DefaultSTUNServer = webrtc.DefaultSTUNServer
)

// Config aggregates the settings of the client and the relay.
type Config struct {
	// Token authenticates the client against the signaling relay.
	Token     string
	Signaling signaling.WSConfig
	// STUNServers are used for every peer connection.
	STUNServers []string
	Timing      webrtc.Timing
	Gesture     gesture.RelayConfig
	Generator   gesture.GeneratorConfig
	Relay       relay.Config
	// Discover browses mDNS for a relay instead of using Signaling.URL.
	Discover bool
}

func DefaultConfig() *Config {
	return &Config{
		Signaling:   signaling.DefaultWSConfig(DefaultSignaling),
		STUNServers: []string{DefaultSTUNServer},
		Timing:      webrtc.DefaultTiming(),
		Gesture:     gesture.DefaultRelayConfig(),
		Generator:   gesture.DefaultGeneratorConfig(),
		Relay:       relay.DefaultConfig(),
	}
}

// Validate checks the client settings. The relay settings are checked when
// a relay server is built.
func (c *Config) Validate() error {
	if err := c.Signaling.Validate(); err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	if err := c.Gesture.Validate(); err != nil {
		return fmt.Errorf("gesture: %w", err)
	}
	for _, s := range c.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") {
			return fmt.Errorf("invalid ice server %q", s)
		}
	}
	return nil
}

// GeneratorEnabled reports whether sentences should be generated remotely.
func (c *Config) GeneratorEnabled() bool {
	return c.Generator.APIKey != ""
}

// PeerConfig is the peer connection configuration derived from STUNServers.
func (c *Config) PeerConfig() webrtc.Config {
	if len(c.STUNServers) == 0 {
		return webrtc.Config{}
	}
	return webrtc.Config{ICEServers: []pionwebrtc.ICEServer{{URLs: c.STUNServers}}}
}

// Load reads envFile into the environment, then applies SIGNBRIDGE_*
// variables over the defaults. An empty envFile tries .env and tolerates its
// absence.
func Load(envFile string) (*Config, error) {
	switch {
	case envFile == "":
		if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", DefaultEnvFile, err)
		}
	default:
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	stringVar("TOKEN", &c.Token)
	stringVar("SIGNALING_URL", &c.Signaling.URL)
	stringVar("GENERATOR_URL", &c.Generator.URL)
	stringVar("GENERATOR_API_KEY", &c.Generator.APIKey)
	stringVar("GENERATOR_MODEL", &c.Generator.Model)
	stringVar("RELAY_ADDR", &c.Relay.Addr)
	stringVar("JWT_SECRET", &c.Relay.JWTSecret)
	listVar("STUN_SERVERS", &c.STUNServers)
	listVar("ALLOWED_ORIGINS", &c.Relay.AllowedOrigins)

	return errors.Join(
		boolVar("DISCOVER", &c.Discover),
		intVar("RECONNECT_ATTEMPTS", &c.Signaling.ReconnectAttempts),
		durationVar("RECONNECT_DELAY", &c.Signaling.ReconnectDelay),
		durationVar("DISCONNECT_GRACE", &c.Timing.DisconnectGrace),
		durationVar("ICE_DISCONNECT_GRACE", &c.Timing.ICEDisconnectGrace),
		durationVar("AUTO_FINALIZE", &c.Gesture.Stream.AutoFinalize),
		durationVar("NO_HANDS_IDLE", &c.Gesture.Stream.NoHandsIdle),
		durationVar("GENERATION_TIMEOUT", &c.Gesture.GenerationTimeout),
		durationVar("RING_TIMEOUT", &c.Relay.RingTimeout),
	)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func stringVar(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func listVar(name string, dst *[]string) {
	v, ok := lookup(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func intVar(name string, dst *int) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func boolVar(name string, dst *bool) error {
	v, ok := lookup(name)
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

func durationVar(name string, dst *time.Duration) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}
