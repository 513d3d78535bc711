package relay

import (
	"errors"
	"time"
)

type Config struct {
	Addr      string
	JWTSecret string
	// RingTimeout is how long a call may ring before both parties are told
	// it went unanswered.
	RingTimeout time.Duration
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		RingTimeout:  30 * time.Second,
		SendBuffer:   256,
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("relay address is required")
	}
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	if c.RingTimeout <= 0 {
		return errors.New("ring timeout must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("send buffer must be positive")
	}
	if c.PingInterval <= 0 || c.PongWait <= c.PingInterval {
		return errors.New("pong wait must be longer than the ping interval")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	return nil
}
