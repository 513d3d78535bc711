package webrtc

import (
	"os"
	"runtime"
	"testing"
	"time"
)

// ciConfig stretches timeouts for tests that run real ICE on shared CI runners.
type ciConfig struct {
	IsCI              bool
	TimeoutMultiplier float64
}

func getCIConfig() ciConfig {
	cfg := ciConfig{TimeoutMultiplier: 1.0}
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		cfg.IsCI = true
		cfg.TimeoutMultiplier = 2.0
		if runtime.GOOS == "windows" {
			cfg.TimeoutMultiplier = 3.0
		}
		if runtime.NumCPU() <= 2 {
			cfg.TimeoutMultiplier *= 1.5
		}
	}
	return cfg
}

func (c ciConfig) AdjustTimeout(base time.Duration) time.Duration {
	return time.Duration(float64(base) * c.TimeoutMultiplier)
}

func skipNetworkTest(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	if os.Getenv("SKIP_NETWORK_TESTS") == "true" {
		t.Skip("skipping network test")
	}
}
