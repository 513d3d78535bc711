package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/signbridge/pkg/client"
	"github.com/rescp17/signbridge/pkg/config"
	"github.com/rescp17/signbridge/pkg/discovery"
	"github.com/rescp17/signbridge/pkg/relay"
	"github.com/rescp17/signbridge/pkg/signaling"
	"github.com/rescp17/signbridge/pkg/ui"
)

const discoverTimeout = 5 * time.Second

func main() {
	var envFile string
	cmd := &cobra.Command{
		Use:   "signbridge",
		Short: "Video calls with live sign language gesture and sentence relay",
	}
	cmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file (defaults to ./.env when present)")

	cmd.AddCommand(newCallCmd(&envFile), newRelayCmd(&envFile), newTokenCmd(&envFile))

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func newCallCmd(envFile *string) *cobra.Command {
	var (
		token       string
		url         string
		discover    bool
		metricsAddr string
	)
	callCmd := &cobra.Command{
		Use:   "call",
		Short: "Start the call client",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The TUI owns the terminal; logs go to a file.
			f, err := os.OpenFile("debug.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer func() {
				if err := f.Close(); err != nil {
					slog.Warn("failed to close log file", "error", err)
				}
			}()
			log.SetOutput(f)

			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if token != "" {
				cfg.Token = token
			}
			if url != "" {
				cfg.Signaling.URL = url
			}
			if discover || cfg.Discover {
				if err := discoverRelay(cmd.Context(), cfg); err != nil {
					return err
				}
			}

			app, err := client.NewApp(cfg, signaling.NewWSTransport(cfg.Signaling, clock.New()))
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, app.Metrics().Handler())
			}

			p := tea.NewProgram(ui.NewModel(app), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("alas, there's been an error: %w", err)
			}
			return nil
		},
	}
	callCmd.Flags().StringVar(&token, "token", "", "Signaling token (overrides SIGNBRIDGE_TOKEN)")
	callCmd.Flags().StringVar(&url, "url", "", "Signaling websocket URL (overrides SIGNBRIDGE_SIGNALING_URL)")
	callCmd.Flags().BoolVar(&discover, "discover", false, "Find a relay on the local network via mDNS")
	callCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return callCmd
}

func discoverRelay(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	svc, err := discovery.FindRelay(ctx, &discovery.MDNSAdapter{})
	if err != nil {
		return fmt.Errorf("failed to discover relay: %w", err)
	}
	cfg.Signaling.URL = svc.URL()
	slog.Info("Discovered relay", "name", svc.Name, "url", cfg.Signaling.URL)
	return nil
}

func serveMetrics(addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "addr", addr, "error", err)
	}
}

func newRelayCmd(envFile *string) *cobra.Command {
	var (
		addr     string
		secret   string
		name     string
		announce bool
	)
	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the development signaling relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Relay.Addr = addr
			}
			if secret != "" {
				cfg.Relay.JWTSecret = secret
			}

			server, err := relay.NewServer(cfg.Relay)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if announce {
				port, err := portOf(cfg.Relay.Addr)
				if err != nil {
					return err
				}
				go func() {
					err := (&discovery.MDNSAdapter{}).Announce(ctx, discovery.ServiceInfo{
						Name:   name,
						Type:   discovery.RelayServiceType,
						Domain: discovery.DefaultDomain,
						Port:   port,
					})
					if err != nil {
						slog.Warn("Failed to announce relay", "error", err)
					}
				}()
			}
			return server.Run(ctx)
		},
	}
	relayCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides SIGNBRIDGE_RELAY_ADDR)")
	relayCmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (overrides SIGNBRIDGE_JWT_SECRET)")
	relayCmd.Flags().StringVar(&name, "name", "signbridge-relay", "mDNS instance name")
	relayCmd.Flags().BoolVar(&announce, "announce", true, "Announce the relay on the local network")
	return relayCmd
}

func newTokenCmd(envFile *string) *cobra.Command {
	var (
		secret string
		name   string
		ttl    time.Duration
	)
	tokenCmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a relay token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.Load(*envFile)
				if err != nil {
					return err
				}
				secret = cfg.Relay.JWTSecret
			}
			token, err := relay.IssueToken(secret, args[0], name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (overrides SIGNBRIDGE_JWT_SECRET)")
	tokenCmd.Flags().StringVar(&name, "name", "", "Display name carried in the token")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return tokenCmd
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid relay address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("invalid relay port %q: %w", p, err)
	}
	return port, nil
}
