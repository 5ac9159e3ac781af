// Command ratelimitd wires a config.Config into a backend stack, a
// ratelimiter.RateLimiter facade, and an rpc.Server, then serves admission
// checks, usage queries, resets, and the status stream until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tokengate/ratelimit/config"
	"github.com/tokengate/ratelimit/interceptor"
	"github.com/tokengate/ratelimit/rpc"
)

var (
	configFile string
	listenAddr string
	failOpen   bool
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ratelimitd",
		Short: "ratelimitd serves the rate-limiter RPC surface over gRPC",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "override the config's listen_addr")
	rootCmd.PersistentFlags().BoolVar(&failOpen, "fail-open", false, "override the config's fail_open")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd(), resetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("--config is required")
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if cmd.Flags().Changed("fail-open") {
		cfg.FailOpen = failOpen
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the rate-limiter daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.ListenAddr == "" {
				cfg.ListenAddr = ":9090"
			}

			ctx := context.Background()
			rl, err := config.BuildRateLimiter(ctx, cfg, func(err error) {
				logger.Warn("rate limiter fail-open: backend error swallowed", "error", err)
			})
			if err != nil {
				return fmt.Errorf("build rate limiter: %w", err)
			}
			defer rl.Close()

			svc := rpc.NewService(rl, hostname())
			gate := interceptor.New(rl)
			server := rpc.NewServer(svc, gate)

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving", "addr", cfg.ListenAddr, "backend", string(cfg.Backend))
				errCh <- server.Serve(cfg.ListenAddr)
			}()

			select {
			case <-sigCtx.Done():
				logger.Info("shutting down")
				server.Stop()
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
}

func resetCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "reset a single client's bucket via the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			rl, err := config.BuildRateLimiter(ctx, cfg, nil)
			if err != nil {
				return fmt.Errorf("build rate limiter: %w", err)
			}
			defer rl.Close()

			if err := rl.Reset(ctx, clientID); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Printf("reset bucket for %q\n", clientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client key to reset")
	cmd.MarkFlagRequired("client-id")
	return cmd
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
