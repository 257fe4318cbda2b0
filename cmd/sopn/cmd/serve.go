package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/civiclab/sopn/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server that provides REST API endpoints for statement
parsing.

The server provides the following endpoints:
  POST /api/documents       - Upload and parse a statement
  GET  /api/documents       - List parsed documents
  GET  /api/documents/{id}  - Document result with pages and candidates
  GET  /api/ballots         - List known ballots
  GET  /api/search          - Full-text search over parsed statements
  GET  /ws/parse            - Websocket streaming per-stage parse progress
  GET  /health              - Health check endpoint
  GET  /metrics             - Prometheus metrics

Examples:
  sopn serve
  sopn serve --port 8080
  sopn serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	SilenceUsage: true,
	RunE:         runServeCommand,
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	// Get configuration from centralized system (includes CLI flags, config file, env vars, and defaults)
	cfg := GetConfig()

	// Extract server configuration with CLI flag overrides
	serverConfig := server.FromConfig(cfg)

	if cmd.Flags().Changed("host") {
		serverConfig.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		serverConfig.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("cors-origin") {
		serverConfig.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	if cmd.Flags().Changed("max-upload-size") {
		serverConfig.MaxUploadMB, _ = cmd.Flags().GetInt64("max-upload-size")
	}
	if cmd.Flags().Changed("timeout") {
		serverConfig.TimeoutSec, _ = cmd.Flags().GetInt("timeout")
	}
	if cmd.Flags().Changed("shutdown-timeout") {
		serverConfig.ShutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}
	if cmd.Flags().Changed("rate-limit-enabled") {
		serverConfig.RateLimitEnabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
	}
	if cmd.Flags().Changed("requests-per-minute") {
		serverConfig.RequestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
	}
	if cmd.Flags().Changed("requests-per-hour") {
		serverConfig.RequestsPerHour, _ = cmd.Flags().GetInt("requests-per-hour")
	}
	if cmd.Flags().Changed("max-requests-per-day") {
		serverConfig.MaxRequestsPerDay, _ = cmd.Flags().GetInt("max-requests-per-day")
	}
	if cmd.Flags().Changed("max-data-per-day") {
		serverConfig.MaxDataPerDay, _ = cmd.Flags().GetInt64("max-data-per-day")
	}

	// Validate port number
	if serverConfig.Port < 1 || serverConfig.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", serverConfig.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pl, err := buildPipeline(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	srv, err := server.NewServer(serverConfig, pl, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	slog.Info("Starting statement server", "addr", srv.Addr())
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int64("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 120, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")

	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 1024*1024*1024, "maximum data processed per day per client (bytes)")
}
