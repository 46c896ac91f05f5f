package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-sync/meridian/pkg/log"
	"github.com/meridian-sync/meridian/pkg/metrics"
	"github.com/meridian-sync/meridian/pkg/server"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information, set via ldflags during build.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "meridian-server",
	Short:   "Authoritative server for a meridian sync deployment",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"meridian-server version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server",
	Long: `Start a meridian server, bootstrapping a single-node Raft
authority by default and serving the WebSocket and REST sync
protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

		fmt.Println("Starting meridian server...")
		fmt.Printf("  Node ID: %s\n", nodeID)
		fmt.Printf("  Raft Address: %s\n", bindAddr)
		fmt.Printf("  HTTP Address: %s\n", httpAddr)
		fmt.Printf("  Data Directory: %s\n", dataDir)
		fmt.Println()

		srv, err := server.New(server.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}

		if err := srv.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrapping raft: %w", err)
		}
		fmt.Println("✓ Raft authority bootstrapped")

		for _, repo := range []string{"tasks", "counter_log"} {
			if err := srv.RegisterRepository(repo, types.Schema{}, "id"); err != nil {
				return fmt.Errorf("registering repository %s: %w", repo, err)
			}
		}
		fmt.Println("✓ Repositories registered")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "bootstrapped")
		metrics.RegisterComponent("store", true, "ready")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if pprofEnabled {
				mux.Handle("/debug/pprof/", http.DefaultServeMux)
			}
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithComponent("server").Error().Err(err).Msg("metrics server error")
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		errCh := make(chan error, 1)
		go func() {
			httpServer := &http.Server{
				Addr:         httpAddr,
				Handler:      srv.NewMux(),
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 10 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			if err := httpServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()

		time.Sleep(200 * time.Millisecond)
		fmt.Println()
		fmt.Println("Server is running. Press Ctrl+C to stop.")
		fmt.Printf("Sync endpoint: ws://%s/ws\n", httpAddr)
		fmt.Println()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}

		if err := srv.Close(); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	startCmd.Flags().String("node-id", "meridian-1", "Unique node ID")
	startCmd.Flags().String("bind-addr", "127.0.0.1:7950", "Address for Raft communication")
	startCmd.Flags().String("http-addr", "127.0.0.1:8180", "Address for the WebSocket/REST sync API")
	startCmd.Flags().String("data-dir", "./meridian-data", "Data directory for server state")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9190", "Address for the metrics/health endpoints")
	startCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")
}

var tokenCmd = &cobra.Command{
	Use:   "issue-token CLIENT_ID",
	Short: "Issue a bearer token for a client device against a running server's token store",
	Long: `issue-token is a placeholder for out-of-band token provisioning:
in this single-process deployment tokens live in server memory, so
issuing one requires either an admin RPC (not yet exposed) or
restarting with a pre-seeded token. Kept as a documented gap rather
than a fake implementation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("issue-token requires an admin channel into a running server, which is not yet implemented")
	},
}
