package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/hetuflow/pkg/dispatch"
	"github.com/cuemby/hetuflow/pkg/gateway"
	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/schedsvc"
	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/taskgen"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hetuflow-server",
	Short:   "Hetuflow control-plane server",
	Long:    "hetuflow-server generates due Tasks from Jobs and Schedules, elects a leader to rebalance namespaces across the cluster, and dispatches Tasks to connected Agents.",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hetuflow-server version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler service, agent gateway, and HTTP endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML server config file")
	serveCmd.Flags().String("server-id", "", "Stable id for this Server (defaults to a generated UUIDv7)")
	serveCmd.Flags().String("bind-address", ":7000", "HTTP listen address for the Agent Gateway, health, and metrics endpoints")
	serveCmd.Flags().String("data-dir", "./data/hetuflow-server", "Directory for the BoltDB-backed store")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := loadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serverID, _ := cmd.Flags().GetString("server-id")
	if serverID == "" {
		serverID = fileCfg.ServerID
	}
	if serverID == "" {
		serverID = uuid.Must(uuid.NewV7()).String()
	}

	bindAddress, _ := cmd.Flags().GetString("bind-address")
	if fileCfg.BindAddress != "" {
		bindAddress = fileCfg.BindAddress
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	if fileCfg.DataDir != "" {
		dataDir = fileCfg.DataDir
	}

	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")

	if err := bootstrapNamespaces(store, fileCfg.Namespaces); err != nil {
		return fmt.Errorf("bootstrap namespaces: %w", err)
	}

	logger := log.WithServerID(serverID)

	gen := taskgen.New(store)
	handler := dispatch.New(store, gen, serverID)

	gw := gateway.New(handler.OnEvent)
	handler.BindSender(gw)
	metrics.RegisterComponent("gateway", true, "")
	go forwardLifecycleEvents(gw, handler)

	svc := schedsvc.New(store, serverID, bindAddress, fileCfg.schedsvcConfig())
	if err := svc.Start(); err != nil {
		metrics.RegisterComponent("scheduler", false, err.Error())
		return fmt.Errorf("start scheduler service: %w", err)
	}
	metrics.RegisterComponent("scheduler", true, "")

	collector := metrics.NewCollector(store, svc.LeaderChecker())
	collector.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/agent/ws", gw.ServeWebSocket)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	httpServer := &http.Server{
		Addr:         bindAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the WebSocket upgrade needs an unbounded write deadline
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", bindAddress).Msg("hetuflow-server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	collector.Stop()
	svc.Stop()
	_ = httpServer.Close()
	return nil
}

// bootstrapNamespaces ensures every configured Namespace exists so the
// Load Balancer has something to partition on a fresh store.
func bootstrapNamespaces(store storage.Store, names []string) error {
	if len(names) == 0 {
		names = []string{"default"}
	}
	for _, name := range names {
		if _, err := store.GetNamespace(name); err == nil {
			continue
		}
		if err := store.CreateNamespace(&types.Namespace{ID: name, Name: name, Status: types.NamespaceStatusEnabled}); err != nil {
			return err
		}
	}
	return nil
}

// forwardLifecycleEvents applies Gateway connection-lifecycle events the
// onEvent hook never sees (Heartbeat, Unregistered) to storage, keeping
// the Agent row's LastHeartbeat in step with the live session.
func forwardLifecycleEvents(gw *gateway.Gateway, handler *dispatch.Handler) {
	sub := gw.Subscribe()
	defer gw.Unsubscribe(sub)

	for ev := range sub {
		switch ev.Kind {
		case gateway.AgentEventHeartbeat:
			handler.OnHeartbeat(ev.AgentID)
		case gateway.AgentEventUnregistered:
			handler.OnDisconnect(ev.AgentID)
		}
	}
}
