package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/hetuflow/pkg/agent/process"
	"github.com/cuemby/hetuflow/pkg/agent/runner"
	"github.com/cuemby/hetuflow/pkg/agent/taskscheduler"
	"github.com/cuemby/hetuflow/pkg/log"
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
	Use:     "hetuflow-agent",
	Short:   "Hetuflow worker agent",
	Long:    "hetuflow-agent maintains one WebSocket session with a hetuflow-server, polls or accepts pushed Tasks, and supervises the child processes that run them.",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hetuflow-agent version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().String("config", "", "Path to a YAML agent config file")
	rootCmd.Flags().String("server", "", "hetuflow-server WebSocket URL (e.g. ws://localhost:7000/agent/ws)")
	rootCmd.Flags().String("agent-id", "", "Stable id for this Agent (defaults to a generated UUIDv7)")
	rootCmd.Flags().String("name", "", "Human-readable name advertised to the server")
	rootCmd.Flags().String("token", "", "Bearer token presented on connect")
	rootCmd.Flags().Int("max-concurrent", 4, "Maximum number of concurrently running Tasks")
	rootCmd.Flags().StringSlice("labels", nil, "Labels advertised in this Agent's capabilities")
	rootCmd.Flags().StringSlice("tags", nil, "Tags this Agent polls for (empty means any)")
	rootCmd.Flags().String("run-base-dir", "", "Base directory for per-task working directories")
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func runAgent(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := loadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	applyFlagOverrides(cmd, fileCfg)

	if fileCfg.AgentID == "" {
		fileCfg.AgentID = uuid.Must(uuid.NewV7()).String()
	}
	if fileCfg.ServerURL == "" {
		return fmt.Errorf("--server (or config server_url) is required")
	}

	logger := log.WithAgentID(fileCfg.AgentID)

	agentRunner := runner.New(fileCfg.runnerConfig(), types.AgentCapabilities{
		MaxConcurrentTasks: fileCfg.MaxConcurrent,
		Labels:             fileCfg.Labels,
	})

	supervisor := process.New(fileCfg.AgentID, fileCfg.processConfig(), agentRunner)

	scheduler := taskscheduler.New(fileCfg.AgentID, fileCfg.MaxConcurrent, fileCfg.taskSchedulerConfig(), agentRunner, agentRunner, supervisor)

	runErrCh := make(chan error, 1)
	go func() {
		if err := agentRunner.Run(); err != nil {
			runErrCh <- err
		}
	}()
	scheduler.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info().Str("server", fileCfg.ServerURL).Msg("hetuflow-agent running")

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-runErrCh:
		logger.Error().Err(err).Msg("connection runner exited")
	}

	scheduler.Stop()
	supervisor.KillAll()
	agentRunner.Stop()
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *AgentConfig) {
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.ServerURL = v
	}
	if v, _ := cmd.Flags().GetString("agent-id"); v != "" {
		cfg.AgentID = v
	}
	if v, _ := cmd.Flags().GetString("name"); v != "" {
		cfg.Name = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.Token = v
	}
	if v, _ := cmd.Flags().GetInt("max-concurrent"); cfg.MaxConcurrent == 0 || cmd.Flags().Changed("max-concurrent") {
		cfg.MaxConcurrent = v
	}
	if v, _ := cmd.Flags().GetStringSlice("labels"); len(v) > 0 {
		cfg.Labels = v
	}
	if v, _ := cmd.Flags().GetStringSlice("tags"); len(v) > 0 {
		cfg.Tags = v
	}
	if v, _ := cmd.Flags().GetString("run-base-dir"); v != "" {
		cfg.RunBaseDir = v
	}
}
