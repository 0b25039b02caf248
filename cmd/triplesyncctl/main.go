// Command triplesyncctl is the operator CLI for the task orchestration
// core: one-shot sync/statistics/cycle-detection commands against the same
// stores triplesyncd manages, grounded on the teacher's cmd/cobra_cli.go
// root-command-plus-subcommand construction (spf13/cobra, persistent
// flags, one constructor function per subcommand).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/triplesync/core/internal/bootstrap"
	"github.com/triplesync/core/internal/config"
	"github.com/triplesync/core/internal/graph"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/model"
	"github.com/triplesync/core/internal/svcmgr/services"
	"github.com/triplesync/core/internal/syncsvc"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "triplesyncctl",
		Short: "Operate the task orchestration core's sync and cycle detection",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to tsyncd.yaml")

	loadConfig := func() (config.Config, error) {
		var opts []config.Option
		if configPath != "" {
			opts = append(opts, config.WithFile(configPath))
		}
		return config.Load(opts...)
	}

	root.AddCommand(newSyncCommand(loadConfig))
	root.AddCommand(newStatisticsCommand(loadConfig))
	root.AddCommand(newCyclesCommand(loadConfig))
	root.AddCommand(newResyncCommand(loadConfig))
	root.AddCommand(newConfigCommand(loadConfig))
	return root
}

// newConfigCommand prints the fully-resolved effective configuration
// (defaults + file + env), grounded on the teacher's own config subcommand
// that dumps the CLI's effective settings for operator debugging.
func newConfigCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the fully-resolved effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			successColor.Fprintln(os.Stdout, "effective configuration:")
			fmt.Print(string(out))
			return nil
		},
	}
}

func openCoordinator(cfg config.Config) (*syncsvc.Coordinator, error) {
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).With("triplesyncctl")
	return bootstrap.OpenCoordinator(cfg, logger)
}

func newSyncCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run sync_immediate for a single task against the vector and graph stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" {
				return fmt.Errorf("--task-id is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			coord, err := openCoordinator(cfg)
			if err != nil {
				return err
			}
			result := coord.SyncImmediate(context.Background(), taskID, syncsvc.OpUpdate,
				[]syncsvc.Target{syncsvc.TargetVector, syncsvc.TargetGraph})
			if result.Err != nil {
				return result.Err
			}
			fmt.Printf("synced task %s: overall=%s vector_synced=%v graph_synced=%v\n",
				result.TaskID, result.Overall, result.VectorSynced, result.GraphSynced)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task id to sync")
	return cmd
}

func newResyncCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "force-full-resync",
		Short: "Reset every task's sync state to pending and re-enqueue a full resync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			coord, err := openCoordinator(cfg)
			if err != nil {
				return err
			}
			if err := coord.ForceFullResync(context.Background()); err != nil {
				return err
			}
			fmt.Println("force_full_resync scheduled")
			return nil
		},
	}
}

func newStatisticsCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "statistics",
		Short: "Print a point-in-time sync statistics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			coord, err := openCoordinator(cfg)
			if err != nil {
				return err
			}
			stats, err := coord.Statistics(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("queue_depth=%d in_flight=%d vector_synced=%d graph_synced=%d\n",
				stats.QueueDepth, stats.InFlightCount, stats.VectorSynced, stats.GraphSynced)
			for status, count := range stats.ByOverallStatus {
				fmt.Printf("  %s: %d\n", status, count)
			}
			return nil
		},
	}
}

func newCyclesCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var taskID string
	var full bool
	cmd := &cobra.Command{
		Use:   "check-cycles",
		Short: "Run cycle detection for a task, or --full for every task with outgoing dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).With("triplesyncctl")
			tasks, _, graphStore, err := bootstrap.OpenStores(cfg, logger)
			if err != nil {
				return err
			}
			analyzer := graph.NewAnalyzer(graphStore)
			svc := services.NewCycleDetectionService(analyzer, tasks, logger)

			op := &model.ServiceOperation{OpKind: services.OpCheckCycles, TargetID: taskID}
			if full {
				op = &model.ServiceOperation{OpKind: services.OpFullCycleCheck}
			} else if taskID == "" {
				return fmt.Errorf("--task-id is required unless --full is set")
			}
			if err := svc.ProcessOperation(context.Background(), op); err != nil {
				return err
			}
			cycles := svc.RecordedCycles()
			if len(cycles) == 0 {
				fmt.Println("no cycles found")
				return nil
			}
			for _, c := range cycles {
				fmt.Printf("cycle: %v\n", c.NodeIDs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task id to check")
	cmd.Flags().BoolVar(&full, "full", false, "Check every task with at least one outgoing dependency")
	return cmd
}
