// Command sensorhubd runs a single distributed sensor hub node: it joins
// or seeds a peer-to-peer cluster, produces synthetic sensor readings, and
// replicates them to every other node via an LWW CRDT register-map.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sensorhub/internal/config"
	"sensorhub/internal/logging"
	"sensorhub/internal/node"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool
	var nodeIDFlag string
	var portFlag int
	var bootstrapFlag string

	cmd := &cobra.Command{
		Use:     "sensorhubd",
		Short:   "Distributed sensor hub node daemon",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := os.Getenv("LOG_LEVEL")
			if debug {
				level = logging.LevelDebug
			}
			return logging.ConfigureWith(logging.Options{
				Level: level,
				File:  os.Getenv("LOG_FILE"),
				Clear: os.Getenv("CLEAR_LOG") == "true",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeIDFlag != "" {
				os.Setenv("NODE_ID", nodeIDFlag)
			}
			if portFlag != 0 {
				os.Setenv("PORT", fmt.Sprint(portFlag))
			}
			if bootstrapFlag != "" {
				os.Setenv("BOOTSTRAP_PEERS", bootstrapFlag)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n := node.New(cfg, slog.Default(), func() int64 { return time.Now().UnixMilli() })
			slog.Info("starting sensor hub node", "node_id", cfg.NodeID, "addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
			return n.Run(ctx)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&nodeIDFlag, "node-id", "", "override NODE_ID")
	cmd.Flags().IntVar(&portFlag, "port", 0, "override PORT")
	cmd.Flags().StringVar(&bootstrapFlag, "bootstrap", "", "override BOOTSTRAP_PEERS (comma-separated host:port)")
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sensorhubd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
