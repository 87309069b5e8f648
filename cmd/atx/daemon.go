package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/config"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/daemon"
	"github.com/EQXai/AutoTrainX-sub000/internal/ui"
)

var (
	daemonBackground bool
	logsLines        int
	logsFollow       bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the sync daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync daemon",
	Long: `Start the sync daemon, watching the configured tables and pushing
changes to the spreadsheet. With --background the daemon detaches and
logs to the configured log file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if daemonBackground {
			pid, err := daemon.SpawnBackground(cfg.PIDFile, cfg.LogFile, []string{
				"daemon", "start", "--config", configPath,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Daemon started with PID %s\n", ui.RenderPass("✓"), ui.RenderAccent(fmt.Sprint(pid)))
			fmt.Printf("   Logs: %s\n", cfg.LogFile)
			return nil
		}

		return runDaemon(cfg)
	},
}

func runDaemon(cfg config.Config) error {
	rotated := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	// In the background stderr is already redirected into the log file,
	// so mirroring log lines to it would write each one twice.
	var out io.Writer = rotated
	if !daemon.RunningInBackground() {
		out = io.MultiWriter(os.Stderr, rotated)
	}
	logger := log.New(out, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, logger)
	return d.Run(ctx)
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := daemon.StopProcess(cfg.PIDFile); err != nil {
			return err
		}
		fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		status, err := daemon.ReadStatus(cfg.PIDFile)
		if err != nil {
			return err
		}
		if status.Running {
			if err := daemon.StopProcess(cfg.PIDFile); err != nil {
				return err
			}
		}

		pid, err := daemon.SpawnBackground(cfg.PIDFile, cfg.LogFile, []string{
			"daemon", "start", "--config", configPath,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Daemon restarted with PID %s\n", ui.RenderPass("✓"), ui.RenderAccent(fmt.Sprint(pid)))
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and per-table sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		report, err := daemon.BuildReport(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		if report.Status.Running {
			fmt.Printf("%s Daemon running with PID %s\n", ui.RenderPass("●"), ui.RenderAccent(fmt.Sprint(report.Status.PID)))
		} else {
			fmt.Printf("%s Daemon not running\n", ui.RenderFail("●"))
		}

		for _, t := range report.Tables {
			synced := "never"
			if !t.LastSyncedAt.IsZero() {
				synced = t.LastSyncedAt.Format(time.RFC3339)
			}
			line := fmt.Sprintf("   %s  rows=%d  %s", ui.RenderAccent(t.Table), t.RowCount,
				ui.RenderDim("last synced "+synced))
			if t.MappedRows != t.RowCount {
				line += "  " + ui.RenderWarn(fmt.Sprintf("mapped=%d, next sync full", t.MappedRows))
			}
			if t.ConsecutiveFailures > 0 {
				line += "  " + ui.RenderWarn(fmt.Sprintf("failures=%d", t.ConsecutiveFailures))
			}
			fmt.Println(line)
		}

		if !report.Status.Running {
			os.Exit(1)
		}
		return nil
	},
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show daemon logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return daemon.TailLogs(ctx, os.Stdout, cfg.LogFile, logsLines, logsFollow)
	},
}

func init() {
	daemonStartCmd.Flags().BoolVar(&daemonBackground, "background", false, "detach and run in the background")
	daemonLogsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of log lines to show")
	daemonLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new log lines")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	rootCmd.AddCommand(daemonCmd)
}
