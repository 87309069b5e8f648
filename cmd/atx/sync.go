package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/config"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/queue"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/remote"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/state"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/worker"
	"github.com/EQXai/AutoTrainX-sub000/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync [table...]",
	Short: "Run a one-shot full sync",
	Long: `Run a full sync of the named tables (all configured tables when none
are named) and exit. The daemon must not be running, since it owns the
state database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runOneShot(cfg, args)
	},
}

func runOneShot(cfg config.Config, tables []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configured := make(map[string]config.TableConfig, len(cfg.Tables))
	for _, t := range cfg.Tables {
		configured[t.Name] = t
	}
	if len(tables) == 0 {
		for _, t := range cfg.Tables {
			tables = append(tables, t.Name)
		}
	}
	for _, name := range tables {
		if _, ok := configured[name]; !ok {
			return fmt.Errorf("table %q is not configured", name)
		}
	}

	src, err := source.Open(cfg.SourceKind(), cfg.Source.Addr)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	sender, err := remote.NewSheetsSender(ctx, cfg.Sheet.CredentialsFile, cfg.Sheet.SpreadsheetID, cfg.Sheet.HeaderRows)
	if err != nil {
		return fmt.Errorf("connect to spreadsheet: %w", err)
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)
	writer := remote.NewWriter(sender, remote.WriterConfig{
		MaxBatchSize: cfg.Sync.MaxBatchSize,
		MaxAttempts:  cfg.Sync.MaxAttempts,
		BaseDelay:    cfg.Sync.BaseDelay,
		MaxDelay:     cfg.Sync.MaxDelay,
		Budget:       remote.NewBudget(cfg.Sync.RequestLimit, cfg.Sync.RequestWindow),
		Logger:       logger,
	})

	var runtimes []worker.TableRuntime
	for _, spec := range cfg.SourceTables() {
		runtimes = append(runtimes, worker.TableRuntime{
			Spec:      spec,
			Worksheet: configured[spec.Name].Worksheet,
		})
	}
	pool := worker.NewPool(1, nil, store, src, writer, runtimes, logger)

	for _, name := range tables {
		start := time.Now()
		out, err := pool.RunJob(ctx, queue.Job{
			Table:      name,
			Kind:       queue.Full,
			Reason:     "manual sync",
			EnqueuedAt: start,
		})
		if err != nil {
			return fmt.Errorf("sync %s: %w", name, err)
		}
		fmt.Printf("%s %s synced: %d upserts, %d deletes in %v\n",
			ui.RenderPass("✓"), ui.RenderAccent(name), out.Upserts, out.Deletes,
			out.Duration.Round(time.Millisecond))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
