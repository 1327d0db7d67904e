package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/marksync/internal/config"
	"github.com/alexjbarnes/marksync/internal/logging"
	"github.com/alexjbarnes/marksync/internal/mirror"
	"github.com/alexjbarnes/marksync/internal/raindrop"
	"github.com/alexjbarnes/marksync/internal/state"
	"github.com/alexjbarnes/marksync/internal/treestore"
)

var Version = "dev"

func main() {
	reset := len(os.Args) > 1 && os.Args[1] == "reset"

	if err := run(reset); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(reset bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("marksync starting",
		slog.String("version", Version),
		slog.Duration("interval", cfg.SyncInterval),
		slog.Bool("reset", reset),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var appState *state.State
	if cfg.StatePath != "" {
		appState, err = state.LoadAt(cfg.StatePath)
	} else {
		appState, err = state.Load()
	}

	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	tree, err := treestore.Open(cfg.TreePath)
	if err != nil {
		return fmt.Errorf("opening bookmark tree: %w", err)
	}
	defer tree.Close()

	client := raindrop.NewClient(cfg.Token, nil)
	if cfg.BaseURL != "" {
		client = client.WithBaseURL(cfg.BaseURL)
	}

	syncer := mirror.New(mirror.Config{
		Remote:           client,
		Store:            tree,
		State:            appState,
		Logger:           logger,
		DefaultParentID:  treestore.RootID,
		DefaultRootTitle: cfg.RootTitle,
	})

	if reset {
		report, err := syncer.Reset(ctx)
		logReport(logger, report)

		return err
	}

	if cfg.SyncInterval == 0 {
		report, err := syncer.Sync(ctx)
		logReport(logger, report)

		return err
	}

	return runLoop(ctx, syncer, cfg.SyncInterval, logger)
}

// runLoop runs a pass every interval until the context is cancelled.
// Transient remote failures are logged and retried on the next tick;
// anything else stops the daemon.
func runLoop(ctx context.Context, syncer *mirror.Syncer, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := syncer.Sync(ctx)
		logReport(logger, report)

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return nil
		case raindrop.IsTransient(err):
			logger.Warn("pass failed with transient error, will retry",
				slog.String("error", err.Error()),
			)
		case report != nil && len(report.ItemErrors) > 0:
			logger.Warn("pass completed with item errors",
				slog.Int("count", len(report.ItemErrors)),
			)
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func logReport(logger *slog.Logger, report *mirror.Report) {
	if report == nil {
		return
	}

	for _, itemErr := range report.ItemErrors {
		logger.Warn("item failed", slog.String("error", itemErr.Error()))
	}

	logger.Info("sync finished",
		slog.Int("folders_created", report.Stats.FoldersCreated),
		slog.Int("folders_removed", report.Stats.FoldersRemoved),
		slog.Int("bookmarks_created", report.Stats.BookmarksCreated),
		slog.Int("bookmarks_updated", report.Stats.BookmarksUpdated),
		slog.Int("bookmarks_deleted", report.Stats.BookmarksDeleted),
		slog.Bool("ok", report.OK()),
		slog.Duration("duration", report.Duration),
	)
}
