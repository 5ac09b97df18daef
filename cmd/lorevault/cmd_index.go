package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kittclouds/lorevault/internal/watch"
)

func runSync(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.ix.Sync(cmd.Context(), a.store)
	if err != nil {
		return err
	}
	return emit(report)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.ix.Rebuild(cmd.Context(), a.store)
	if err != nil {
		return err
	}
	return emit(report)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.ix.Sync(cmd.Context(), a.store); err != nil {
		return err
	}
	hits, err := a.ix.Search(args[0], flagType, flagLimit)
	if err != nil {
		return err
	}
	return emit(hits)
}

func runTraverse(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.ix.Sync(cmd.Context(), a.store); err != nil {
		return err
	}
	neighbors, err := a.ix.Traverse(args[0], flagHops, flagRelation)
	if err != nil {
		return err
	}
	return emit(neighbors)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.ix.Sync(cmd.Context(), a.store); err != nil {
		return err
	}
	report, err := a.checker().Run()
	if err != nil {
		return err
	}
	return emit(report)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catch up once before watching.
	if _, err := a.ix.Sync(ctx, a.store); err != nil {
		return err
	}

	w, err := watch.New(a.store.Dir(), a.cfg.WatchDebounce, a.log, func() {
		report, err := a.ix.Sync(context.Background(), a.store)
		if err != nil {
			a.log.Error("sync failed", "error", err)
			return
		}
		if report.Changed() || len(report.Skips) > 0 {
			emit(report)
		}
	})
	if err != nil {
		return err
	}

	a.log.Info("watching", "dir", a.store.Dir(), "debounce", a.cfg.WatchDebounce)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
