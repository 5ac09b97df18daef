package main

import (
	"github.com/spf13/cobra"

	"github.com/kittclouds/lorevault/pkg/docstore"
)

func runSnapshot(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	snap, err := a.snaps.Create(flagReason)
	if err != nil {
		return err
	}
	return emit(snap)
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	snaps, err := a.snaps.List()
	if err != nil {
		return err
	}
	return emit(snaps)
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	pre, err := a.snaps.Restore(args[0])
	if err != nil {
		return err
	}

	// The documents changed wholesale underneath the store and the index:
	// reopen the store so its revision watermark reflects the restored
	// tree, then rebuild the index from it.
	a.store, err = docstore.Open(a.cfg.VaultDir, a.reg, a.log)
	if err != nil {
		return err
	}
	a.store.SetDependents(a.ix.Referencers)
	report, err := a.ix.Rebuild(cmd.Context(), a.store)
	if err != nil {
		return err
	}
	return emit(map[string]any{
		"restored":   args[0],
		"preRestore": pre,
		"rebuild":    report,
	})
}

func runPrune(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	retain := flagRetain
	if retain <= 0 {
		retain = a.cfg.SnapshotRetain
	}
	removed, err := a.snaps.Prune(retain)
	if err != nil {
		return err
	}
	return emit(map[string]any{"removed": removed, "retained": retain})
}
