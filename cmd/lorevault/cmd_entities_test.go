package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/lorevault/pkg/docstore"
	"github.com/kittclouds/lorevault/pkg/entity"
	"github.com/kittclouds/lorevault/pkg/snapshot"
)

func useTestVault(t *testing.T) string {
	t.Helper()
	vault := t.TempDir()
	flagVault = vault
	t.Cleanup(func() {
		flagVault = ""
		flagName = ""
		flagFields = nil
		flagForce = false
	})
	return vault
}

func vaultSnapshots(t *testing.T, vault string) []*snapshot.Snapshot {
	t.Helper()
	mgr := snapshot.New(vault, filepath.Join(vault, docstore.DocumentsDirName), nil)
	snaps, err := mgr.List()
	require.NoError(t, err)
	return snaps
}

func TestDeleteUnknownIDLeavesNoSnapshot(t *testing.T) {
	vault := useTestVault(t)

	err := runDelete(&cobra.Command{}, []string{"character:nobody"})
	require.ErrorIs(t, err, entity.ErrNotFound)

	_, statErr := os.Stat(filepath.Join(vault, snapshot.SnapshotsDirName))
	assert.True(t, os.IsNotExist(statErr), "a mistyped delete must not leave a snapshot")
}

func TestDeleteSnapshotsThenTombstones(t *testing.T) {
	vault := useTestVault(t)

	flagName = "Aldric"
	flagFields = []string{"role=knight"}
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	require.NoError(t, runWrite(cmd, []string{"character"}))

	require.NoError(t, runDelete(cmd, []string{"character:aldric"}))

	snaps := vaultSnapshots(t, vault)
	require.Len(t, snaps, 1)
	assert.Equal(t, "before delete of character:aldric", snaps[0].Reason)
	assert.Equal(t, 1, snaps[0].Documents, "the snapshot holds the pre-delete document")
}
