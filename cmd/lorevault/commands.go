package main

import (
	"github.com/spf13/cobra"
)

var (
	flagVault   string
	flagVerbose bool

	flagName      string
	flagAliases   []string
	flagTags      []string
	flagFields    []string
	flagProse     string
	flagProseFile string

	flagForce bool

	flagType  string
	flagTag   string
	flagField string
	flagValue string

	flagLimit    int
	flagHops     int
	flagRelation string
	flagReason   string
	flagRetain   int

	rootCmd = &cobra.Command{
		Use:   "lorevault",
		Short: "A worldbuilding vault: hand-editable entity documents with a derived queryable index",
		Long: `lorevault keeps each worldbuilding entity (characters, places,
factions, items, events) as one JSON document you can edit by hand or
keep in version control. A derived SQLite index provides filtering,
full-text search and relationship traversal, and can be rebuilt from
the documents at any time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	writeCmd = &cobra.Command{
		Use:   "write <type> [id]",
		Short: "Create an entity, or update it when an id is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runWrite,
	}
	getCmd = &cobra.Command{
		Use:   "get <id>",
		Short: "Show one entity from the index",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	deleteCmd = &cobra.Command{
		Use:   "delete <id>",
		Short: "Tombstone an entity (blocked while others reference it, unless --force)",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List entities, filtered by type, tag, or field value",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Bring the index up to date with the documents",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
	rebuildCmd = &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate the index from scratch",
		Args:  cobra.NoArgs,
		RunE:  runRebuild,
	}
	searchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across names, aliases, tags and prose",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	traverseCmd = &cobra.Command{
		Use:   "traverse <id>",
		Short: "Walk the relationship graph outward from an entity",
		Args:  cobra.ExactArgs(1),
		RunE:  runTraverse,
	}
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Audit the world for dangling references, orphans, collisions and more",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch the documents and keep the index synced while you edit",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Save a point-in-time copy of all documents",
		Args:  cobra.NoArgs,
		RunE:  runSnapshot,
	}
	snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "List saved snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSnapshots,
	}
	restoreCmd = &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Replace the documents with a snapshot's copy (a pre-restore snapshot is taken first)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	}
	pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete old snapshots, keeping the newest",
		Args:  cobra.NoArgs,
		RunE:  runPrune,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagVault, "vault", "", "vault directory (default $LOREVAULT_DIR or .)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	writeCmd.Flags().StringVar(&flagName, "name", "", "entity display name")
	writeCmd.Flags().StringArrayVar(&flagAliases, "alias", nil, "alternate name (repeatable)")
	writeCmd.Flags().StringArrayVar(&flagTags, "tag", nil, "tag (repeatable)")
	writeCmd.Flags().StringArrayVar(&flagFields, "field", nil, "schema field as key=value (repeatable)")
	writeCmd.Flags().StringVar(&flagProse, "prose", "", "free-form prose")
	writeCmd.Flags().StringVar(&flagProseFile, "prose-file", "", "read prose from a file, - for stdin")

	deleteCmd.Flags().BoolVar(&flagForce, "force", false, "delete even while other entities reference it")

	listCmd.Flags().StringVar(&flagType, "type", "", "entity type")
	listCmd.Flags().StringVar(&flagTag, "tag", "", "tag")
	listCmd.Flags().StringVar(&flagField, "field", "", "field name")
	listCmd.Flags().StringVar(&flagValue, "value", "", "field value (requires --field)")

	searchCmd.Flags().StringVar(&flagType, "type", "", "restrict to one entity type")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum results")

	traverseCmd.Flags().IntVar(&flagHops, "hops", 1, "maximum hops from the start entity")
	traverseCmd.Flags().StringVar(&flagRelation, "relation", "", "follow only edges from this reference field")

	snapshotCmd.Flags().StringVar(&flagReason, "reason", "manual", "why this snapshot was taken")
	pruneCmd.Flags().IntVar(&flagRetain, "retain", 0, "snapshots to keep (default from config)")

	rootCmd.AddCommand(
		writeCmd, getCmd, deleteCmd, listCmd,
		syncCmd, rebuildCmd, searchCmd, traverseCmd, checkCmd, watchCmd,
		snapshotCmd, snapshotsCmd, restoreCmd, pruneCmd,
	)
}
