package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kittclouds/lorevault/internal/index"
	"github.com/kittclouds/lorevault/pkg/docstore"
)

func runWrite(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	typ := args[0]
	id := ""
	if len(args) == 2 {
		id = args[1]
	}

	fields, err := parseFieldArgs(a, typ, flagFields)
	if err != nil {
		return err
	}
	prose := flagProse
	if flagProseFile != "" {
		raw, err := readProse(flagProseFile)
		if err != nil {
			return err
		}
		prose = raw
	}

	draft := docstore.Draft{
		Name:    flagName,
		Aliases: flagAliases,
		Tags:    flagTags,
		Fields:  fields,
		Prose:   prose,
	}
	if id != "" {
		// Partial update: start from the current document so unset flags
		// keep their values.
		current, err := a.store.Read(id)
		if err != nil {
			return err
		}
		if draft.Name == "" {
			draft.Name = current.Name
		}
		if draft.Aliases == nil {
			draft.Aliases = current.Aliases
		}
		if draft.Tags == nil {
			draft.Tags = current.Tags
		}
		if draft.Prose == "" && flagProseFile == "" {
			draft.Prose = current.Prose
		}
		merged := current.Fields
		for k, v := range draft.Fields {
			merged[k] = v
		}
		draft.Fields = merged
	}

	e, err := a.store.Write(typ, id, draft)
	if err != nil {
		return err
	}
	if _, err := a.ix.Sync(cmd.Context(), a.store); err != nil {
		return err
	}
	return emit(e)
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	row, err := a.ix.Get(args[0])
	if err != nil {
		return err
	}
	refs, err := a.ix.Referencers(args[0])
	if err != nil {
		return err
	}
	return emit(struct {
		*index.Row
		Referencers any `json:"referencers,omitempty"`
	}{row, refs})
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Confirm the entity exists before taking the safety snapshot, so a
	// mistyped id does not leave a stray snapshot behind.
	if _, err := a.store.Read(args[0]); err != nil {
		return err
	}
	if _, err := a.snaps.Create("before delete of " + args[0]); err != nil {
		return err
	}
	if err := a.store.Delete(args[0], flagForce); err != nil {
		return err
	}
	report, err := a.ix.Sync(cmd.Context(), a.store)
	if err != nil {
		return err
	}
	return emit(map[string]any{"deleted": args[0], "sync": report})
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if flagValue != "" && flagField == "" {
		return fmt.Errorf("--value requires --field")
	}
	rows, err := a.ix.Filter(index.FilterOpts{
		Type:  flagType,
		Tag:   flagTag,
		Field: flagField,
		Value: flagValue,
	})
	if err != nil {
		return err
	}
	return emit(rows)
}

func readProse(path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
