package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kittclouds/lorevault/internal/config"
	"github.com/kittclouds/lorevault/internal/index"
	"github.com/kittclouds/lorevault/pkg/check"
	"github.com/kittclouds/lorevault/pkg/docstore"
	"github.com/kittclouds/lorevault/pkg/schema"
	"github.com/kittclouds/lorevault/pkg/snapshot"
)

// app bundles the wired subsystems every command works against.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	reg   *schema.Registry
	store *docstore.Store
	ix    *index.Index
	snaps *snapshot.Manager
}

// openApp wires the full stack: registry (built-ins plus user schemas),
// document store, index, and snapshot manager. The index is handed to
// the store as its delete guard, so removing a referenced entity fails
// unless forced.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagVault != "" {
		cfg.VaultDir = flagVault
		cfg.IndexPath = filepath.Join(cfg.VaultDir, "index.db")
		cfg.SchemaDir = filepath.Join(cfg.VaultDir, "schemas")
	}

	level := slog.LevelWarn
	if cfg.Verbose || flagVerbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg := schema.NewRegistry()
	for _, s := range schema.Builtin() {
		if err := reg.Register(s); err != nil {
			return nil, fmt.Errorf("register builtin schema: %w", err)
		}
	}
	if _, err := reg.LoadDir(cfg.SchemaDir); err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	store, err := docstore.Open(cfg.VaultDir, reg, log)
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(cfg.IndexPath, reg, log)
	if err != nil {
		return nil, err
	}
	store.SetDependents(ix.Referencers)

	return &app{
		cfg:   cfg,
		log:   log,
		reg:   reg,
		store: store,
		ix:    ix,
		snaps: snapshot.New(cfg.VaultDir, store.Dir(), log),
	}, nil
}

func (a *app) close() {
	if err := a.ix.Close(); err != nil {
		a.log.Warn("close index", "error", err)
	}
}

func (a *app) checker() *check.Checker {
	return check.New(a.ix, a.reg, a.log)
}

// emit prints the command result as indented JSON on stdout.
func emit(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// parseFieldArgs turns repeated --field key=value pairs into a field
// map. A value holding commas on a list-typed field becomes a list.
func parseFieldArgs(a *app, typ string, pairs []string) (map[string]any, error) {
	fields := map[string]any{}
	s, _ := a.reg.Get(typ)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed field %q (want key=value)", pair)
		}
		if s != nil {
			if def, ok := s.Field(key); ok && def.Type == schema.FieldRefList {
				var list []any
				for _, item := range strings.Split(value, ",") {
					if item = strings.TrimSpace(item); item != "" {
						list = append(list, item)
					}
				}
				fields[key] = list
				continue
			}
		}
		fields[key] = value
	}
	return fields, nil
}
