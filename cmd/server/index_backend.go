package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/tuning"
)

func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "regions.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported VS_INDEX_BACKEND: %s", backend)
	}
}

// recordConfigs stores the active configs and returns the names whose digest
// changed since the previous run. The first run reports nothing.
func recordConfigs(ctx context.Context, idx *indexdb.SQLiteIndex, tune tuning.Tuning, reg *registry.Registry) ([]string, error) {
	names := []string{"blocks", "textures", "tuning"}
	before := make(map[string]string, len(names))
	for _, n := range names {
		d, err := idx.ConfigDigest(ctx, n)
		if err != nil {
			return nil, err
		}
		before[n] = d
	}
	if err := idx.UpsertConfig(tune, reg); err != nil {
		return nil, err
	}
	var changed []string
	for _, n := range names {
		d, err := idx.ConfigDigest(ctx, n)
		if err != nil {
			return nil, err
		}
		if before[n] != "" && before[n] != d {
			changed = append(changed, n)
		}
	}
	return changed, nil
}
