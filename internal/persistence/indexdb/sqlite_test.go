package indexdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelstream.ai/internal/persistence/region"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/voxel"
)

func TestRecordSaveAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r0 := voxel.RegionCoord{}
	rneg := voxel.RegionCoord{X: -1}
	idx.RecordSave(region.SaveRecord{Region: r0, Chunk: voxel.ChunkCoord{X: 1}, Path: "a.bin", PaletteLen: 2, Runs: 3, SavedAt: at})
	idx.RecordSave(region.SaveRecord{Region: r0, Chunk: voxel.ChunkCoord{X: 1}, Path: "a.bin", PaletteLen: 4, Runs: 9, SavedAt: at.Add(time.Second)})
	idx.RecordSave(region.SaveRecord{Region: r0, Chunk: voxel.ChunkCoord{X: 2}, Path: "a.bin", PaletteLen: 1, Runs: 1, SavedAt: at})
	idx.RecordSave(region.SaveRecord{Region: rneg, Chunk: voxel.ChunkCoord{X: -3}, Path: "b.bin", PaletteLen: 1, Runs: 1, SavedAt: at})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.WrittenTotal != 4 || st.DroppedTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	regions, err := idx.Regions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 || regions[0].Region != rneg || regions[1].Chunks != 2 {
		t.Fatalf("regions=%+v", regions)
	}

	chunks, err := idx.Chunks(ctx, r0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks=%+v", chunks)
	}
	if c := chunks[0]; c.Chunk.X != 1 || c.Saves != 2 || c.PaletteLen != 4 || c.Runs != 9 || !c.SavedAt.Equal(at.Add(time.Second)) {
		t.Fatalf("latest save not kept: %+v", c)
	}
}

func TestRecordSaveDropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan region.SaveRecord, 1)}
	s.RecordSave(region.SaveRecord{})
	s.RecordSave(region.SaveRecord{})
	st := s.Stats()
	if st.EnqueuedTotal != 2 || st.DroppedTotal != 1 || st.QueueDepth != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestIndexesRegionManagerSaves(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	m := region.NewManager(filepath.Join(dir, "regions"), nil)
	m.SetRecorder(idx)

	reg, err := registry.Default()
	if err != nil {
		t.Fatal(err)
	}
	d := chunk.New()
	d.Set(voxel.Pos{X: 3}, voxel.Block{ID: reg.MustBlock("glass")})
	if err := m.SaveChunks(map[voxel.ChunkCoord]*chunk.Data{{X: 17}: d, {}: chunk.New()}); err != nil {
		t.Fatal(err)
	}
	if err := idx.UpsertConfig(tuning.Defaults(), reg); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err = OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	regions, err := idx.Regions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 {
		t.Fatalf("regions=%+v", regions)
	}
	if regions[1].Region != (voxel.RegionCoord{X: 1}) || regions[1].Path != m.Path(voxel.RegionCoord{X: 1}) {
		t.Fatalf("region row=%+v", regions[1])
	}
	digest, err := idx.ConfigDigest(context.Background(), "tuning")
	if err != nil || len(digest) != 64 {
		t.Fatalf("tuning digest=%q err=%v", digest, err)
	}
	configs, err := idx.Configs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 3 || configs[0].Name != "blocks" || configs[2].Digest != digest {
		t.Fatalf("configs=%+v", configs)
	}
	if !strings.Contains(configs[0].JSON, `"name":"glass"`) {
		t.Fatalf("blocks json=%s", configs[0].JSON)
	}
}
