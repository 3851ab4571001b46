package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/region"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/terrain/gen"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/voxel"
	"voxelstream.ai/internal/sim/world"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning used to regenerate chunks that were never saved")
		since      = flag.String("since", "", "ignore edits before this RFC3339 time (optional)")
		apply      = flag.Bool("apply", false, "write journaled edits missing from region files back to disk")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	reg, err := registry.Default()
	if err != nil {
		fmt.Fprintln(os.Stderr, "registry:", err)
		os.Exit(1)
	}

	var from time.Time
	if *since != "" {
		from, err = time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintln(os.Stderr, "-since:", err)
			os.Exit(2)
		}
	}

	files, err := persistlog.JournalFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", filepath.Join(*dataDir, "edits"))
		os.Exit(1)
	}
	edits, total, err := collect(files, from)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}

	regionDir := tune.RegionDir
	if !filepath.IsAbs(regionDir) {
		regionDir = filepath.Join(*dataDir, regionDir)
	}
	store := region.NewManager(regionDir, nil)
	rep, err := verify(store, gen.New(tune.Seed, tune.Terrain, reg), edits, *apply)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}

	fmt.Printf("journal: files=%d entries=%d positions=%d\n", len(files), total, len(edits))
	for _, m := range rep.Mismatches {
		fmt.Printf("mismatch pos=%v chunk=%v want=%s got=%s\n", m.Pos, m.Chunk, blockString(m.Want), blockString(m.Got))
	}
	fmt.Printf("matched=%d mismatched=%d regenerated_chunks=%d repaired_chunks=%d\n",
		rep.Matched, len(rep.Mismatches), rep.Regenerated, rep.Repaired)
	if len(rep.Mismatches) > 0 && !*apply {
		os.Exit(1)
	}
}

type mismatch struct {
	Pos   voxel.Pos
	Chunk voxel.ChunkCoord
	Want  *voxel.Block
	Got   *voxel.Block
}

type report struct {
	Matched     int
	Mismatches  []mismatch
	Regenerated int
	Repaired    int
}

// collect keeps the last journaled edit per position. Sequence numbers
// restart with every server run, so file and line order decide.
func collect(files []string, since time.Time) (map[voxel.Pos]persistlog.EditEntry, int, error) {
	out := make(map[voxel.Pos]persistlog.EditEntry)
	total := 0
	for _, path := range files {
		entries, err := persistlog.ReadEdits(path)
		if err != nil {
			return nil, total, err
		}
		for _, e := range entries {
			if !since.IsZero() {
				if at, err := time.Parse(time.RFC3339Nano, e.Time); err == nil && at.Before(since) {
					continue
				}
			}
			total++
			out[voxel.Pos{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}] = e
		}
	}
	return out, total, nil
}

// verify compares every collected edit with the stored chunk. Chunks that
// were never saved are regenerated, as the server would. With apply set,
// chunks holding a mismatch are rewritten with the journaled blocks.
func verify(store world.Store, g world.Generator, edits map[voxel.Pos]persistlog.EditEntry, apply bool) (report, error) {
	var rep report
	byChunk := make(map[voxel.ChunkCoord][]voxel.Pos)
	for p := range edits {
		c, _ := voxel.Split(p)
		byChunk[c] = append(byChunk[c], p)
	}
	coords := make([]voxel.ChunkCoord, 0, len(byChunk))
	for c := range byChunk {
		coords = append(coords, c)
	}
	sortChunks(coords)

	repaired := make(map[voxel.ChunkCoord]*chunk.Data)
	for _, c := range coords {
		d, err := store.LoadChunk(c)
		if err != nil {
			return rep, err
		}
		if d == nil {
			d = g.Generate(c)
			rep.Regenerated++
		}
		positions := byChunk[c]
		sortPositions(positions)
		dirty := false
		for _, p := range positions {
			e := edits[p]
			_, local := voxel.Split(p)
			got, solid := d.Get(local)
			var want *voxel.Block
			if e.Block != nil {
				want = &voxel.Block{ID: voxel.BlockID(e.Block.ID), Data: voxel.PackedData(e.Block.Data)}
			}
			if sameBlock(want, got, solid) {
				rep.Matched++
				continue
			}
			m := mismatch{Pos: p, Chunk: c, Want: want}
			if solid {
				m.Got = &got
			}
			rep.Mismatches = append(rep.Mismatches, m)
			if !apply {
				continue
			}
			if want == nil {
				d.Remove(local)
			} else {
				d.Set(local, *want)
			}
			dirty = true
		}
		if dirty {
			repaired[c] = d
		}
	}
	if len(repaired) > 0 {
		if err := store.SaveChunks(repaired); err != nil {
			return rep, err
		}
		rep.Repaired = len(repaired)
	}
	return rep, nil
}

// sameBlock treats a nil want as air.
func sameBlock(want *voxel.Block, got voxel.Block, solid bool) bool {
	if want == nil || !solid {
		return want == nil && !solid
	}
	return *want == got
}

func blockString(b *voxel.Block) string {
	if b == nil {
		return "air"
	}
	return fmt.Sprintf("%d:%#x", b.ID, uint64(b.Data))
}

func sortChunks(cs []voxel.ChunkCoord) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}

func sortPositions(ps []voxel.Pos) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
