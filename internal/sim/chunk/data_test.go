package chunk

import (
	"testing"

	"voxelstream.ai/internal/sim/voxel"
)

func TestSetGetAndPaletteReuse(t *testing.T) {
	d := New()
	if !d.IsEmpty() {
		t.Fatalf("new chunk should be empty")
	}
	a := voxel.Block{ID: 1, Data: 7}
	b := voxel.Block{ID: 1, Data: 8}
	d.Set(voxel.Pos{X: 1, Y: 2, Z: 3}, a)
	d.Set(voxel.Pos{X: 4, Y: 5, Z: 6}, a)
	d.Set(voxel.Pos{X: 7, Y: 8, Z: 9}, b)
	if len(d.Palette()) != 2 {
		t.Fatalf("palette len=%d want 2", len(d.Palette()))
	}
	if got, ok := d.Get(voxel.Pos{X: 1, Y: 2, Z: 3}); !ok || got != a {
		t.Fatalf("get: %v %v", got, ok)
	}
	d.Remove(voxel.Pos{X: 7, Y: 8, Z: 9})
	if !d.IsAir(voxel.Pos{X: 7, Y: 8, Z: 9}) {
		t.Fatalf("expected air after remove")
	}
	// Unused entries are kept.
	if len(d.Palette()) != 2 {
		t.Fatalf("palette must not shrink")
	}
	for _, idx := range d.Cells() {
		if idx != Air && int(idx) >= len(d.Palette()) {
			t.Fatalf("index %d out of palette", idx)
		}
	}
}

func TestCopyOnWrite(t *testing.T) {
	d := New()
	a := voxel.Block{ID: 2}
	d.Set(voxel.Pos{X: 0, Y: 0, Z: 0}, a)

	snap := d.Snapshot()
	d.Set(voxel.Pos{X: 1, Y: 0, Z: 0}, a)
	d.Remove(voxel.Pos{X: 0, Y: 0, Z: 0})

	if !snap.IsAir(voxel.Pos{X: 1, Y: 0, Z: 0}) {
		t.Fatalf("snapshot saw a later write")
	}
	if got, ok := snap.Get(voxel.Pos{X: 0, Y: 0, Z: 0}); !ok || got != a {
		t.Fatalf("snapshot lost a block")
	}
	if !d.IsAir(voxel.Pos{X: 0, Y: 0, Z: 0}) {
		t.Fatalf("owner write lost")
	}
}

func TestSnapshotOfEmptyChunk(t *testing.T) {
	d := New()
	snap := d.Snapshot()
	d.Set(voxel.Pos{X: 3, Y: 3, Z: 3}, voxel.Block{ID: 1})
	if !snap.IsEmpty() {
		t.Fatalf("snapshot of empty chunk became populated")
	}
}

func TestOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	New().Set(voxel.Pos{X: -1, Y: 0, Z: 0}, voxel.Block{ID: 1})
}

func TestLightNibbles(t *testing.T) {
	l := NewLight()
	i := voxel.Index(voxel.Pos{X: 3, Y: 4, Z: 5})
	l.SetSkyAt(i, 15)
	l.SetBlockAt(i, 9)
	if l.SkyAt(i) != 15 || l.BlockAt(i) != 9 {
		t.Fatalf("sky=%d block=%d", l.SkyAt(i), l.BlockAt(i))
	}
	l.SetSkyAt(i, 2)
	if l.Sky(voxel.Pos{X: 3, Y: 4, Z: 5}) != 2 || l.Block(voxel.Pos{X: 3, Y: 4, Z: 5}) != 9 {
		t.Fatalf("channels not independent")
	}
}

func TestNeighborhoodLookup(t *testing.T) {
	var n Neighborhood
	center := New()
	west := New()
	west.Set(voxel.Pos{X: 31, Y: 0, Z: 0}, voxel.Block{ID: 9})
	n.Data[CenterSlot] = center
	n.Data[Slot(-1, 0, 0)] = west

	if b, ok := n.Block(voxel.Pos{X: -1, Y: 0, Z: 0}); !ok || b.ID != 9 {
		t.Fatalf("west lookup: %v %v", b, ok)
	}
	if _, ok := n.Block(voxel.Pos{X: 32, Y: 0, Z: 0}); ok {
		t.Fatalf("missing chunk should read as air")
	}
	l := NewLight()
	l.SetSkyAt(voxel.Index(voxel.Pos{X: 0, Y: 0, Z: 31}), 7)
	n.Light[Slot(0, -1, 0)] = l
	if sky, _, ok := n.LightAt(voxel.Pos{X: 0, Y: -32, Z: 31}); !ok || sky != 7 {
		t.Fatalf("below lookup: %d %v", sky, ok)
	}
}
