package log

import (
	"path/filepath"
	"testing"
	"time"

	"voxelstream.ai/internal/sim/voxel"
)

func TestEditJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := NewEditJournal(dir, nil)
	clock := time.Date(2026, 5, 1, 10, 59, 0, 0, time.UTC)
	j.w.now = func() time.Time { return clock }

	rock := voxel.Block{ID: 3, Data: 0x2a}
	j.RecordEdit(voxel.Pos{X: -1, Y: 40, Z: 65}, &rock)
	j.RecordEdit(voxel.Pos{X: 5}, nil)
	clock = clock.Add(2 * time.Minute)
	j.RecordEdit(voxel.Pos{X: 6}, &rock)
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if j.Failures() != 0 {
		t.Fatalf("failures=%d", j.Failures())
	}

	files, err := JournalFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want one per hour", files)
	}
	if filepath.Base(files[0]) != "edits-2026-05-01-10.jsonl.zst" {
		t.Fatalf("first file=%s", files[0])
	}

	first, err := ReadEdits(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("entries=%+v", first)
	}
	e := first[0]
	if e.Seq != 1 || e.Pos != [3]int{-1, 40, 65} || e.Chunk != [3]int{-1, 1, 2} {
		t.Fatalf("entry=%+v", e)
	}
	if e.Block == nil || e.Block.ID != 3 || e.Block.Data != 0x2a {
		t.Fatalf("block=%+v", e.Block)
	}
	if first[1].Block != nil {
		t.Fatalf("removal recorded a block")
	}

	second, err := ReadEdits(files[1])
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].Seq != 3 {
		t.Fatalf("second hour=%+v", second)
	}
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(filepath.Join(dir, "edits"), "edits")
		w.now = func() time.Time { return at }
		if err := w.Write(EditEntry{Seq: uint64(i + 1)}); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	files, _ := JournalFiles(dir)
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	got, err := ReadEdits(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Seq != 2 {
		t.Fatalf("entries=%+v", got)
	}
}
