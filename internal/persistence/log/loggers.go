package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/voxel"
)

// JSONLZstdWriter appends JSON lines to zstd files that roll over every hour.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Each open starts a new zstd frame; appended frames decode as one stream.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EditEntry is one journaled block edit. Block is nil for a removal.
type EditEntry struct {
	Seq   uint64      `json:"seq"`
	Time  string      `json:"time"`
	Pos   [3]int      `json:"pos"`
	Chunk [3]int      `json:"chunk"`
	Block *BlockEntry `json:"block,omitempty"`
}

type BlockEntry struct {
	ID   uint16 `json:"id"`
	Data uint64 `json:"data"`
}

// EditJournal records every applied block edit under <dir>/edits.
type EditJournal struct {
	w   *JSONLZstdWriter
	log *stdlog.Logger

	seq      atomic.Uint64
	failures atomic.Uint64
}

func NewEditJournal(dataDir string, logger *stdlog.Logger) *EditJournal {
	return &EditJournal{
		w:   NewJSONLZstdWriter(filepath.Join(dataDir, "edits"), "edits"),
		log: logger,
	}
}

// RecordEdit never fails the edit itself; write errors are logged and counted.
func (j *EditJournal) RecordEdit(p voxel.Pos, b *voxel.Block) {
	c, _ := voxel.Split(p)
	e := EditEntry{
		Seq:   j.seq.Add(1),
		Time:  j.w.now().UTC().Format(time.RFC3339Nano),
		Pos:   [3]int{p.X, p.Y, p.Z},
		Chunk: [3]int{c.X, c.Y, c.Z},
	}
	if b != nil {
		e.Block = &BlockEntry{ID: uint16(b.ID), Data: uint64(b.Data)}
	}
	if err := j.w.Write(e); err != nil {
		j.failures.Add(1)
		if j.log != nil {
			j.log.Printf("journal write failed seq=%d err=%v", e.Seq, err)
		}
	}
}

func (j *EditJournal) Failures() uint64 { return j.failures.Load() }
func (j *EditJournal) Close() error     { return j.w.Close() }

// JournalFiles lists the edit journal files under dataDir, oldest first.
func JournalFiles(dataDir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "edits", "edits-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadEdits decodes every entry of one journal file.
func ReadEdits(path string) ([]EditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []EditEntry
	jd := json.NewDecoder(dec)
	for {
		var e EditEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: entry %d: %w", path, len(out), err)
		}
		out = append(out, e)
	}
}
