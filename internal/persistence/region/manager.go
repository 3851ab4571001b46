package region

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/encoding"
	"voxelstream.ai/internal/sim/voxel"
)

// LoadError reports a region or chunk that could not be decoded. Callers are
// expected to regenerate the affected chunk.
type LoadError struct {
	Region voxel.RegionCoord
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load region %v (%s): %v", e.Region, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveRecord describes one chunk written to disk.
type SaveRecord struct {
	Region     voxel.RegionCoord
	Chunk      voxel.ChunkCoord
	Path       string
	PaletteLen int
	Runs       int
	SavedAt    time.Time
}

// Recorder receives a record per saved chunk, e.g. a secondary index.
type Recorder interface {
	RecordSave(SaveRecord)
}

type regionEntry struct {
	mu      sync.Mutex
	loaded  bool
	loadErr error
	chunks  map[voxel.ChunkCoord]encoding.CompressedChunk
}

// Manager caches region tables in memory and is safe for concurrent use. The
// map of regions is guarded by an RWMutex; each region has its own lock so
// different regions load and save in parallel.
type Manager struct {
	dir string
	log *log.Logger

	mu      sync.RWMutex
	regions map[voxel.RegionCoord]*regionEntry

	recorder Recorder
}

func NewManager(dir string, logger *log.Logger) *Manager {
	return &Manager{
		dir:     dir,
		log:     logger,
		regions: map[voxel.RegionCoord]*regionEntry{},
	}
}

// SetRecorder must be called before the manager is shared.
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

func (m *Manager) Dir() string { return m.dir }

func (m *Manager) Path(r voxel.RegionCoord) string {
	return filepath.Join(m.dir, FileName(r))
}

func (m *Manager) logf(format string, args ...any) {
	if m.log != nil {
		m.log.Printf(format, args...)
	}
}

func (m *Manager) entry(r voxel.RegionCoord) *regionEntry {
	m.mu.RLock()
	e := m.regions[r]
	m.mu.RUnlock()
	if e != nil {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e = m.regions[r]; e == nil {
		e = &regionEntry{}
		m.regions[r] = e
	}
	return e
}

// ensureLoaded reads the region file once. Caller holds e.mu.
func (m *Manager) ensureLoaded(r voxel.RegionCoord, e *regionEntry) {
	if e.loaded {
		return
	}
	e.loaded = true
	e.chunks = map[voxel.ChunkCoord]encoding.CompressedChunk{}

	path := m.Path(r)
	_, entries, err := ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		e.loadErr = &LoadError{Region: r, Path: path, Err: err}
		m.logf("region=%v path=%s load_error=%q", r, path, err.Error())
		return
	}
	for _, ce := range entries {
		e.chunks[ce.Coord] = ce.Chunk
	}
}

// LoadChunk returns (nil, nil) for a chunk that was never saved.
func (m *Manager) LoadChunk(c voxel.ChunkCoord) (*chunk.Data, error) {
	r := c.Region()
	e := m.entry(r)
	e.mu.Lock()
	m.ensureLoaded(r, e)
	loadErr := e.loadErr
	cc, ok := e.chunks[c]
	e.mu.Unlock()

	if loadErr != nil {
		return nil, loadErr
	}
	if !ok {
		return nil, nil
	}
	d, err := encoding.Decompress(cc)
	if err != nil {
		m.logf("region=%v chunk=%v decode_error=%q", r, c, err.Error())
		return nil, &LoadError{Region: r, Path: m.Path(r), Err: fmt.Errorf("chunk %v: %w", c, err)}
	}
	return d, nil
}

// SaveChunks merges chunks into their regions and rewrites each touched
// region file. A failing region does not stop the others; the returned error
// joins every failure.
func (m *Manager) SaveChunks(chunks map[voxel.ChunkCoord]*chunk.Data) error {
	byRegion := map[voxel.RegionCoord][]voxel.ChunkCoord{}
	for c := range chunks {
		r := c.Region()
		byRegion[r] = append(byRegion[r], c)
	}
	var errs []error
	for r, coords := range byRegion {
		if err := m.saveRegion(r, coords, chunks); err != nil {
			errs = append(errs, fmt.Errorf("region %v: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) saveRegion(r voxel.RegionCoord, coords []voxel.ChunkCoord, chunks map[voxel.ChunkCoord]*chunk.Data) error {
	e := m.entry(r)
	e.mu.Lock()
	defer e.mu.Unlock()
	m.ensureLoaded(r, e)

	path := m.Path(r)
	if e.loadErr != nil {
		// Keep the unreadable file for inspection and start the region over.
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if err := os.Rename(path, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		m.logf("region=%v moved_corrupt=%s", r, aside)
		e.loadErr = nil
	}

	prev := make(map[voxel.ChunkCoord]encoding.CompressedChunk, len(coords))
	for _, c := range coords {
		if old, ok := e.chunks[c]; ok {
			prev[c] = old
		}
		e.chunks[c] = encoding.Compress(chunks[c])
	}

	entries := make([]ChunkEntry, 0, len(e.chunks))
	for c, cc := range e.chunks {
		entries = append(entries, ChunkEntry{Coord: c, Chunk: cc})
	}
	sort.Slice(entries, func(i, j int) bool { return less(entries[i].Coord, entries[j].Coord) })

	if err := WriteFile(path, r, entries); err != nil {
		// Roll the cache back so it matches the file on disk.
		for _, c := range coords {
			if old, ok := prev[c]; ok {
				e.chunks[c] = old
			} else {
				delete(e.chunks, c)
			}
		}
		return err
	}

	if m.recorder != nil {
		now := time.Now().UTC()
		for _, c := range coords {
			cc := e.chunks[c]
			m.recorder.RecordSave(SaveRecord{
				Region:     r,
				Chunk:      c,
				Path:       path,
				PaletteLen: len(cc.Palette),
				Runs:       len(cc.RLE) / 2,
				SavedAt:    now,
			})
		}
	}
	return nil
}

func less(a, b voxel.ChunkCoord) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// Regions lists region files present in the directory.
func (m *Manager) Regions() ([]voxel.RegionCoord, error) {
	ents, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []voxel.RegionCoord
	for _, de := range ents {
		var r voxel.RegionCoord
		if de.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(de.Name(), "region_%d_%d_%d.bin", &r.X, &r.Y, &r.Z); err != nil {
			continue
		}
		if FileName(r) != de.Name() {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
