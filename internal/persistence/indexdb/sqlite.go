package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/persistence/region"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/voxel"
)

// SQLiteIndex is a secondary index of saved chunks. Region files remain the
// source of truth; index writes are queued and dropped when the writer falls
// behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan region.SaveRecord
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	enqueuedTotal atomic.Uint64
	droppedTotal  atomic.Uint64
	writtenTotal  atomic.Uint64
	failedTotal   atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	EnqueuedTotal uint64 `json:"enqueued_total"`
	DroppedTotal  uint64 `json:"dropped_total"`
	WrittenTotal  uint64 `json:"written_total"`
	FailedTotal   uint64 `json:"failed_total"`
}

type ChunkRow struct {
	Chunk      voxel.ChunkCoord
	Region     voxel.RegionCoord
	Path       string
	PaletteLen int
	Runs       int
	SavedAt    time.Time
	Saves      int
}

type ConfigRow struct {
	Name      string
	Digest    string
	JSON      string
	UpdatedAt time.Time
}

type RegionRow struct {
	Region    voxel.RegionCoord
	Path      string
	Chunks    int
	LastSaved time.Time
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// A full save of a large window produces one record per chunk at once.
		ch: make(chan region.SaveRecord, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			rx INTEGER NOT NULL,
			ry INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			path TEXT NOT NULL,
			palette_len INTEGER NOT NULL,
			runs INTEGER NOT NULL,
			saved_at TEXT NOT NULL,
			saves INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (cx, cy, cz)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_region ON chunks(rx, ry, rz);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordSave queues a saved chunk. It never blocks the saving goroutine.
func (s *SQLiteIndex) RecordSave(r region.SaveRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueuedTotal.Add(1)
	select {
	case s.ch <- r:
	default:
		s.droppedTotal.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		EnqueuedTotal: s.enqueuedTotal.Load(),
		DroppedTotal:  s.droppedTotal.Load(),
		WrittenTotal:  s.writtenTotal.Load(),
		FailedTotal:   s.failedTotal.Load(),
	}
}

// UpsertConfig stores the configuration the server runs with, so saved
// regions can be traced back to the tuning and block table that wrote them.
func (s *SQLiteIndex) UpsertConfig(tune tuning.Tuning, reg *registry.Registry) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type blockRow struct {
		ID   voxel.BlockID `json:"id"`
		Name string        `json:"name"`
		Kind string        `json:"kind"`
	}
	var blocks []blockRow
	for _, b := range reg.Blocks() {
		blocks = append(blocks, blockRow{ID: b.ID, Name: b.Name, Kind: b.Kind.String()})
	}

	rows := map[string]any{
		"tuning":   tune,
		"blocks":   blocks,
		"textures": reg.TextureLayers(),
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for name, v := range rows {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		sum := sha256.Sum256(b)
		if _, err := stmt.Exec(name, hex.EncodeToString(sum[:]), string(b), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConfigDigest returns the stored digest of a config entry, or "" if absent.
func (s *SQLiteIndex) ConfigDigest(ctx context.Context, name string) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM configs WHERE name=?`, name).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return digest, err
}

func (s *SQLiteIndex) Configs(ctx context.Context) ([]ConfigRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, digest, json, updated_at FROM configs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConfigRow
	for rows.Next() {
		var c ConfigRow
		var updated string
		if err := rows.Scan(&c.Name, &c.Digest, &c.JSON, &updated); err != nil {
			return nil, err
		}
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Regions summarizes every indexed region.
func (s *SQLiteIndex) Regions(ctx context.Context) ([]RegionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rx, ry, rz, MAX(path), COUNT(*), MAX(saved_at)
		FROM chunks GROUP BY rx, ry, rz ORDER BY rx, ry, rz`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RegionRow
	for rows.Next() {
		var r RegionRow
		var savedAt string
		if err := rows.Scan(&r.Region.X, &r.Region.Y, &r.Region.Z, &r.Path, &r.Chunks, &savedAt); err != nil {
			return nil, err
		}
		r.LastSaved, _ = time.Parse(time.RFC3339Nano, savedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Chunks lists the indexed chunks of one region.
func (s *SQLiteIndex) Chunks(ctx context.Context, r voxel.RegionCoord) ([]ChunkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cx, cy, cz, path, palette_len, runs, saved_at, saves
		FROM chunks WHERE rx=? AND ry=? AND rz=? ORDER BY cx, cy, cz`, r.X, r.Y, r.Z)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkRow
	for rows.Next() {
		c := ChunkRow{Region: r}
		var savedAt string
		if err := rows.Scan(&c.Chunk.X, &c.Chunk.Y, &c.Chunk.Z, &c.Path, &c.PaletteLen, &c.Runs, &savedAt, &c.Saves); err != nil {
			return nil, err
		}
		c.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsert, _ := s.db.Prepare(`
		INSERT INTO chunks(cx,cy,cz,rx,ry,rz,path,palette_len,runs,saved_at,saves)
		VALUES(?,?,?,?,?,?,?,?,?,?,1)
		ON CONFLICT(cx,cy,cz) DO UPDATE SET
			path=excluded.path,
			palette_len=excluded.palette_len,
			runs=excluded.runs,
			saved_at=excluded.saved_at,
			saves=chunks.saves+1`)
	defer func() {
		if upsert != nil {
			_ = upsert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failedTotal.Add(uint64(opCount))
		} else {
			s.writtenTotal.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failedTotal.Add(uint64(opCount))
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil || upsert == nil {
			s.failedTotal.Add(1)
			continue
		}
		if _, err := tx.Stmt(upsert).Exec(
			r.Chunk.X, r.Chunk.Y, r.Chunk.Z,
			r.Region.X, r.Region.Y, r.Region.Z,
			r.Path,
			r.PaletteLen,
			r.Runs,
			r.SavedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			s.failedTotal.Add(1)
			rollback()
			continue
		}
		opCount++
		// Commit when the queue drains so a save batch lands as one transaction.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
