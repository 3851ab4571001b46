package region

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/encoding"
	"voxelstream.ai/internal/sim/voxel"
)

const FormatVersion = 1

var ErrCorrupt = errors.New("corrupt region file")

// Header is the first line of the decompressed stream, readable without
// decoding the body.
type Header struct {
	Version int    `json:"version"`
	Region  [3]int `json:"region"`
	Chunks  int    `json:"chunks"`
}

type ChunkEntry struct {
	Coord voxel.ChunkCoord
	Chunk encoding.CompressedChunk
}

type fileBody struct {
	Header Header
	Chunks []ChunkEntry
}

func FileName(r voxel.RegionCoord) string {
	return fmt.Sprintf("region_%d_%d_%d.bin", r.X, r.Y, r.Z)
}

// WriteFile replaces path atomically: the new content is written to a
// temporary file in the same directory and renamed over the old one.
func WriteFile(path string, r voxel.RegionCoord, chunks []ChunkEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeStream(tmp, r, chunks); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeStream(path string, r voxel.RegionCoord, chunks []ChunkEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	body := fileBody{
		Header: Header{Version: FormatVersion, Region: [3]int{r.X, r.Y, r.Z}, Chunks: len(chunks)},
		Chunks: chunks,
	}
	hb, err := json.Marshal(body.Header)
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&body); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	return h, nil
}

// ReadFile returns os.ErrNotExist (wrapped) for a missing file and ErrCorrupt
// for anything that cannot be decoded.
func ReadFile(path string) (Header, []ChunkEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	if _, err := br.ReadBytes('\n'); err != nil {
		return Header{}, nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	var body fileBody
	if err := gob.NewDecoder(br).Decode(&body); err != nil {
		return Header{}, nil, fmt.Errorf("%w: gob decode: %v", ErrCorrupt, err)
	}
	if body.Header.Version != FormatVersion {
		return body.Header, nil, fmt.Errorf("%w: version %d", ErrCorrupt, body.Header.Version)
	}
	if body.Header.Chunks != len(body.Chunks) {
		return body.Header, nil, fmt.Errorf("%w: header says %d chunks, body has %d", ErrCorrupt, body.Header.Chunks, len(body.Chunks))
	}
	return body.Header, body.Chunks, nil
}
