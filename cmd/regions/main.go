package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/persistence/region"
	"voxelstream.ai/internal/sim/voxel"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		regionDir = flag.String("regions", "", "region directory (default: <data>/regions)")
		indexPath = flag.String("index", "", "save index path (default: <data>/index/regions.sqlite; \"none\" to skip)")
		detail    = flag.String("region", "", "list the chunks of one region x,y,z")
		asJSON    = flag.Bool("json", false, "print json instead of a table")
	)
	flag.Parse()

	dir := *regionDir
	if dir == "" {
		dir = filepath.Join(*dataDir, "regions")
	}

	var idx *indexdb.SQLiteIndex
	ip := strings.TrimSpace(*indexPath)
	if ip == "" {
		ip = filepath.Join(*dataDir, "index", "regions.sqlite")
	}
	if ip != "none" {
		if _, err := os.Stat(ip); err == nil {
			var err error
			idx, err = indexdb.OpenSQLite(ip)
			if err != nil {
				fmt.Fprintln(os.Stderr, "open index:", err)
				os.Exit(1)
			}
			defer idx.Close()
		}
	}

	if *detail != "" {
		r, err := parseRegion(*detail)
		if err != nil {
			fmt.Fprintln(os.Stderr, "-region:", err)
			os.Exit(2)
		}
		chunks, err := inspectRegion(dir, r)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if *asJSON {
			_ = json.NewEncoder(os.Stdout).Encode(chunks)
			return
		}
		printChunks(os.Stdout, chunks)
		return
	}

	summaries, err := inspect(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if idx != nil {
		rows, err := idx.Regions(context.Background())
		if err != nil {
			fmt.Fprintln(os.Stderr, "read index:", err)
			os.Exit(1)
		}
		summaries = crossCheck(summaries, rows)
	}
	if *asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(summaries)
	} else {
		printSummaries(os.Stdout, summaries)
	}
	for _, s := range summaries {
		if s.Problem != "" {
			os.Exit(1)
		}
	}
}

type regionSummary struct {
	Region       [3]int    `json:"region"`
	File         string    `json:"file,omitempty"`
	Bytes        int64     `json:"bytes"`
	Chunks       int       `json:"chunks"`
	IndexChunks  int       `json:"index_chunks,omitempty"`
	IndexedSaved time.Time `json:"index_saved_at,omitempty"`
	Problem      string    `json:"problem,omitempty"`
}

type chunkSummary struct {
	Chunk      [3]int `json:"chunk"`
	PaletteLen int    `json:"palette_len"`
	Runs       int    `json:"runs"`
	Solid      int    `json:"solid_cells"`
}

// inspect reads every region header under dir. Unreadable files are reported,
// not fatal.
func inspect(dir string) ([]regionSummary, error) {
	coords, err := region.NewManager(dir, nil).Regions()
	if err != nil {
		return nil, err
	}
	sortRegions(coords)
	out := make([]regionSummary, 0, len(coords))
	for _, r := range coords {
		path := filepath.Join(dir, region.FileName(r))
		s := regionSummary{Region: [3]int{r.X, r.Y, r.Z}, File: filepath.Base(path)}
		if fi, err := os.Stat(path); err == nil {
			s.Bytes = fi.Size()
		}
		h, err := region.ReadHeader(path)
		switch {
		case err != nil:
			s.Problem = err.Error()
		case h.Region != s.Region:
			s.Problem = fmt.Sprintf("header names region %v", h.Region)
		default:
			s.Chunks = h.Chunks
		}
		out = append(out, s)
	}
	return out, nil
}

// crossCheck joins index rows onto the file summaries. Regions present on
// only one side are flagged; the index can lag but never lead the files.
func crossCheck(files []regionSummary, rows []indexdb.RegionRow) []regionSummary {
	byRegion := make(map[[3]int]int, len(files))
	for i, s := range files {
		byRegion[s.Region] = i
	}
	for _, row := range rows {
		key := [3]int{row.Region.X, row.Region.Y, row.Region.Z}
		i, ok := byRegion[key]
		if !ok {
			files = append(files, regionSummary{
				Region:       key,
				IndexChunks:  row.Chunks,
				IndexedSaved: row.LastSaved,
				Problem:      "indexed but no region file",
			})
			continue
		}
		s := &files[i]
		s.IndexChunks = row.Chunks
		s.IndexedSaved = row.LastSaved
		if s.Problem == "" && row.Chunks > s.Chunks {
			s.Problem = fmt.Sprintf("index has %d chunks, file has %d", row.Chunks, s.Chunks)
		}
	}
	return files
}

func inspectRegion(dir string, r voxel.RegionCoord) ([]chunkSummary, error) {
	_, entries, err := region.ReadFile(filepath.Join(dir, region.FileName(r)))
	if err != nil {
		return nil, err
	}
	out := make([]chunkSummary, 0, len(entries))
	for _, e := range entries {
		s := chunkSummary{
			Chunk:      [3]int{e.Coord.X, e.Coord.Y, e.Coord.Z},
			PaletteLen: len(e.Chunk.Palette),
			Runs:       len(e.Chunk.RLE) / 2,
		}
		for i := 0; i+1 < len(e.Chunk.RLE); i += 2 {
			if e.Chunk.RLE[i+1] != 0 {
				s.Solid += int(e.Chunk.RLE[i])
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func printSummaries(w io.Writer, rows []regionSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tFILE\tBYTES\tCHUNKS\tINDEXED\tLAST SAVE\tPROBLEM")
	for _, s := range rows {
		saved := "-"
		if !s.IndexedSaved.IsZero() {
			saved = s.IndexedSaved.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%v\t%s\t%d\t%d\t%d\t%s\t%s\n", s.Region, s.File, s.Bytes, s.Chunks, s.IndexChunks, saved, s.Problem)
	}
	_ = tw.Flush()
}

func printChunks(w io.Writer, rows []chunkSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tPALETTE\tRUNS\tSOLID")
	for _, s := range rows {
		fmt.Fprintf(tw, "%v\t%d\t%d\t%d\n", s.Chunk, s.PaletteLen, s.Runs, s.Solid)
	}
	_ = tw.Flush()
}

func parseRegion(s string) (voxel.RegionCoord, error) {
	var r voxel.RegionCoord
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r, strconv.ErrSyntax
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return r, err
		}
		v[i] = n
	}
	return voxel.RegionCoord{X: v[0], Y: v[1], Z: v[2]}, nil
}

func sortRegions(rs []voxel.RegionCoord) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
