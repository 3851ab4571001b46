package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/voxel"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "configs":
			configsCmd(os.Args[2:])
			return
		case "chunks":
			chunksCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin state|configs|chunks [flags]")
	os.Exit(2)
}

func openIndex(fs *flag.FlagSet, args []string) *indexdb.SQLiteIndex {
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (default: <data>/index/regions.sqlite)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "regions.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	return idx
}

func configsCmd(args []string) {
	fs := flag.NewFlagSet("configs", flag.ExitOnError)
	show := fs.String("show", "", "print the stored json of one config (tuning, blocks, textures)")
	idx := openIndex(fs, args)
	defer idx.Close()

	rows, err := idx.Configs(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if *show != "" {
		for _, r := range rows {
			if r.Name == *show {
				fmt.Println(r.JSON)
				return
			}
		}
		fmt.Fprintln(os.Stderr, "no config named", *show)
		os.Exit(1)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDIGEST\tUPDATED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Digest[:12], r.UpdatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func chunksCmd(args []string) {
	fs := flag.NewFlagSet("chunks", flag.ExitOnError)
	regionFlag := fs.String("region", "0,0,0", "region x,y,z")
	asJSON := fs.Bool("json", false, "print json")
	idx := openIndex(fs, args)
	defer idx.Close()

	r, err := parseRegion(*regionFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-region:", err)
		os.Exit(2)
	}
	rows, err := idx.Chunks(context.Background(), r)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if *asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(rows)
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tPALETTE\tRUNS\tSAVES\tSAVED")
	for _, c := range rows {
		fmt.Fprintf(tw, "%d,%d,%d\t%d\t%d\t%d\t%s\n", c.Chunk.X, c.Chunk.Y, c.Chunk.Z, c.PaletteLen, c.Runs, c.Saves, c.SavedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func parseRegion(s string) (voxel.RegionCoord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return voxel.RegionCoord{}, strconv.ErrSyntax
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return voxel.RegionCoord{}, err
		}
		v[i] = n
	}
	return voxel.RegionCoord{X: v[0], Y: v[1], Z: v[2]}, nil
}
