package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/transport/feed"
)

// serverState is the /admin/v1/state response of cmd/server.
type serverState struct {
	World world.Metrics  `json:"world"`
	Feed  feed.Stats     `json:"feed"`
	Index *indexdb.Stats `json:"index,omitempty"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	raw := fs.Bool("json", false, "print the raw json response")
	_ = fs.Parse(args)

	st, body, err := fetchState(*baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *raw {
		fmt.Println(strings.TrimSpace(string(body)))
		return
	}
	printState(os.Stdout, st)
}

func fetchState(baseURL string) (serverState, []byte, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		return serverState{}, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return serverState{}, nil, err
	}
	if resp.StatusCode/100 != 2 {
		return serverState{}, b, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var st serverState
	if err := json.Unmarshal(b, &st); err != nil {
		return serverState{}, b, fmt.Errorf("decode state: %w", err)
	}
	return st, b, nil
}

func printState(w io.Writer, st serverState) {
	m := st.World
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "tick\t%d\n", m.Tick)
	fmt.Fprintf(tw, "center\t%d,%d,%d\n", m.Center[0], m.Center[1], m.Center[2])
	fmt.Fprintf(tw, "chunks\tloaded=%d window=%d\n", m.LoadedChunks, m.WindowChunks)
	fmt.Fprintf(tw, "tasks\tgeneration=%d light=%d mesh=%d draining=%d\n",
		m.GenerationInFlight, m.LightInFlight, m.MeshInFlight, m.MeshDraining)
	fmt.Fprintf(tw, "pending\tlight=%d mesh_queued=%d mesh_urgent=%d urgent_buffer=%d\n",
		m.LightPending, m.MeshQueued, m.MeshUrgent, m.UrgentBuffer)
	fmt.Fprintf(tw, "saves\tdirty=%d in_flight=%v completed=%d failed=%d\n",
		m.DirtyChunks, m.SaveInFlight, m.SavesCompleted, m.SaveFailures)
	if m.LastSaveError != "" {
		fmt.Fprintf(tw, "last_save_error\t%s\n", m.LastSaveError)
	}
	f := st.Feed
	fmt.Fprintf(tw, "feed\tclients=%d shown=%d dropped=%d kicked=%d\n", f.Clients, f.ShownChunks, f.DroppedTotal, f.KickedTotal)
	if ix := st.Index; ix != nil {
		fmt.Fprintf(tw, "index\tqueue=%d/%d written=%d dropped=%d failed=%d\n",
			ix.QueueDepth, ix.QueueCapacity, ix.WrittenTotal, ix.DroppedTotal, ix.FailedTotal)
	}
	_ = tw.Flush()
}
