package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/region"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/terrain/gen"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/transport/feed"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		catalogPath = flag.String("catalog", "", "path to a block catalog json (default: built-in catalog)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite save index")
		noJournal   = flag.Bool("disable_journal", false, "disable the edit journal")
		spawn       = flag.String("spawn", "0,48,0", "initial streaming center x,y,z")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	worldLog := log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)
	feedLog := log.New(os.Stdout, "[feed] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	var reg *registry.Registry
	if cp := strings.TrimSpace(*catalogPath); cp != "" {
		reg, err = registry.Load(cp)
	} else {
		reg, err = registry.Default()
	}
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}

	center, err := parseVec3(*spawn)
	if err != nil {
		logger.Fatalf("-spawn: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	regionDir := tune.RegionDir
	if !filepath.IsAbs(regionDir) {
		regionDir = filepath.Join(*dataDir, regionDir)
	}
	store := region.NewManager(regionDir, logger)

	// Optional: read-model index of saved chunks (region files stay authoritative).
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		store.SetRecorder(idx)
		changed, err := recordConfigs(context.Background(), idx, tune, reg)
		if err != nil {
			logger.Printf("index backend: record configs: %v", err)
		}
		for _, name := range changed {
			logger.Printf("config changed since last run name=%s saved regions may predate it", name)
		}
	}

	var journal world.Journal
	if !*noJournal {
		j := persistlog.NewEditJournal(*dataDir, logger)
		defer j.Close()
		journal = j
	}

	hub := feed.NewHub(reg, tune, feed.Options{
		EditsPerSecond: float64(envInt("VS_FEED_EDITS_PER_SEC", 20)),
		EditBurst:      envInt("VS_FEED_EDIT_BURST", 40),
	}, feedLog)
	defer hub.Close()

	w, err := world.New(world.Config{
		Tuning:    tune,
		Registry:  reg,
		Generator: gen.New(tune.Seed, tune.Terrain, reg),
		Store:     store,
		Renderer:  hub,
		Journal:   journal,
		Logger:    worldLog,
	})
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	w.SetCenter(center)
	hub.Bind(w)

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, w.Metrics(), hub.Stats(), idx)
	})

	if envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				World world.Metrics `json:"world"`
				Feed  feed.Stats    `json:"feed"`
				Index any           `json:"index,omitempty"`
			}{
				World: w.Metrics(),
				Feed:  hub.Stats(),
			}
			if idx != nil {
				resp.Index = idx.Stats()
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Printf("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/feed", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s radius=%d workers=%d center=%v", *addr, tune.StreamingRadius, tune.Workers, center)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	<-worldDone
	hub.Close()
	if err := w.Close(); err != nil {
		logger.Printf("final save: %v", err)
	}
	logger.Printf("shutdown complete saves=%d", w.Metrics().SavesCompleted)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func parseVec3(s string) (mgl32.Vec3, error) {
	parts := strings.Split(s, ",")
	var v mgl32.Vec3
	if len(parts) != 3 {
		return v, strconv.ErrSyntax
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
