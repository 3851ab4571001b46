package tuning

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"voxelstream.ai/internal/sim/voxel"
)

type Tuning struct {
	StreamingRadius int `yaml:"streaming_radius"`
	// Fixed by the storage format; accepted only so configs can state them.
	ChunkSize  int `yaml:"chunk_size"`
	RegionSize int `yaml:"region_size"`

	RegionDir      string `yaml:"region_dir"`
	SaveIntervalMs int    `yaml:"save_interval_ms"`
	TickRateHz     int    `yaml:"tick_rate_hz"`

	Workers            int `yaml:"workers"`
	MaxGenerationTasks int `yaml:"max_generation_tasks"`
	MaxLightTasks      int `yaml:"max_light_tasks"`
	MaxMeshTasks       int `yaml:"max_mesh_tasks"`

	Seed    int64   `yaml:"seed"`
	Terrain Terrain `yaml:"terrain"`
}

type Terrain struct {
	BaseHeight float64  `yaml:"base_height"`
	SoilDepth  float64  `yaml:"soil_depth"`
	Octaves    []Octave `yaml:"octaves"`
}

// Octave is one noise layer: horizontal scale in blocks and height amplitude.
type Octave struct {
	Scale     float64 `yaml:"scale"`
	Amplitude float64 `yaml:"amplitude"`
}

func Defaults() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) applyDefaults() {
	if t.StreamingRadius <= 0 {
		t.StreamingRadius = 8
	}
	if t.ChunkSize == 0 {
		t.ChunkSize = voxel.ChunkSize
	}
	if t.RegionSize == 0 {
		t.RegionSize = voxel.RegionSize
	}
	if t.RegionDir == "" {
		t.RegionDir = "regions"
	}
	if t.SaveIntervalMs <= 0 {
		t.SaveIntervalMs = 3000
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.Workers <= 0 {
		t.Workers = runtime.NumCPU()
	}
	if t.MaxGenerationTasks <= 0 {
		t.MaxGenerationTasks = 16
	}
	if t.MaxLightTasks <= 0 {
		t.MaxLightTasks = 16
	}
	if t.MaxMeshTasks <= 0 {
		t.MaxMeshTasks = 16
	}
	if t.Seed == 0 {
		t.Seed = 1337
	}
	if t.Terrain.BaseHeight == 0 {
		t.Terrain.BaseHeight = 32
	}
	if t.Terrain.SoilDepth <= 0 {
		t.Terrain.SoilDepth = 3
	}
	if len(t.Terrain.Octaves) == 0 {
		t.Terrain.Octaves = []Octave{
			{Scale: 400, Amplitude: 40},
			{Scale: 150, Amplitude: 20},
			{Scale: 50, Amplitude: 8},
			{Scale: 15, Amplitude: 3},
		}
	}
}

func (t Tuning) Validate() error {
	if t.ChunkSize != voxel.ChunkSize {
		return fmt.Errorf("chunk_size must be %d, got %d", voxel.ChunkSize, t.ChunkSize)
	}
	if t.RegionSize != voxel.RegionSize {
		return fmt.Errorf("region_size must be %d, got %d", voxel.RegionSize, t.RegionSize)
	}
	for i, o := range t.Terrain.Octaves {
		if o.Scale <= 0 {
			return fmt.Errorf("terrain.octaves[%d].scale must be > 0", i)
		}
	}
	return nil
}

func (t Tuning) SaveInterval() time.Duration {
	return time.Duration(t.SaveIntervalMs) * time.Millisecond
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}
