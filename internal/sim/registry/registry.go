package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelstream.ai/internal/sim/voxel"
)

//go:embed catalog.json
var defaultCatalog []byte

//go:embed catalog.schema.json
var catalogSchema string

type MaterialID uint16

type Material struct {
	Name    string   `json:"name"`
	Tags    []string `json:"tags"`
	Palette []string `json:"palette,omitempty"`
}

func (m Material) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type BlockType struct {
	ID   voxel.BlockID
	Name string
	Kind Kind
}

// TextureLayer describes one entry of the renderer's texture array. The
// renderer tints Image with the material palette and composites Overlay on top.
type TextureLayer struct {
	Name            string `json:"name"`
	Image           string `json:"image"`
	Material        string `json:"material,omitempty"`
	Overlay         string `json:"overlay,omitempty"`
	OverlayMaterial string `json:"overlay_material,omitempty"`
}

type catalogFile struct {
	Materials []Material `json:"materials"`
	Blocks    []struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	} `json:"blocks"`
}

// Registry is built once at startup and is read-only afterwards, so it can be
// shared by every worker without locking.
type Registry struct {
	materials   []Material
	materialIDs map[string]MaterialID

	blocks   []BlockType
	blockIDs map[string]voxel.BlockID

	textures map[voxel.Block]uint32
	layers   []TextureLayer

	models *Models
	cube   ModelID
	slab   ModelID
}

// Default builds the registry from the embedded catalog.
func Default() (*Registry, error) {
	return FromCatalog(defaultCatalog)
}

// Load reads a catalog file; an empty path selects the embedded catalog.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := FromCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func FromCatalog(raw []byte) (*Registry, error) {
	schema, err := jsonschema.CompileString("catalog.schema.json", catalogSchema)
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	var cat catalogFile
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	r := &Registry{
		materialIDs: map[string]MaterialID{},
		blockIDs:    map[string]voxel.BlockID{},
		textures:    map[voxel.Block]uint32{},
		models:      newModels(),
	}
	// Layer 0 is shown for blocks without a registered texture.
	r.layers = append(r.layers, TextureLayer{Name: "missing", Image: "missing"})

	if r.cube, err = r.models.register(CubeModel()); err != nil {
		return nil, err
	}
	if r.slab, err = r.models.register(SlabModel()); err != nil {
		return nil, err
	}

	for _, m := range cat.Materials {
		if _, dup := r.materialIDs[m.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate material %q", m.Name)
		}
		r.materialIDs[m.Name] = MaterialID(len(r.materials))
		r.materials = append(r.materials, m)
	}
	for _, b := range cat.Blocks {
		if _, dup := r.blockIDs[b.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate block %q", b.Name)
		}
		kind, ok := parseKind(b.Kind)
		if !ok {
			return nil, fmt.Errorf("catalog: block %q: unknown kind %q", b.Name, b.Kind)
		}
		bt := BlockType{ID: voxel.BlockID(len(r.blocks)), Name: b.Name, Kind: kind}
		r.blockIDs[b.Name] = bt.ID
		r.blocks = append(r.blocks, bt)
		r.registerTextures(bt)
	}
	return r, nil
}

func (r *Registry) addLayer(key voxel.Block, layer TextureLayer) {
	r.textures[key] = uint32(len(r.layers))
	r.layers = append(r.layers, layer)
}

func (r *Registry) BlockID(name string) (voxel.BlockID, bool) {
	id, ok := r.blockIDs[name]
	return id, ok
}

// MustBlock panics on unknown names; for wiring code with fixed catalogs.
func (r *Registry) MustBlock(name string) voxel.BlockID {
	id, ok := r.blockIDs[name]
	if !ok {
		panic(fmt.Sprintf("registry: unknown block %q", name))
	}
	return id
}

func (r *Registry) MaterialID(name string) (MaterialID, bool) {
	id, ok := r.materialIDs[name]
	return id, ok
}

func (r *Registry) MustMaterial(name string) MaterialID {
	id, ok := r.materialIDs[name]
	if !ok {
		panic(fmt.Sprintf("registry: unknown material %q", name))
	}
	return id
}

func (r *Registry) Material(id MaterialID) Material { return r.materials[id] }

// MaterialsTagged lists material ids carrying tag, in registration order.
func (r *Registry) MaterialsTagged(tag string) []MaterialID {
	var out []MaterialID
	for i, m := range r.materials {
		if m.HasTag(tag) {
			out = append(out, MaterialID(i))
		}
	}
	return out
}

func (r *Registry) Blocks() []BlockType { return r.blocks }

func (r *Registry) Type(id voxel.BlockID) (BlockType, bool) {
	if int(id) >= len(r.blocks) {
		return BlockType{}, false
	}
	return r.blocks[id], true
}

func (r *Registry) Models() *Models { return r.models }

func (r *Registry) TextureLayers() []TextureLayer { return r.layers }
