package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxelstream.ai/internal/sim/voxel"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return r
}

func TestDefaultCatalog(t *testing.T) {
	r := mustDefault(t)
	for _, name := range []string{"rock", "soil", "wood", "glass", "glowstone", "rock_slab"} {
		if _, ok := r.BlockID(name); !ok {
			t.Fatalf("missing block %s", name)
		}
	}
	if got := r.MaterialsTagged("rock"); len(got) != 1 || r.Material(got[0]).Name != "shale" {
		t.Fatalf("rock materials: %v", got)
	}
}

func TestCatalogSchemaRejectsUnknownKind(t *testing.T) {
	raw := `{"materials":[],"blocks":[{"name":"lava","kind":"liquid"}]}`
	if _, err := FromCatalog([]byte(raw)); err == nil {
		t.Fatalf("expected schema error")
	}
}

func TestLoadFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "catalog.json")
	raw := `{"materials":[{"name":"granite","tags":["rock"]}],"blocks":[{"name":"rock","kind":"rock"}]}`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := voxel.Block{ID: r.MustBlock("rock"), Data: RockData(r.MustMaterial("granite"))}
	if r.TextureIndex(b, voxel.FaceTop) == 0 {
		t.Fatalf("rock texture not registered")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSoilTexturesPerFace(t *testing.T) {
	r := mustDefault(t)
	soil := r.MustBlock("soil")
	loam := r.MustMaterial("loam")
	grass := r.MustMaterial("lush_grass")

	grassy := voxel.Block{ID: soil, Data: SoilData(loam, grass, true)}
	top := r.TextureIndex(grassy, voxel.FaceTop)
	bottom := r.TextureIndex(grassy, voxel.FaceBottom)
	side := r.TextureIndex(grassy, voxel.FaceLeft)
	if top == 0 || bottom == 0 || side == 0 {
		t.Fatalf("unregistered texture top=%d bottom=%d side=%d", top, bottom, side)
	}
	if top == bottom || top == side || bottom == side {
		t.Fatalf("expected three distinct textures, got %d %d %d", top, bottom, side)
	}
	layers := r.TextureLayers()
	if layers[side].Overlay != "grass" || layers[side].OverlayMaterial != "lush_grass" {
		t.Fatalf("side layer: %+v", layers[side])
	}

	bare := voxel.Block{ID: soil, Data: SoilData(loam, 0, false)}
	if r.TextureIndex(bare, voxel.FaceTop) != bottom || r.TextureIndex(bare, voxel.FaceFront) != bottom {
		t.Fatalf("bare soil must use the plain soil texture on every face")
	}
}

func TestValidData(t *testing.T) {
	r := mustDefault(t)
	soil := r.MustBlock("soil")
	loam := r.MustMaterial("loam")
	grass := r.MustMaterial("lush_grass")
	shale := r.MustMaterial("shale")
	oak := r.MustMaterial("oak")

	good := []voxel.Block{
		{ID: soil, Data: SoilData(loam, grass, true)},
		{ID: soil, Data: SoilData(loam, 0, false)},
		{ID: r.MustBlock("rock"), Data: RockData(shale)},
		{ID: r.MustBlock("rock_slab"), Data: SlabData(shale)},
		{ID: r.MustBlock("wood"), Data: WoodData(oak)},
		{ID: r.MustBlock("glass")},
	}
	for _, b := range good {
		if !r.ValidData(b) {
			t.Fatalf("rejected valid block %+v", b)
		}
	}
	bad := []voxel.Block{
		{ID: soil, Data: 0x20000},
		{ID: soil, Data: SoilData(loam, 0, false) | 1<<40},
		{ID: soil, Data: SoilData(grass, grass, true)},
		{ID: r.MustBlock("rock"), Data: RockData(oak)},
		{ID: r.MustBlock("wood"), Data: WoodData(oak) | 1<<20},
		{ID: r.MustBlock("glowstone"), Data: 7},
		{ID: 999},
	}
	for _, b := range bad {
		if r.ValidData(b) {
			t.Fatalf("accepted invalid block %+v", b)
		}
	}

	// Stored data with a broken grass flag still resolves a texture.
	if got := r.TextureIndex(voxel.Block{ID: soil, Data: 0x20000 | voxel.PackedData(loam)}, voxel.FaceTop); got == 0 {
		t.Fatalf("malformed soil has no fallback texture")
	}
}

func TestWoodTextures(t *testing.T) {
	r := mustDefault(t)
	b := voxel.Block{ID: r.MustBlock("wood"), Data: WoodData(r.MustMaterial("oak"))}
	top := r.TextureIndex(b, voxel.FaceTop)
	if top != r.TextureIndex(b, voxel.FaceBottom) {
		t.Fatalf("top and bottom differ")
	}
	if top == r.TextureIndex(b, voxel.FaceRight) {
		t.Fatalf("side should differ from top")
	}
	if !strings.HasSuffix(r.TextureLayers()[top].Name, ":top") {
		t.Fatalf("layer name: %s", r.TextureLayers()[top].Name)
	}
}

func TestBehaviour(t *testing.T) {
	r := mustDefault(t)
	shale := r.MustMaterial("shale")
	rock := voxel.Block{ID: r.MustBlock("rock"), Data: RockData(shale)}
	glass := voxel.Block{ID: r.MustBlock("glass")}
	glow := voxel.Block{ID: r.MustBlock("glowstone")}
	slab := voxel.Block{ID: r.MustBlock("rock_slab"), Data: SlabData(shale)}

	if !r.Opaque(rock) || r.Opaque(glass) || r.Opaque(slab) || !r.Opaque(glow) {
		t.Fatalf("opacity wrong")
	}
	if r.Emission(glow) != 15 || r.Emission(rock) != 0 {
		t.Fatalf("emission wrong")
	}
	if !r.DoubleSided(glass) || r.DoubleSided(rock) {
		t.Fatalf("double-sided wrong")
	}
	if r.OccludesShading(slab) || !r.OccludesShading(rock) {
		t.Fatalf("shading occlusion wrong")
	}
	if _, ok := r.FaceRect(slab, voxel.FaceTop); ok {
		t.Fatalf("slab top must be open")
	}
	side, _ := r.FaceRect(slab, voxel.FaceLeft)
	full, _ := r.FaceRect(rock, voxel.FaceRight)
	if side.Covers(full) || !full.Covers(side) {
		t.Fatalf("coverage wrong")
	}
	if r.Model(slab) == r.Model(rock) {
		t.Fatalf("slab must use its own model")
	}
}

func TestModels(t *testing.T) {
	r := mustDefault(t)
	m := r.Models()
	cube, _ := m.ID("cube")
	slab, _ := m.ID("slab")
	if got := m.VertexIndex(slab, voxel.FaceFront, 0); got != 24 {
		t.Fatalf("slab offset=%d want 24", got)
	}
	if got := m.VertexIndex(cube, voxel.FaceBottom, 3); got != 23 {
		t.Fatalf("cube last vertex=%d", got)
	}
	if n := len(m.Flatten()); n != 48*FloatsPerVertex {
		t.Fatalf("flatten len=%d", n)
	}
	for _, f := range voxel.Faces {
		v := m.Get(cube).Vertices[int(f)*VerticesPerFace]
		n := f.Normal()
		if v.Normal.X() != float32(n.X) || v.Normal.Y() != float32(n.Y) || v.Normal.Z() != float32(n.Z) {
			t.Fatalf("face %v normal %v", f, v.Normal)
		}
	}
}
