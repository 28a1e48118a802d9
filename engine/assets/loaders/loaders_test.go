package loaders

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestTextureLoaderDecodesToRGBA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checker.png")
	writePNG(t, path, 4, 3)

	px, err := (&TextureLoader{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), px.Width)
	assert.Equal(t, uint32(3), px.Height)
	require.Len(t, px.Data, 4*3*4)
	// pixel (2, 1)
	off := (1*4 + 2) * 4
	assert.Equal(t, []byte{255, 2, 1, 255}, px.Data[off:off+4])
}

func TestTextureLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := (&TextureLoader{}).Load(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	bogus := filepath.Join(dir, "bogus.png")
	require.NoError(t, os.WriteFile(bogus, []byte("not an image"), 0o644))
	_, err = (&TextureLoader{}).Load(bogus)
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	w, h := fit(8192, 2048, 4096)
	assert.Equal(t, 4096, w)
	assert.Equal(t, 1024, h)
	w, h = fit(100, 10000, 4096)
	assert.Equal(t, 40, w)
	assert.Equal(t, 4096, h)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []byte{255, 255, 255, 255}, Placeholder(TextureDiffuse).Data)
	n := Placeholder(TextureNormal)
	assert.Equal(t, uint32(1), n.Width)
	assert.Equal(t, []byte{128, 128, 255, 255}, n.Data)
}

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.vert.spv")
	require.NoError(t, os.WriteFile(path, []byte{0x03, 0x02, 0x23, 0x07}, 0o644))

	data, err := (&ShaderLoader{}).Load(path)
	require.NoError(t, err)
	assert.Len(t, data, 4)

	empty := filepath.Join(dir, "empty.frag.spv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = (&ShaderLoader{}).Load(empty)
	assert.Error(t, err)
}

func TestFontLayout(t *testing.T) {
	f := &Font{
		LineHeight: 20,
		AtlasW:     64,
		AtlasH:     32,
		Glyphs: map[rune]Glyph{
			'A': {X: 0, Y: 0, Width: 8, Height: 16, XAdvance: 10},
			'B': {X: 8, Y: 0, Width: 8, Height: 16, XOffset: 1, YOffset: 2, XAdvance: 10},
			' ': {XAdvance: 5},
		},
		Kernings: map[[2]rune]int{{'A', 'B'}: -2},
	}

	quads := f.Layout("AB A\nB?", 100, 50)
	require.Len(t, quads, 4)
	assert.Equal(t, Quad{X0: 100, Y0: 50, X1: 108, Y1: 66, U0: 0, V0: 0, U1: 0.125, V1: 0.5}, quads[0])
	assert.Equal(t, float32(109), quads[1].X0, "kerning and offset applied")
	assert.Equal(t, float32(52), quads[1].Y0)
	assert.Equal(t, float32(123), quads[2].X0)
	assert.Equal(t, float32(101), quads[3].X0)
	assert.Equal(t, float32(72), quads[3].Y0)
}

const cubeFace = `# quad split across two materials
mtllib quad.mtl
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
usemtl red
f 1/1/1 2/2/1 3/3/1 4/4/1
usemtl blue
f -4/-4/-1 -2/-2/-1 -1/-1/-1
`

const quadMtl = `newmtl red
map_Kd red.png
newmtl blue
map_Kd blue.png
map_Bump blue_n.png
`

func TestObjLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quad.obj")
	require.NoError(t, os.WriteFile(path, []byte(cubeFace), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quad.mtl"), []byte(quadMtl), 0o644))

	meshes, mats, err := (&ObjLoader{}).LoadModel(path)
	require.NoError(t, err)
	require.Len(t, meshes, 2)

	red := meshes[0]
	assert.Equal(t, "red", red.Name)
	assert.Equal(t, 0, red.MaterialIndex)
	assert.Len(t, red.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, red.Indices)
	assert.Equal(t, float32(1), red.Vertices[2].Position.Y)
	assert.Equal(t, float32(0), red.Vertices[2].UV.Y, "v is flipped")
	assert.Equal(t, float32(1), red.Vertices[0].Normal.Z)

	blue := meshes[1]
	assert.Equal(t, 1, blue.MaterialIndex)
	assert.Equal(t, []uint32{0, 1, 2}, blue.Indices)
	assert.Equal(t, float32(0), blue.Vertices[0].Position.X)

	assert.Equal(t, []string{"red", "blue"}, mats.Names)
	assert.Equal(t, filepath.Join(dir, "blue.png"), mats.Diffuse[1])
	assert.Equal(t, filepath.Join(dir, "blue_n.png"), mats.Normal[1])
	assert.Equal(t, "", mats.Normal[0])
}

func TestObjLoaderRejectsBadIndices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.obj")
	require.NoError(t, os.WriteFile(path, []byte("v 0 0 0\nf 1 2 3\n"), 0o644))
	_, _, err := (&ObjLoader{}).LoadModel(path)
	assert.Error(t, err)
}
