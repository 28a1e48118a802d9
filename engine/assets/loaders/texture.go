package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/anthonynsimon/bild/transform"
	_ "github.com/ftrvxmtrx/tga"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxTextureSize caps the larger texture dimension; bigger images are
// scaled down on load.
const MaxTextureSize = 4096

// Pixels is a decoded RGBA8 image, tightly packed.
type Pixels struct {
	Width  uint32
	Height uint32
	Data   []byte
}

type TextureKind int

const (
	TextureDiffuse TextureKind = iota
	TextureMetallic
	TextureRoughness
	TextureNormal
)

// TextureLoader decodes png, jpeg, bmp, tiff, webp and tga files.
type TextureLoader struct{}

func (tl *TextureLoader) Load(path string) (*Pixels, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode texture %s: %w", path, err)
	}
	if b := img.Bounds(); b.Dx() > MaxTextureSize || b.Dy() > MaxTextureSize {
		w, h := fit(b.Dx(), b.Dy(), MaxTextureSize)
		img = transform.Resize(img, w, h, transform.Linear)
	}
	return ToPixels(img), nil
}

func fit(w, h, limit int) (int, int) {
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

// ToPixels converts any image to tightly packed RGBA8.
func ToPixels(img image.Image) *Pixels {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Pixels{Width: uint32(b.Dx()), Height: uint32(b.Dy()), Data: rgba.Pix}
}

// Placeholder returns the 1x1 texture used when a material slot has no
// loadable image: white for diffuse, a flat tangent-space normal for normal
// maps, mid grey roughness and no metalness.
func Placeholder(kind TextureKind) *Pixels {
	var c [4]byte
	switch kind {
	case TextureNormal:
		c = [4]byte{128, 128, 255, 255}
	case TextureMetallic:
		c = [4]byte{0, 0, 0, 255}
	case TextureRoughness:
		c = [4]byte{128, 128, 128, 255}
	default:
		c = [4]byte{255, 255, 255, 255}
	}
	return &Pixels{Width: 1, Height: 1, Data: c[:]}
}
