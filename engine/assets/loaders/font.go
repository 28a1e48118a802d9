package loaders

import (
	"github.com/fzipp/bmfont"
)

type Glyph struct {
	X, Y          int
	Width, Height int
	XOffset       int
	YOffset       int
	XAdvance      int
	Page          int
}

// Font is an AngelCode bitmap font: glyph rectangles inside atlas pages.
type Font struct {
	Face       string
	Size       int
	LineHeight int
	Base       int
	AtlasW     int
	AtlasH     int
	Pages      []string
	Glyphs     map[rune]Glyph
	Kernings   map[[2]rune]int
}

// FontLoader reads .fnt descriptors.
type FontLoader struct{}

func (fl *FontLoader) Load(path string) (*Font, error) {
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, err
	}
	d := font.Descriptor
	out := &Font{
		Face:       d.Info.Face,
		Size:       int(d.Info.Size),
		LineHeight: int(d.Common.LineHeight),
		Base:       int(d.Common.Base),
		AtlasW:     int(d.Common.ScaleW),
		AtlasH:     int(d.Common.ScaleH),
		Glyphs:     make(map[rune]Glyph, len(d.Chars)),
		Kernings:   make(map[[2]rune]int, len(d.Kerning)),
	}
	for _, p := range d.Pages {
		for len(out.Pages) <= int(p.ID) {
			out.Pages = append(out.Pages, "")
		}
		out.Pages[int(p.ID)] = p.File
	}
	for _, g := range d.Chars {
		out.Glyphs[rune(g.ID)] = Glyph{
			X:        int(g.X),
			Y:        int(g.Y),
			Width:    int(g.Width),
			Height:   int(g.Height),
			XOffset:  int(g.XOffset),
			YOffset:  int(g.YOffset),
			XAdvance: int(g.XAdvance),
			Page:     int(g.Page),
		}
	}
	for pair, k := range d.Kerning {
		out.Kernings[[2]rune{rune(pair.First), rune(pair.Second)}] = int(k.Amount)
	}
	return out, nil
}

// Quad is one glyph placed on screen, in pixels, with its atlas UVs.
type Quad struct {
	X0, Y0, X1, Y1 float32
	U0, V0, U1, V1 float32
}

// Layout places text with its top-left corner at (x, y). Newlines start a new
// line; runes missing from the font are skipped.
func (f *Font) Layout(text string, x, y float32) []Quad {
	quads := make([]Quad, 0, len(text))
	cx, cy := x, y
	var prev rune
	for _, r := range text {
		if r == '\n' {
			cx, cy, prev = x, cy+float32(f.LineHeight), 0
			continue
		}
		g, ok := f.Glyphs[r]
		if !ok {
			continue
		}
		if prev != 0 {
			cx += float32(f.Kernings[[2]rune{prev, r}])
		}
		if g.Width > 0 && g.Height > 0 {
			x0 := cx + float32(g.XOffset)
			y0 := cy + float32(g.YOffset)
			quads = append(quads, Quad{
				X0: x0, Y0: y0,
				X1: x0 + float32(g.Width), Y1: y0 + float32(g.Height),
				U0: float32(g.X) / float32(f.AtlasW), V0: float32(g.Y) / float32(f.AtlasH),
				U1: float32(g.X+g.Width) / float32(f.AtlasW), V1: float32(g.Y+g.Height) / float32(f.AtlasH),
			})
		}
		cx += float32(g.XAdvance)
		prev = r
	}
	return quads
}
