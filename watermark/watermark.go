// Package watermark stamps a visible attribution line onto generated images.
package watermark

import (
	"image"
	"image/color"
	"image/draw"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Defaults for Options.
const (
	DefaultText     = "© AI-Generated image by CAP-C6-Group_3"
	DefaultOpacity  = 160
	DefaultFontPath = "arial.ttf"

	// MinFontSize is the smallest font size in pixels; wider images scale up
	// at one pixel per 30 pixels of width.
	MinFontSize = 24
)

// Font source names reported by Stamper.FontSource.
const (
	SourceFile  = "file"
	SourceGo    = "go-regular"
	SourceBasic = "basic"
)

// Options configures a Stamper. Zero values select the defaults above.
type Options struct {
	Text     string
	Opacity  int // 0-255 alpha of the white text
	FontPath string
}

// Stamper draws the watermark. The font is resolved once; a missing or
// unreadable font file falls back to Go Regular, then to a bitmap face.
// Stamper is safe for concurrent use; stamping is serialized.
type Stamper struct {
	text    string
	opacity uint8

	font     *opentype.Font
	source   string
	fontPath string

	mu    sync.Mutex
	faces map[int]font.Face
}

// New resolves the font and returns a Stamper. It never fails.
func New(opts Options) *Stamper {
	if opts.Text == "" {
		opts.Text = DefaultText
	}
	if opts.Opacity <= 0 || opts.Opacity > 255 {
		opts.Opacity = DefaultOpacity
	}
	if opts.FontPath == "" {
		opts.FontPath = DefaultFontPath
	}

	s := &Stamper{
		text:    opts.Text,
		opacity: uint8(opts.Opacity),
		faces:   make(map[int]font.Face),
	}

	if path := findFont(opts.FontPath); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if f, err := opentype.Parse(data); err == nil {
				s.font, s.source, s.fontPath = f, SourceFile, path
				return s
			}
		}
	}
	if f, err := opentype.Parse(goregular.TTF); err == nil {
		s.font, s.source = f, SourceGo
		return s
	}
	s.source = SourceBasic
	return s
}

// FontSource reports which font is in use: SourceFile, SourceGo or SourceBasic.
func (s *Stamper) FontSource() string {
	return s.source
}

// FontPath is the resolved font file, or "" when a fallback is in use.
func (s *Stamper) FontPath() string {
	return s.fontPath
}

// FontSize returns the font size used for an image of the given width.
func FontSize(width int) int {
	return max(MinFontSize, width/30)
}

// Stamp returns an opaque copy of img with the text drawn in the
// bottom-right corner, inset by half the font size.
func (s *Stamper) Stamp(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	size := FontSize(b.Dx())
	padding := size / 2

	// opentype faces keep internal buffers and must not be shared across goroutines.
	s.mu.Lock()
	defer s.mu.Unlock()
	face := s.face(size)

	ink, _ := font.BoundString(face, s.text)
	textW := (ink.Max.X - ink.Min.X).Ceil()
	textH := (ink.Max.Y - ink.Min.Y).Ceil()

	// Place the ink box, then shift by its offset from the dot.
	left := b.Dx() - textW - padding
	top := b.Dy() - textH - padding
	dot := fixed.Point26_6{
		X: fixed.I(left) - ink.Min.X,
		Y: fixed.I(top) - ink.Min.Y,
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: s.opacity}),
		Face: face,
		Dot:  dot,
	}
	d.DrawString(s.text)

	flatten(dst)
	return dst
}

// face returns a cached face for size. Callers hold s.mu.
func (s *Stamper) face(size int) font.Face {
	if s.font == nil {
		return basicfont.Face7x13
	}
	if f, ok := s.faces[size]; ok {
		return f
	}
	f, err := opentype.NewFace(s.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	s.faces[size] = f
	return f
}

// flatten drops transparency, keeping each pixel's straight colour.
func flatten(img *image.RGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		a := img.Pix[i+3]
		if a == 0xff {
			continue
		}
		if a == 0 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 0, 0, 0
		} else {
			img.Pix[i] = uint8(uint32(img.Pix[i]) * 0xff / uint32(a))
			img.Pix[i+1] = uint8(uint32(img.Pix[i+1]) * 0xff / uint32(a))
			img.Pix[i+2] = uint8(uint32(img.Pix[i+2]) * 0xff / uint32(a))
		}
		img.Pix[i+3] = 0xff
	}
}

// fontDirs are searched for a bare font file name, mirroring how desktop
// toolkits resolve "arial.ttf".
var fontDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
	"/Library/Fonts",
	"/System/Library/Fonts",
	`C:\Windows\Fonts`,
}

// findFont returns an existing file for name, or "" when none is found.
// Paths with a directory component are used as given; bare names are also
// looked up case-insensitively under fontDirs and ~/.fonts.
func findFont(name string) string {
	if fi, err := os.Stat(name); err == nil && !fi.IsDir() {
		return name
	}
	if filepath.Base(name) != name {
		return ""
	}

	dirs := fontDirs
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{filepath.Join(home, ".fonts"), filepath.Join(home, ".local", "share", "fonts")}, dirs...)
	}

	for _, dir := range dirs {
		var found string
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fs.SkipDir
			}
			if !d.IsDir() && strings.EqualFold(d.Name(), name) {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if found != "" {
			return found
		}
	}
	return ""
}
