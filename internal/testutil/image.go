package testutil

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RenderStatementPNG writes a synthetic statement scan to path: the
// given lines drawn top-down on a white page in a plain bitmap face.
// The rendered text is decoration for the conversion path; parsed text
// always comes from detection fixtures.
func RenderStatementPNG(path string, width, height int, lines ...string) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
	}
	lineHeight := face.Metrics().Height.Ceil() + 4
	for i, line := range lines {
		drawer.Dot = fixed.P(8, 16+i*lineHeight)
		drawer.DrawString(line)
	}

	f, err := os.Create(path) //nolint:gosec // G304: test fixture path
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
