// Package display renders the controller's view onto camera frames.
package display

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MrCodeEU/faceattend/pkg/overlay"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// View is what the controller wants drawn on the current frame.
type View struct {
	Regions []recognition.Rectangle
	Label   string
	Unknown bool
	Overlay overlay.State
}

var (
	boxColor     = color.RGBA{0, 200, 0, 255}
	unknownColor = color.RGBA{220, 0, 0, 255}
	labelColor   = color.RGBA{255, 255, 255, 255}
	barColor     = color.RGBA{0, 0, 0, 160}
	checkColor   = color.RGBA{0, 220, 0, 255}
)

const (
	boxThickness = 2
	barHeight    = 40
	checkSize    = 24
)

// Annotate draws v over img and returns the result as a new image.
func Annotate(img image.Image, v View) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	for _, r := range v.Regions {
		rect := r.ImageRect()
		c := boxColor
		if v.Unknown {
			c = unknownColor
		}
		drawBox(dst, rect, c)

		if v.Label != "" {
			drawLabel(dst, rect, v.Label, c)
		}
	}

	if v.Overlay.Message != "" {
		drawBar(dst, v.Overlay.Message, v.Overlay.Decorated)
	}
	return dst
}

func drawBox(dst *image.RGBA, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxThickness),
		image.Rect(r.Min.X, r.Max.Y-boxThickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxThickness, r.Max.Y),
		image.Rect(r.Max.X-boxThickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text on a filled strip just above r, or inside the top
// of r when there is no room above it.
func drawLabel(dst *image.RGBA, r image.Rectangle, text string, bg color.Color) {
	face := basicfont.Face7x13
	h := face.Metrics().Height.Ceil() + 4
	w := font.MeasureString(face, text).Ceil() + 6

	top := r.Min.Y - h
	if top < 0 {
		top = r.Min.Y
	}
	strip := image.Rect(r.Min.X, top, r.Min.X+w, top+h).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(bg), image.Point{}, draw.Src)

	drawText(dst, text, r.Min.X+3, top+h-4, labelColor)
}

// drawBar draws a translucent strip at the bottom with the message, and a
// check mark before it when decorated.
func drawBar(dst *image.RGBA, message string, decorated bool) {
	b := dst.Bounds()
	bar := image.Rect(b.Min.X, b.Max.Y-barHeight, b.Max.X, b.Max.Y).Intersect(b)
	draw.Draw(dst, bar, image.NewUniform(barColor), image.Point{}, draw.Over)

	x := bar.Min.X + 10
	if decorated {
		drawCheck(dst, image.Pt(x, bar.Min.Y+(barHeight-checkSize)/2))
		x += checkSize + 8
	}

	face := basicfont.Face7x13
	baseline := bar.Min.Y + (barHeight+face.Metrics().Ascent.Ceil())/2
	drawText(dst, message, x, baseline, labelColor)
}

// drawCheck draws a check mark inside a checkSize square at origin.
func drawCheck(dst *image.RGBA, origin image.Point) {
	src := image.NewUniform(checkColor)
	// Short stroke down-right, then long stroke up-right.
	drawLine(dst, origin.Add(image.Pt(2, checkSize/2)), origin.Add(image.Pt(checkSize/3, checkSize-4)), src)
	drawLine(dst, origin.Add(image.Pt(checkSize/3, checkSize-4)), origin.Add(image.Pt(checkSize-2, 3)), src)
}

func drawLine(dst *image.RGBA, from, to image.Point, src image.Image) {
	dx, dy := to.X-from.X, to.Y-from.Y
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		x := from.X + dx*i/steps
		y := from.Y + dy*i/steps
		dot := image.Rect(x-1, y-1, x+2, y+2).Intersect(dst.Bounds())
		draw.Draw(dst, dot, src, image.Point{}, draw.Src)
	}
}

func drawText(dst *image.RGBA, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
