package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/cbegin/corroza-go/internal/envelope"
	"github.com/cbegin/corroza-go/internal/fm"
	"github.com/cbegin/corroza-go/internal/generator"
)

const discontinuityThreshold = 0.15

type trace struct {
	env    []float32
	osc    []float32 // oscillator output with the fade-in applied
	fade   []float32
	phases []envelope.Phase // one per sample
}

type plotArgs struct {
	env       envelope.Params
	noteOff   int
	frameSize int
	inc       float64
	fm        fm.Params
	fade      *generator.Ramp // nil = no fade-in
	limit     int
}

// run renders one note frame by frame until every generator completes. The
// release is queued in the frame that contains noteOff.
func run(a plotArgs) (trace, error) {
	var tr trace
	ampEnv := envelope.New(a.env)
	osc, err := fm.New(a.fm.WithPhaseIncrement(a.inc), envelope.New(a.env), envelope.New(a.env))
	if err != nil {
		return tr, err
	}
	fade := a.fade
	if fade == nil {
		fade = generator.NewRamp(1)
	}
	gens := []generator.Generator{ampEnv, osc, fade}
	outs := []*[]float32{&tr.env, &tr.osc, &tr.fade}
	bufs := make([][]float32, len(gens))
	for i := range bufs {
		bufs[i] = make([]float32, a.frameSize)
	}
	released := false
	for pos := 0; ; pos += a.frameSize {
		if !released && a.noteOff >= 0 && a.noteOff < pos+a.frameSize {
			ampEnv.NoteOff()
			osc.NoteOff()
			released = true
		}
		complete := true
		for i, g := range gens {
			if g.Process(bufs[i]) != generator.Complete {
				complete = false
			}
		}
		oscBuf, fadeBuf := bufs[1], bufs[2]
		for i := range oscBuf {
			oscBuf[i] *= fadeBuf[i]
		}
		for i := range gens {
			*outs[i] = append(*outs[i], bufs[i]...)
		}
		for j := 0; j < a.frameSize; j++ {
			tr.phases = append(tr.phases, ampEnv.Phase())
		}
		if complete {
			return tr, nil
		}
		if len(tr.env) > a.limit {
			return tr, fmt.Errorf("envelope ran past %d samples", a.limit)
		}
	}
}

var errDiscontinuity = errors.New("discontinuity")

// checkContinuity reports the first step between neighbouring samples larger
// than the threshold.
func checkContinuity(s []float32) error {
	for i := 1; i < len(s); i++ {
		if d := s[i] - s[i-1]; d > discontinuityThreshold || -d > discontinuityThreshold {
			return fmt.Errorf("%w at sample %d: %v -> %v", errDiscontinuity, i, s[i-1], s[i])
		}
	}
	return nil
}

var phaseColors = map[envelope.Phase]color.RGBA{
	envelope.Attack:   {0xfd, 0xe7, 0xc8, 0xff},
	envelope.Decay:    {0xd9, 0xec, 0xd0, 0xff},
	envelope.Sustain:  {0xd4, 0xe4, 0xf7, 0xff},
	envelope.Release:  {0xf1, 0xd4, 0xe9, 0xff},
	envelope.Complete: {0xee, 0xee, 0xee, 0xff},
}

var (
	envColor  = color.RGBA{0x1f, 0x4e, 0xb4, 0xff}
	fadeColor = color.RGBA{0xc0, 0x60, 0x10, 0xff}
	oscColor  = color.RGBA{0x80, 0x80, 0x80, 0xff}
	axisColor = color.RGBA{0x30, 0x30, 0x30, 0xff}
)

const margin = 24

// plot draws the oscillator output, the amplitude envelope and labelled
// phase bands. The y axis spans [-1, 1].
func plot(tr trace, width, height int, title string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	n := len(tr.env)
	if n == 0 {
		return img
	}
	plotW, plotH := width-2*margin, height-2*margin
	xOf := func(i int) int { return margin + i*(plotW-1)/max(n-1, 1) }
	yOf := func(v float32) int { return margin + int(float32(plotH-1)*(1-v)/2) }

	// phase bands
	start := 0
	for i := 1; i <= n; i++ {
		if i < n && tr.phases[i] == tr.phases[start] {
			continue
		}
		band := image.Rect(xOf(start), margin, xOf(i-1)+1, margin+plotH)
		draw.Draw(img, band, &image.Uniform{phaseColors[tr.phases[start]]}, image.Point{}, draw.Src)
		label(img, band.Min.X+2, margin+13, tr.phases[start].String())
		start = i
	}
	for x := margin; x < margin+plotW; x++ {
		img.Set(x, yOf(0), axisColor)
	}
	for i := 1; i < n; i++ {
		line(img, xOf(i-1), yOf(tr.osc[i-1]), xOf(i), yOf(tr.osc[i]), oscColor)
	}
	for i := 1; i < n; i++ {
		line(img, xOf(i-1), yOf(tr.fade[i-1]), xOf(i), yOf(tr.fade[i]), fadeColor)
	}
	for i := 1; i < n; i++ {
		line(img, xOf(i-1), yOf(tr.env[i-1]), xOf(i), yOf(tr.env[i]), envColor)
	}
	label(img, margin, margin-8, title)
	label(img, margin, height-6, fmt.Sprintf("0 .. %d samples", n))
	return img
}

func label(img draw.Image, x, y int, s string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(axisColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// line draws with Bresenham's algorithm.
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
