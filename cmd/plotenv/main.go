package main

import (
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"math"
	"os"

	"github.com/cbegin/corroza-go/internal/envelope"
	"github.com/cbegin/corroza-go/internal/fm"
	"github.com/cbegin/corroza-go/internal/generator"
)

func main() {
	var (
		attack     = flag.Int("attack", 100, "attack samples")
		decay      = flag.Int("decay", 200, "decay samples")
		sustain    = flag.Float64("sustain", 0.7, "sustain level")
		release    = flag.Int("release", 300, "release samples")
		noteOff    = flag.Int("note-off", 640, "sample at which the key is released (-1 = never)")
		frameSize  = flag.Int("frame", 64, "frame size in samples")
		sampleRate = flag.Int("sample-rate", 44100, "sample rate")
		freq       = flag.Float64("freq", 440, "oscillator frequency in Hz")
		depth      = flag.Float64("depth", 1, "modulation depth")
		fadeMs     = flag.Float64("fade-ms", 5, "fade-in applied to the oscillator trace in ms")
		width      = flag.Int("width", 1200, "image width")
		height     = flag.Int("height", 400, "image height")
		out        = flag.String("o", "envelope.png", "output PNG path")
	)
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *frameSize <= 0 || *sustain < 0 || *sustain > 1 {
		fatal("frame must be positive and sustain within [0, 1]")
	}
	params := envelope.Params{
		Attack:  *attack,
		Decay:   *decay,
		Sustain: *sustain,
		Release: *release,
	}
	// sustain well past the release point
	params.SustainMax = max(*noteOff, 0) + 10*max(*release, 1)
	fmParams := fm.DefaultParams()
	fmParams.ModDepth = *depth
	tr, err := run(plotArgs{
		env:       params,
		noteOff:   *noteOff,
		frameSize: *frameSize,
		inc:       2 * math.Pi * *freq / float64(*sampleRate),
		fm:        fmParams,
		fade:      generator.NewRampMillis(*fadeMs, *sampleRate),
		limit:     params.Normalize().TotalSamples() + 2**frameSize,
	})
	if err != nil {
		fatal(err.Error())
	}
	if err := checkContinuity(tr.env); err != nil {
		slog.Warn("envelope check failed", "err", err)
	}

	title := fmt.Sprintf("A=%d D=%d S=%.2f R=%d off=%d frame=%d", *attack, *decay, *sustain, *release, *noteOff, *frameSize)
	img := plot(tr, *width, *height, title)
	f, err := os.Create(*out)
	if err != nil {
		fatal(err.Error())
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		fatal(err.Error())
	}
	if err := f.Close(); err != nil {
		fatal(err.Error())
	}
	slog.Info("plot written", "path", *out, "samples", len(tr.env))
}

func fatal(msg string) {
	slog.Error(msg)
	os.Exit(1)
}
