package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/cbegin/corroza-go"
	intaudio "github.com/cbegin/corroza-go/internal/audio"
	intwav "github.com/cbegin/corroza-go/internal/wav"
)

const usage = `usage:
  corroza render [flags] input...
  corroza inspect file.wav...
  corroza export-midi input.txt out.mid`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "render":
		err = runRender(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "export-midi":
		err = runExportMIDI(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Println(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q\n%s", os.Args[1], usage)
	}
	if err != nil {
		slog.Error("corroza failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

type renderFlags struct {
	patch      string
	out        string
	format     string
	midi       bool
	verbose    bool
	sampleRate int
	frameSize  int
	timestep   int
	baseFreq   float64
	modDepth   float64
	gain       float64
	parallel   bool
	jobs       int
	ticks      int
}

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	var f renderFlags
	fs.StringVar(&f.patch, "patch", "", "Lua patch file applied before flags")
	fs.StringVar(&f.out, "o", "", "output path (single input only; - streams raw float32 to stdout)")
	fs.StringVar(&f.format, "format", "pcm16", "output format: pcm16|float32|raw")
	fs.BoolVar(&f.midi, "midi", false, "treat every input as a Standard MIDI File")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
	fs.IntVar(&f.sampleRate, "sample-rate", 0, "override sample rate")
	fs.IntVar(&f.frameSize, "frame", 0, "override frame size in samples")
	fs.IntVar(&f.timestep, "timestep", 0, "override samples per timeline step")
	fs.Float64Var(&f.baseFreq, "base", 0, "override frequency of octave 1 C in Hz")
	fs.Float64Var(&f.modDepth, "depth", -1, "override modulation depth")
	fs.Float64Var(&f.gain, "gain", 0, "override master gain (must be positive)")
	fs.BoolVar(&f.parallel, "parallel", false, "render voices concurrently")
	fs.IntVar(&f.jobs, "j", 0, "concurrent renders (0 = one per input)")
	fs.IntVar(&f.ticks, "ticks-per-step", 0, "MIDI ticks per timeline step (0 = sixteenth note)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := setupLogger(f.verbose)
	inputs := fs.Args()
	if len(inputs) == 0 {
		return errors.New("render: no input files")
	}
	if f.out != "" && len(inputs) > 1 {
		return errors.New("render: -o needs exactly one input")
	}

	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	opts := []corroza.Option{
		corroza.WithConfig(cfg),
		corroza.WithLogger(logger),
		corroza.WithTicksPerStep(f.ticks),
	}

	if f.out == "-" {
		return streamRaw(inputs[0], f.midi, opts)
	}
	var format intwav.Format
	if f.format != "raw" {
		if format, err = intwav.ParseFormat(f.format); err != nil {
			return err
		}
	}

	progress := newProgress(len(inputs))
	var g errgroup.Group
	if f.jobs > 0 {
		g.SetLimit(f.jobs)
	}
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			out := f.out
			if out == "" {
				out = defaultOutput(in, f.format)
			}
			if err := renderOne(in, out, f, format, cfg.Voice.SampleRate, opts); err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			progress.done(out)
			return nil
		})
	}
	err = g.Wait()
	progress.finish()
	return err
}

func resolveConfig(f renderFlags) (corroza.Config, error) {
	cfg := corroza.DefaultConfig()
	if f.patch != "" {
		var err error
		if cfg, err = corroza.LoadPatch(f.patch, cfg); err != nil {
			return cfg, err
		}
	}
	if f.sampleRate > 0 {
		cfg.Voice.SampleRate = f.sampleRate
	}
	if f.frameSize > 0 {
		cfg.FrameSize = f.frameSize
	}
	if f.timestep > 0 {
		cfg.TimestepSamples = f.timestep
	}
	if f.baseFreq > 0 {
		cfg.Voice.BaseFrequency = f.baseFreq
	}
	if f.modDepth >= 0 {
		cfg.Voice.FM.ModDepth = f.modDepth
	}
	if f.gain > 0 {
		cfg.Voice.MasterGain = f.gain
	}
	if f.parallel {
		cfg.Voice.Parallel = true
	}
	return cfg, cfg.Validate()
}

func defaultOutput(in, format string) string {
	base := strings.TrimSuffix(in, filepath.Ext(in))
	if format == "raw" {
		return base + ".f32"
	}
	return base + ".wav"
}

func loadInput(path string, midi bool, opts []corroza.Option) ([]corroza.Entry, error) {
	if !midi {
		return corroza.LoadFile(path, opts...)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return corroza.ReadMIDI(fh, opts...)
}

func renderOne(in, out string, f renderFlags, format intwav.Format, sampleRate int, opts []corroza.Option) error {
	entries, err := loadInput(in, f.midi, opts)
	if err != nil {
		return err
	}
	if f.format == "raw" {
		src, err := corroza.NewSource(entries, opts...)
		if err != nil {
			return err
		}
		fh, err := os.Create(out)
		if err != nil {
			return err
		}
		if _, err := io.Copy(fh, intaudio.NewStreamReader(src)); err != nil {
			fh.Close()
			return err
		}
		return fh.Close()
	}
	samples, st, err := corroza.Render(entries, opts...)
	if err != nil {
		return err
	}
	if st.Truncated {
		slog.Warn("output truncated", "input", in, "samples", st.Samples)
	}
	return intwav.WriteFile(out, samples, sampleRate, format)
}

func streamRaw(in string, midi bool, opts []corroza.Option) error {
	entries, err := loadInput(in, midi, opts)
	if err != nil {
		return err
	}
	src, err := corroza.NewSource(entries, opts...)
	if err != nil {
		return err
	}
	_, err = io.Copy(os.Stdout, intaudio.NewStreamReader(src))
	return err
}

// progress prints a status line to stderr when it is a terminal.
type progress struct {
	total int
	n     atomic.Int32
	tty   bool
}

func newProgress(total int) *progress {
	return &progress{total: total, tty: term.IsTerminal(int(os.Stderr.Fd()))}
}

func (p *progress) done(out string) {
	n := p.n.Add(1)
	if p.tty {
		fmt.Fprintf(os.Stderr, "\r\033[K[%d/%d] %s", n, p.total, out)
		return
	}
	slog.Info("rendered", "output", out)
}

func (p *progress) finish() {
	if p.tty && p.n.Load() > 0 {
		fmt.Fprintln(os.Stderr)
	}
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogger(false)
	if fs.NArg() == 0 {
		return errors.New("inspect: no input files")
	}
	for _, path := range fs.Args() {
		info, err := intwav.InspectFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%s: %d Hz, %d frames, %v, peak %.4f\n",
			path, info.SampleRate, info.Frames, info.Duration(), info.Peak)
	}
	return nil
}

func runExportMIDI(args []string) error {
	fs := flag.NewFlagSet("export-midi", flag.ContinueOnError)
	ticks := fs.Int("ticks-per-step", 0, "MIDI ticks per timeline step (0 = sixteenth note)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogger(false)
	if fs.NArg() != 2 {
		return errors.New("export-midi: want input.txt and out.mid")
	}
	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()
	entries, err := corroza.ParseTimeline(in)
	if err != nil {
		return err
	}
	out, err := os.Create(fs.Arg(1))
	if err != nil {
		return err
	}
	if err := corroza.WriteMIDI(out, entries, corroza.WithTicksPerStep(*ticks)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
