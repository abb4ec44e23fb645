// Package corroza renders note timelines offline through a polyphonic FM
// synthesizer.
package corroza

import (
	"io"
	"log/slog"
	"os"
	"strings"

	intmidi "github.com/cbegin/corroza-go/internal/midifile"
	intpatch "github.com/cbegin/corroza-go/internal/patch"
	intseq "github.com/cbegin/corroza-go/internal/sequencer"
	intl "github.com/cbegin/corroza-go/internal/timeline"
	intwav "github.com/cbegin/corroza-go/internal/wav"
)

type (
	Config = intseq.Config
	Stats  = intseq.Stats
	Entry  = intl.Entry
	Event  = intseq.Event
)

func DefaultConfig() Config { return intseq.DefaultConfig() }

// LoadPatch applies a Lua patch file on top of base.
func LoadPatch(path string, base Config) (Config, error) {
	return intpatch.Load(path, base)
}

type Option func(*renderConfig)

type renderConfig struct {
	cfg          Config
	logger       *slog.Logger
	onEvent      func(Event)
	sampleTap    func([]float32)
	ticksPerStep int
	maxFrames    int
}

func defaultRenderConfig() renderConfig {
	return renderConfig{cfg: intseq.DefaultConfig()}
}

func WithConfig(cfg Config) Option {
	return func(rc *renderConfig) {
		rc.cfg = cfg
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(rc *renderConfig) {
		rc.logger = l
	}
}

// WithEventHandler installs a callback for pipeline lifecycle events.
func WithEventHandler(fn func(Event)) Option {
	return func(rc *renderConfig) {
		rc.onEvent = fn
	}
}

// WithSampleTap installs a callback invoked with each block a Source
// produces. The callback must not retain the slice.
func WithSampleTap(tap func([]float32)) Option {
	return func(rc *renderConfig) {
		rc.sampleTap = tap
	}
}

// WithTicksPerStep sets how many MIDI ticks make one timeline step when
// reading or writing MIDI files.
func WithTicksPerStep(n int) Option {
	return func(rc *renderConfig) {
		rc.ticksPerStep = n
	}
}

// WithMaxFrames overrides the iteration cap of a render.
func WithMaxFrames(n int) Option {
	return func(rc *renderConfig) {
		rc.maxFrames = n
	}
}

func buildConfig(opts []Option) renderConfig {
	rc := defaultRenderConfig()
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.logger == nil {
		rc.logger = slog.Default()
	}
	return rc
}

func (rc renderConfig) pipeline(entries []Entry) (*intseq.Pipeline, error) {
	return intseq.New(rc.cfg, entries, intseq.Options{
		Logger:    rc.logger,
		OnEvent:   rc.onEvent,
		MaxFrames: rc.maxFrames,
	})
}

// Render plays entries to completion and returns the mono samples.
func Render(entries []Entry, opts ...Option) ([]float32, Stats, error) {
	rc := buildConfig(opts)
	p, err := rc.pipeline(entries)
	if err != nil {
		return nil, Stats{}, err
	}
	out, st := p.Render()
	rc.logger.Debug("render finished", "entries", len(entries), "samples", st.Samples,
		"frames", st.Frames, "trailing", st.TrailingFrames, "truncated", st.Truncated)
	return out, st, nil
}

// ParseTimeline reads the text timeline format.
func ParseTimeline(r io.Reader) ([]Entry, error) {
	return intl.NewParser(intl.DefaultParserConfig()).ParseReader(r)
}

func RenderText(src string, opts ...Option) ([]float32, Stats, error) {
	entries, err := ParseTimeline(strings.NewReader(src))
	if err != nil {
		return nil, Stats{}, err
	}
	return Render(entries, opts...)
}

// ReadMIDI converts a Standard MIDI File to a timeline.
func ReadMIDI(r io.Reader, opts ...Option) ([]Entry, error) {
	rc := buildConfig(opts)
	return intmidi.Read(r, intmidi.Options{TicksPerStep: rc.ticksPerStep, Logger: rc.logger})
}

func RenderMIDI(r io.Reader, opts ...Option) ([]float32, Stats, error) {
	entries, err := ReadMIDI(r, opts...)
	if err != nil {
		return nil, Stats{}, err
	}
	return Render(entries, opts...)
}

// WriteMIDI stores a timeline as a Standard MIDI File.
func WriteMIDI(w io.Writer, entries []Entry, opts ...Option) error {
	rc := buildConfig(opts)
	return intmidi.Write(w, entries, intmidi.Options{TicksPerStep: rc.ticksPerStep})
}

// LoadFile reads a timeline from a text or .mid file, chosen by extension.
func LoadFile(path string, opts ...Option) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if lower := strings.ToLower(path); strings.HasSuffix(lower, ".mid") || strings.HasSuffix(lower, ".midi") {
		return ReadMIDI(f, opts...)
	}
	return ParseTimeline(f)
}

// EncodeWAVFloat32LE builds a mono IEEE float WAV file in memory.
func EncodeWAVFloat32LE(samples []float32, sampleRate int) []byte {
	return intwav.EncodeFloat32LE(samples, sampleRate, 1)
}
