package sequencer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/cbegin/corroza-go/internal/timeline"
	"github.com/cbegin/corroza-go/internal/voice"
)

var (
	ErrInvalidConfig = errors.New("sequencer: invalid config")
	// ErrTimelineRange is returned for a timeline with a negative delta or
	// one whose sample span does not fit MaxTimelineSamples.
	ErrTimelineRange = errors.New("sequencer: timeline out of range")
)

// MaxTimelineSamples bounds the summed sample offset of a timeline.
const MaxTimelineSamples = math.MaxInt / 4

// VoiceEngine receives dispatched note events and renders frames.
// *voice.Manager is the production implementation.
type VoiceEngine interface {
	HandleEvent(n timeline.Note, dir timeline.Direction)
	ProcessFrame(buf []float32)
	// Active reports whether any voice is still sounding, release tails
	// included.
	Active() bool
	AllNotesOff()
}

// EventKind identifies pipeline lifecycle events.
type EventKind int

const (
	EventEntryDispatched EventKind = iota
	EventPlaybackEnded
	EventTruncated
)

type Event struct {
	Kind   EventKind
	Sample int // absolute sample position of the frame
	Index  int // timeline entry, for EventEntryDispatched
}

type Config struct {
	FrameSize       int
	TimestepSamples int // samples per timeline delta unit
	// TrailingFrames is how many frames Render appends after the main loop,
	// flushing release tails and padding the end with silence.
	TrailingFrames int
	Voice          voice.Config
}

func DefaultConfig() Config {
	return Config{
		FrameSize:       64,
		TimestepSamples: 1000,
		TrailingFrames:  10,
		Voice:           voice.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.FrameSize <= 0 {
		return fmt.Errorf("%w: frame size %d", ErrInvalidConfig, c.FrameSize)
	}
	if c.TimestepSamples <= 0 {
		return fmt.Errorf("%w: timestep %d", ErrInvalidConfig, c.TimestepSamples)
	}
	if c.TrailingFrames < 0 {
		return fmt.Errorf("%w: trailing frames %d", ErrInvalidConfig, c.TrailingFrames)
	}
	return c.Voice.Validate()
}

type Options struct {
	Logger  *slog.Logger
	OnEvent func(Event)
	// MaxFrames overrides the computed iteration cap of Render (0 = derive
	// it from the timeline and envelope lengths).
	MaxFrames int
}

// capSlackFrames is added on top of the derived cap.
const capSlackFrames = 1000

// Cursor tracks scheduling progress through one render pass.
type Cursor struct {
	Sample    int // absolute sample position of the next frame
	Index     int // next timeline entry to dispatch
	Countdown int // samples until entry Index is due
}

// Pipeline converts timeline deltas to sample offsets and drives a voice
// engine frame by frame.
type Pipeline struct {
	cfg     Config
	entries []timeline.Entry
	engine  VoiceEngine
	cursor  Cursor
	logger  *slog.Logger
	onEvent func(Event)
	cap     int
	ended   bool
	// render pass state
	stats    Stats
	draining bool
}

// New validates cfg and builds a pipeline over its own voice manager.
func New(cfg Config, entries []timeline.Entry, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := voice.NewManager(cfg.Voice, voice.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return NewWithEngine(cfg, entries, m, opts)
}

// NewWithEngine builds a pipeline that dispatches to engine. Only the frame
// and timestep settings of cfg are checked.
func NewWithEngine(cfg Config, entries []timeline.Entry, engine VoiceEngine, opts Options) (*Pipeline, error) {
	if cfg.FrameSize <= 0 || cfg.TimestepSamples <= 0 || cfg.TrailingFrames < 0 {
		return nil, fmt.Errorf("%w: frame %d timestep %d trailing %d",
			ErrInvalidConfig, cfg.FrameSize, cfg.TimestepSamples, cfg.TrailingFrames)
	}
	span, err := timelineSpan(entries, cfg.TimestepSamples)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		entries: entries,
		engine:  engine,
		logger:  opts.Logger,
		onEvent: opts.OnEvent,
		cap:     opts.MaxFrames,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.cap <= 0 {
		p.cap = p.deriveCap(span)
	}
	p.cursor = p.start()
	return p, nil
}

func (p *Pipeline) start() Cursor {
	var c Cursor
	if len(p.entries) > 0 {
		c.Countdown = p.entries[0].Delta * p.cfg.TimestepSamples
	}
	return c
}

// timelineSpan returns the sample offset of the last entry.
func timelineSpan(entries []timeline.Entry, timestep int) (int, error) {
	total := 0
	for i, e := range entries {
		if e.Delta < 0 || e.Delta > (MaxTimelineSamples-total)/timestep {
			return 0, fmt.Errorf("%w: entry %d has delta %d at %d samples per step",
				ErrTimelineRange, i, e.Delta, timestep)
		}
		total += e.Delta * timestep
	}
	return total, nil
}

// deriveCap sizes the iteration cap from the timeline span, the longest
// envelope a voice can run and the per-entry frame quantisation. It
// saturates at math.MaxInt.
func (p *Pipeline) deriveCap(span int) int {
	samples := satAdd(span, max(p.cfg.Voice.LongestEnvelope(), 0))
	frames := samples/p.cfg.FrameSize + 1
	if samples%p.cfg.FrameSize == 0 {
		frames--
	}
	return satAdd(satAdd(frames, len(p.entries)), capSlackFrames)
}

// satAdd adds two non-negative ints, saturating at math.MaxInt.
func satAdd(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func (p *Pipeline) Config() Config { return p.cfg }

// Cursor returns a copy of the scheduling state.
func (p *Pipeline) Cursor() Cursor { return p.cursor }

// MaxFrames is the iteration cap Render enforces.
func (p *Pipeline) MaxFrames() int { return p.cap }

// Active reports whether timeline entries remain or any voice is sounding.
func (p *Pipeline) Active() bool {
	return p.cursor.Index < len(p.entries) || p.engine.Active()
}

// Reset rewinds to the start of the timeline and begins a new render pass.
// Voices still sounding are released, not cut.
func (p *Pipeline) Reset() {
	p.engine.AllNotesOff()
	p.cursor = p.start()
	p.ended = false
	p.stats = Stats{}
	p.draining = false
}

// ProcessFrame dispatches every entry due at this frame, renders the frame
// into buf and advances time by len(buf) samples.
func (p *Pipeline) ProcessFrame(buf []float32) {
	p.dispatchDue(&p.cursor)
	p.engine.ProcessFrame(buf)
	p.advance(&p.cursor, len(buf))
	if !p.ended && !p.Active() {
		p.ended = true
		p.emit(Event{Kind: EventPlaybackEnded, Sample: p.cursor.Sample})
	}
}

func (p *Pipeline) dispatchDue(c *Cursor) {
	for c.Index < len(p.entries) && c.Countdown <= 0 {
		for _, ev := range p.entries[c.Index].Events {
			p.engine.HandleEvent(ev.Note, ev.Direction)
		}
		p.emit(Event{Kind: EventEntryDispatched, Sample: c.Sample, Index: c.Index})
		c.Index++
		if c.Index < len(p.entries) {
			c.Countdown = p.entries[c.Index].Delta * p.cfg.TimestepSamples
		}
	}
}

func (p *Pipeline) advance(c *Cursor, n int) {
	c.Sample += n
	c.Countdown = max(c.Countdown-n, 0)
}

func (p *Pipeline) emit(ev Event) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

type Stats struct {
	Frames         int // frames rendered by the main loop
	TrailingFrames int
	Samples        int
	Truncated      bool
}

// Stats reports progress of the current render pass.
func (p *Pipeline) Stats() Stats { return p.stats }

// Next renders the next frame of a full render pass into buf and reports
// false once the pass is over. The main loop runs while the pipeline is
// active, up to the iteration cap; the trailing frames follow. A truncated
// pass drops the pending entries and releases every voice before the
// trailing frames.
func (p *Pipeline) Next(buf []float32) bool {
	if !p.draining && p.Active() && p.stats.Frames < p.cap {
		p.ProcessFrame(buf)
		p.stats.Frames++
		p.stats.Samples += len(buf)
		return true
	}
	if !p.draining {
		p.drain()
	}
	if p.stats.TrailingFrames >= p.cfg.TrailingFrames {
		return false
	}
	p.ProcessFrame(buf)
	p.stats.TrailingFrames++
	p.stats.Samples += len(buf)
	return true
}

// Done reports whether Next has produced the last frame of the pass.
func (p *Pipeline) Done() bool {
	return p.draining && p.stats.TrailingFrames >= p.cfg.TrailingFrames
}

func (p *Pipeline) drain() {
	p.draining = true
	if !p.Active() {
		return
	}
	p.stats.Truncated = true
	p.logger.Warn("render truncated at iteration cap",
		"cap", p.cap, "samples", p.stats.Samples, "pending_entries", len(p.entries)-p.cursor.Index)
	p.emit(Event{Kind: EventTruncated, Sample: p.cursor.Sample})
	p.cursor.Index = len(p.entries)
	p.engine.AllNotesOff()
}

// Render runs a full pass and returns the mono stream.
func (p *Pipeline) Render() ([]float32, Stats) {
	frame := make([]float32, p.cfg.FrameSize)
	out := make([]float32, 0, min(max(p.cap, 0), 4096)*p.cfg.FrameSize)
	for p.Next(frame) {
		out = append(out, frame...)
	}
	return out, p.stats
}
