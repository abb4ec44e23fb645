package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cbegin/corroza-go/internal/effects"
	"github.com/cbegin/corroza-go/internal/envelope"
	"github.com/cbegin/corroza-go/internal/fm"
	"github.com/cbegin/corroza-go/internal/generator"
	"github.com/cbegin/corroza-go/internal/timeline"
)

var ErrEnvelopeMismatch = errors.New("voice: modulation and amplitude envelopes differ in length")

type Config struct {
	SampleRate    int
	BaseFrequency float64 // frequency of octave 1, pitch class C
	// FM supplies the modulator bank and depth; the phase increment is
	// derived per note.
	FM          fm.Params
	ModEnvelope envelope.Params
	AmpEnvelope envelope.Params
	MasterGain  float64
	// Parallel renders voices on separate goroutines. Contributions are
	// still summed in voice creation order.
	Parallel bool
}

func DefaultConfig() Config {
	env := envelope.Params{
		Attack:     4410,
		Decay:      8820,
		Sustain:    0.7,
		SustainMax: 44100 * 60 * 60,
		Release:    13230,
	}
	return Config{
		SampleRate:    44100,
		BaseFrequency: 110,
		FM:            fm.DefaultParams(),
		ModEnvelope:   env,
		AmpEnvelope:   env,
		MasterGain:    1,
	}
}

// Validate checks the configuration a pipeline is built from, including
// that both envelopes run for the same total length.
func (c Config) Validate() error {
	if err := c.check(); err != nil {
		return err
	}
	if m, a := c.ModEnvelope.TotalSamples(), c.AmpEnvelope.TotalSamples(); m != a {
		return fmt.Errorf("%w: %d vs %d samples", ErrEnvelopeMismatch, m, a)
	}
	return nil
}

func (c Config) check() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("voice: sample rate must be positive, got %d", c.SampleRate)
	}
	if !(c.BaseFrequency > 0) {
		return fmt.Errorf("voice: base frequency must be positive, got %v", c.BaseFrequency)
	}
	if !(c.MasterGain > 0) || math.IsInf(c.MasterGain, 0) {
		return fmt.Errorf("voice: master gain must be positive and finite, got %v", c.MasterGain)
	}
	// any in-range increment will do; only the bank is checked here
	return c.FM.WithPhaseIncrement(1).Validate()
}

// LongestEnvelope is the longest run either envelope can take.
func (c Config) LongestEnvelope() int {
	return max(c.ModEnvelope.TotalSamples(), c.AmpEnvelope.TotalSamples())
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

type voice struct {
	id        int
	note      timeline.Note
	osc       *fm.Oscillator
	releasing bool
	buf       []float32
	state     generator.State
}

// Manager owns every sounding voice. Voices are created on Down, released
// on Up and reclaimed once their oscillator completes.
type Manager struct {
	cfg     Config
	voices  []*voice
	nextID  int
	scratch []float32
	master  *effects.Chain
	logger  *slog.Logger
}

func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:    cfg,
		master: effects.NewChain(effects.NewGain(cfg.MasterGain), effects.SoftClipper{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Frequency returns the pitch of note in Hz.
func (m *Manager) Frequency(n timeline.Note) float64 {
	steps := float64(n.Octave-1) + float64(n.Pitch.Semitone())/12
	return m.cfg.BaseFrequency * math.Pow(2, steps)
}

// PhaseIncrement converts a frequency to radians per sample.
func (m *Manager) PhaseIncrement(freq float64) float64 {
	return 2 * math.Pi * freq / float64(m.cfg.SampleRate)
}

func (m *Manager) HandleEvent(n timeline.Note, dir timeline.Direction) {
	switch dir {
	case timeline.Down:
		if m.find(n) != nil {
			return
		}
		m.noteOn(n)
	case timeline.Up:
		v := m.find(n)
		if v == nil {
			return
		}
		v.osc.NoteOff()
		v.releasing = true
	}
}

func (m *Manager) noteOn(n timeline.Note) {
	freq := m.Frequency(n)
	inc := m.PhaseIncrement(freq)
	osc, err := fm.New(m.cfg.FM.WithPhaseIncrement(inc),
		envelope.New(m.cfg.ModEnvelope),
		envelope.New(m.cfg.AmpEnvelope),
		fm.WithLogger(m.logger))
	if err != nil {
		m.logger.Warn("note dropped", "note", n.String(), "freq", freq, "err", err)
		return
	}
	v := &voice{id: m.nextID, note: n, osc: osc}
	m.nextID++
	m.voices = append(m.voices, v)
	m.logger.Debug("voice on", "id", v.id, "note", n.String(), "freq", freq, "voices", len(m.voices))
}

// find returns the non-releasing voice for n, if any.
func (m *Manager) find(n timeline.Note) *voice {
	for _, v := range m.voices {
		if v.note == n && !v.releasing {
			return v
		}
	}
	return nil
}

// AllNotesOff releases every held voice.
func (m *Manager) AllNotesOff() {
	for _, v := range m.voices {
		if !v.releasing {
			v.osc.NoteOff()
			v.releasing = true
		}
	}
}

func (m *Manager) Active() bool    { return len(m.voices) > 0 }
func (m *Manager) VoiceCount() int { return len(m.voices) }

// Releasing reports how many voices are in their release tail.
func (m *Manager) Releasing() int {
	n := 0
	for _, v := range m.voices {
		if v.releasing {
			n++
		}
	}
	return n
}

// ProcessFrame mixes one frame of every live voice into buf, reclaims the
// voices that finished and soft-clips the sum.
func (m *Manager) ProcessFrame(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
	if len(m.voices) > 0 {
		if m.cfg.Parallel && len(m.voices) > 1 {
			m.renderParallel(buf)
		} else {
			m.renderSerial(buf)
		}
		m.reclaim()
	}
	m.master.ProcessBuffer(buf)
}

func (m *Manager) renderSerial(buf []float32) {
	if cap(m.scratch) < len(buf) {
		m.scratch = make([]float32, len(buf))
	}
	scratch := m.scratch[:len(buf)]
	for _, v := range m.voices {
		v.state = v.osc.Process(scratch)
		for i, s := range scratch {
			buf[i] += s
		}
	}
}

func (m *Manager) renderParallel(buf []float32) {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, v := range m.voices {
		v := v
		if cap(v.buf) < len(buf) {
			v.buf = make([]float32, len(buf))
		}
		v.buf = v.buf[:len(buf)]
		g.Go(func() error {
			v.state = v.osc.Process(v.buf)
			return nil
		})
	}
	_ = g.Wait()
	for _, v := range m.voices {
		for i, s := range v.buf {
			buf[i] += s
		}
	}
}

// reclaim drops completed voices after the render scan has finished.
func (m *Manager) reclaim() {
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.state == generator.Complete {
			m.logger.Debug("voice off", "id", v.id, "note", v.note.String())
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept
}
