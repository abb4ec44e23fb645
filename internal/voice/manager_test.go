package voice

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/cbegin/corroza-go/internal/envelope"
	"github.com/cbegin/corroza-go/internal/fm"
	"github.com/cbegin/corroza-go/internal/timeline"
)

func testConfig() Config {
	env := envelope.Params{Attack: 50, Decay: 50, Sustain: 0.5, SustainMax: 100000, Release: 50}
	cfg := DefaultConfig()
	cfg.SampleRate = 8000
	cfg.ModEnvelope = env
	cfg.AmpEnvelope = env
	return cfg
}

func newTestManager(t testing.TB, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

var (
	c4 = timeline.Note{Octave: 4, Pitch: timeline.C}
	e4 = timeline.Note{Octave: 4, Pitch: timeline.E}
	g4 = timeline.Note{Octave: 4, Pitch: timeline.G}
)

func TestDuplicateDownIsNoOp(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.HandleEvent(c4, timeline.Down)
	m.HandleEvent(c4, timeline.Down)
	if m.VoiceCount() != 1 {
		t.Fatalf("voice count = %d, want 1", m.VoiceCount())
	}
}

func TestUpWithoutHeldVoiceIsNoOp(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.HandleEvent(c4, timeline.Up)
	if m.VoiceCount() != 0 {
		t.Fatalf("voice count = %d, want 0", m.VoiceCount())
	}
	m.HandleEvent(c4, timeline.Down)
	m.HandleEvent(c4, timeline.Up)
	m.HandleEvent(c4, timeline.Up)
	if m.VoiceCount() != 1 || m.Releasing() != 1 {
		t.Fatalf("count=%d releasing=%d, want 1/1", m.VoiceCount(), m.Releasing())
	}
}

func TestRetriggerWhileReleasingAddsVoice(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.HandleEvent(c4, timeline.Down)
	m.HandleEvent(c4, timeline.Up)
	m.HandleEvent(c4, timeline.Down)
	if m.VoiceCount() != 2 || m.Releasing() != 1 {
		t.Fatalf("count=%d releasing=%d, want 2/1", m.VoiceCount(), m.Releasing())
	}
	m.HandleEvent(c4, timeline.Up)
	if m.Releasing() != 2 {
		t.Fatalf("second Up should release the new voice, releasing=%d", m.Releasing())
	}
}

func TestVoicesReclaimedOnlyAfterCompletion(t *testing.T) {
	m := newTestManager(t, testConfig())
	for _, n := range []timeline.Note{c4, e4, g4} {
		m.HandleEvent(n, timeline.Down)
	}
	buf := make([]float32, 32)
	for i := 0; i < 20; i++ {
		m.ProcessFrame(buf)
	}
	if m.VoiceCount() != 3 {
		t.Fatalf("held voices should stay, count=%d", m.VoiceCount())
	}
	m.HandleEvent(e4, timeline.Up)
	frames := 0
	for m.VoiceCount() == 3 {
		m.ProcessFrame(buf)
		frames++
		if frames > 100 {
			t.Fatal("released voice never reclaimed")
		}
	}
	// 50 release samples at 32 per frame
	if frames != 2 {
		t.Fatalf("voice reclaimed after %d frames, want 2", frames)
	}
	if m.VoiceCount() != 2 || m.Releasing() != 0 {
		t.Fatalf("count=%d releasing=%d after reclaim", m.VoiceCount(), m.Releasing())
	}
	m.AllNotesOff()
	for i := 0; i < 3; i++ {
		m.ProcessFrame(buf)
	}
	if m.Active() {
		t.Fatalf("all voices should be reclaimed, %d left", m.VoiceCount())
	}
}

func TestFrequencyTable(t *testing.T) {
	m := newTestManager(t, testConfig())
	if f := m.Frequency(timeline.Note{Octave: 1, Pitch: timeline.C}); f != 110 {
		t.Fatalf("1c = %v, want 110", f)
	}
	a1 := m.Frequency(timeline.Note{Octave: 1, Pitch: timeline.A})
	if math.Abs(a1-110*math.Pow(2, 9.0/12)) > 1e-9 {
		t.Fatalf("1a = %v", a1)
	}
	if f := m.Frequency(timeline.Note{Octave: 0, Pitch: timeline.C}); f != 55 {
		t.Fatalf("0c = %v, want 55", f)
	}
}

func TestOctaveDoublesPhaseIncrement(t *testing.T) {
	m := newTestManager(t, testConfig())
	for p := timeline.C; p <= timeline.B; p++ {
		lo := m.PhaseIncrement(m.Frequency(timeline.Note{Octave: 2, Pitch: p}))
		hi := m.PhaseIncrement(m.Frequency(timeline.Note{Octave: 3, Pitch: p}))
		if math.Abs(hi/lo-2) > 1e-12 {
			t.Fatalf("%v: ratio %v, want 2", p, hi/lo)
		}
	}
}

func TestMixIsSoftClipped(t *testing.T) {
	cfg := testConfig()
	cfg.MasterGain = 4
	m := newTestManager(t, cfg)
	for p := timeline.C; p <= timeline.B; p++ {
		m.HandleEvent(timeline.Note{Octave: 2, Pitch: p}, timeline.Down)
	}
	buf := make([]float32, 64)
	var peak float64
	for i := 0; i < 50; i++ {
		m.ProcessFrame(buf)
		for _, s := range buf {
			peak = math.Max(peak, math.Abs(float64(s)))
		}
	}
	if peak > 1.5 {
		t.Fatalf("peak %v exceeds the soft-clip ceiling", peak)
	}
	if peak <= 1 {
		t.Fatalf("twelve loud voices should drive the clipper, peak %v", peak)
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	render := func(parallel bool) []float32 {
		cfg := testConfig()
		cfg.Parallel = parallel
		m := newTestManager(t, cfg)
		var out []float32
		buf := make([]float32, 64)
		for f := 0; f < 40; f++ {
			switch f {
			case 0:
				m.HandleEvent(c4, timeline.Down)
				m.HandleEvent(e4, timeline.Down)
			case 5:
				m.HandleEvent(g4, timeline.Down)
			case 10:
				m.HandleEvent(c4, timeline.Up)
			}
			m.ProcessFrame(buf)
			out = append(out, buf...)
		}
		return out
	}
	serial, parallel := render(false), render(true)
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("sample %d: serial %v != parallel %v", i, serial[i], parallel[i])
		}
	}
}

func TestNoteAboveNyquistDropped(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig()
	cfg.SampleRate = 1000
	m, err := NewManager(cfg, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if err != nil {
		t.Fatal(err)
	}
	m.HandleEvent(timeline.Note{Octave: 9, Pitch: timeline.B}, timeline.Down)
	if m.VoiceCount() != 0 {
		t.Fatalf("voice count = %d, want 0", m.VoiceCount())
	}
	if !strings.Contains(logs.String(), "note dropped") {
		t.Fatalf("expected warning, got %q", logs.String())
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := testConfig()
	cfg.ModEnvelope.Release = 10
	if err := cfg.Validate(); !errors.Is(err, ErrEnvelopeMismatch) {
		t.Fatalf("err = %v, want ErrEnvelopeMismatch", err)
	}
	// the manager itself accepts it and only logs per voice
	if _, err := NewManager(cfg); err != nil {
		t.Fatalf("manager should accept mismatched envelopes: %v", err)
	}
	cfg = testConfig()
	cfg.FM = fm.Params{Harmonics: []int{1, 2}, Weights: []float64{1}}
	if _, err := NewManager(cfg); !errors.Is(err, fm.ErrHarmonicsMismatch) {
		t.Fatalf("err = %v, want ErrHarmonicsMismatch", err)
	}
	cfg = testConfig()
	cfg.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero sample rate should be rejected")
	}
}

func TestMasterGainMustBePositive(t *testing.T) {
	for _, gain := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		cfg := testConfig()
		cfg.MasterGain = gain
		if err := cfg.Validate(); err == nil {
			t.Fatalf("gain %v: Validate accepted it", gain)
		}
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("gain %v: NewManager accepted it", gain)
		}
	}
}

func BenchmarkProcessFrame(b *testing.B) {
	m := newTestManager(b, testConfig())
	for p := timeline.C; p <= timeline.B; p++ {
		m.HandleEvent(timeline.Note{Octave: 3, Pitch: p}, timeline.Down)
	}
	buf := make([]float32, 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.ProcessFrame(buf)
	}
}
