package corroza

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	intaudio "github.com/cbegin/corroza-go/internal/audio"
	intenv "github.com/cbegin/corroza-go/internal/envelope"
	intseq "github.com/cbegin/corroza-go/internal/sequencer"
)

const phrase = `# C major arpeggio
+0| 3cd
+2| 3ed
+2| 3gd
+2| 3cu, 3eu, 3gu
`

func testOptions() []Option {
	cfg := DefaultConfig()
	cfg.Voice.SampleRate = 16000
	cfg.TimestepSamples = 400
	for _, env := range []*intenv.Params{&cfg.Voice.ModEnvelope, &cfg.Voice.AmpEnvelope} {
		env.Attack, env.Decay, env.Release = 200, 400, 800
		env.SustainMax = 16000
	}
	return []Option{
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func TestRenderText(t *testing.T) {
	out, st, err := RenderText(phrase, testOptions()...)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if st.Truncated || len(out) != st.Samples {
		t.Fatalf("stats %+v, %d samples", st, len(out))
	}
	// notes are released at 6 steps of 400 samples, plus an 800 sample tail
	if len(out) < 6*400+800 {
		t.Fatalf("render too short: %d samples", len(out))
	}
	var energy float64
	for _, s := range out {
		if math.Abs(float64(s)) > 1.5 {
			t.Fatalf("sample %v outside the soft clip range", s)
		}
		energy += math.Abs(float64(s))
	}
	if energy == 0 {
		t.Fatal("expected non-zero audio energy")
	}
}

func TestSourceMatchesRender(t *testing.T) {
	want, _, err := RenderText(phrase, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := ParseTimeline(bytes.NewReader([]byte(phrase)))
	if err != nil {
		t.Fatal(err)
	}
	src, err := NewSource(entries, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	var got []float32
	// deliberately not a multiple of the frame size
	buf := make([]float32, 100)
	for !src.Finished() {
		src.Process(buf)
		got = append(got, buf...)
		if len(got) > 10*len(want) {
			t.Fatal("source never finished")
		}
	}
	if len(got) < len(want) {
		t.Fatalf("source produced %d samples, render %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: source %v, render %v", i, got[i], want[i])
		}
	}
	for i := len(want); i < len(got); i++ {
		if got[i] != 0 {
			t.Fatalf("padding sample %d = %v", i, got[i])
		}
	}
}

func TestStreamReaderOverSource(t *testing.T) {
	entries, err := ParseTimeline(bytes.NewReader([]byte(phrase)))
	if err != nil {
		t.Fatal(err)
	}
	var tapped int
	src, err := NewSource(entries, append(testOptions(), WithSampleTap(func(b []float32) { tapped += len(b) }))...)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(intaudio.NewStreamReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(data)%4 != 0 || len(data)/4 < src.Stats().Samples {
		t.Fatalf("streamed %d bytes for %d samples", len(data), src.Stats().Samples)
	}
	if tapped != len(data)/4 {
		t.Fatalf("tap saw %d samples, stream %d", tapped, len(data)/4)
	}
	first := math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))
	if first != 0 {
		t.Fatalf("first sample %v, attack starts from silence", first)
	}
}

func TestMIDIRoundTripRender(t *testing.T) {
	entries, err := ParseTimeline(bytes.NewReader([]byte(phrase)))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "phrase.mid")
	var buf bytes.Buffer
	if err := WriteMIDI(&buf, entries); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := LoadFile(path, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	a, _, err := Render(entries, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := Render(fromFile, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs after MIDI round trip", i)
		}
	}
}

func TestRenderTruncatesAtMaxFrames(t *testing.T) {
	var kinds []intseq.EventKind
	opts := append(testOptions(), WithMaxFrames(3), WithEventHandler(func(ev Event) { kinds = append(kinds, ev.Kind) }))
	_, st, err := RenderText(phrase, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Truncated || st.Frames != 3 {
		t.Fatalf("stats %+v", st)
	}
	var sawTruncated bool
	for _, k := range kinds {
		sawTruncated = sawTruncated || k == intseq.EventTruncated
	}
	if !sawTruncated {
		t.Fatal("expected a truncation event")
	}
}

func TestEncodeWAVFloat32LE(t *testing.T) {
	wav := EncodeWAVFloat32LE([]float32{0, 0.5}, 44100)
	if string(wav[:4]) != "RIFF" || len(wav) != 52 {
		t.Fatalf("unexpected header or length %d", len(wav))
	}
}
