package patch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cbegin/corroza-go/internal/sequencer"
)

func TestLoadStringOverrides(t *testing.T) {
	base := sequencer.DefaultConfig()
	cfg, err := LoadString(`
sample_rate = 48000
frame_size = 128
timestep = 480
base_frequency = 55
harmonics = {1, 3}
weights = {1, 0.5}
mod_depth = 2.5
parallel = true
envelope = {attack = 480, decay = 960, sustain = 0.6, sustain_max = 96000, release = 2400}
amp_envelope = {initial = 0.1}
`, base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Voice.SampleRate != 48000 || cfg.FrameSize != 128 || cfg.TimestepSamples != 480 {
		t.Fatalf("scalars not applied: %+v", cfg)
	}
	if cfg.Voice.BaseFrequency != 55 || cfg.Voice.FM.ModDepth != 2.5 || !cfg.Voice.Parallel {
		t.Fatalf("voice settings not applied: %+v", cfg.Voice)
	}
	if len(cfg.Voice.FM.Harmonics) != 2 || cfg.Voice.FM.Harmonics[1] != 3 || cfg.Voice.FM.Weights[1] != 0.5 {
		t.Fatalf("bank = %v / %v", cfg.Voice.FM.Harmonics, cfg.Voice.FM.Weights)
	}
	mod, amp := cfg.Voice.ModEnvelope, cfg.Voice.AmpEnvelope
	if mod.Attack != 480 || mod.Release != 2400 || mod.Sustain != 0.6 || mod.SustainMax != 96000 {
		t.Fatalf("mod envelope = %+v", mod)
	}
	if amp.Attack != 480 || amp.Initial != 0.1 || mod.Initial != 0 {
		t.Fatalf("amp envelope = %+v", amp)
	}
	if cfg.TrailingFrames != base.TrailingFrames {
		t.Fatal("unset globals should keep base values")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("patched config invalid: %v", err)
	}
	if len(base.Voice.FM.Harmonics) != 3 {
		t.Fatal("base config was modified")
	}
}

func TestLoadStringTypeErrors(t *testing.T) {
	for _, src := range []string{
		`sample_rate = "fast"`,
		`frame_size = 1.5`,
		`parallel = 1`,
		`harmonics = 3`,
		`weights = {1, "x"}`,
		`envelope = {attack = true}`,
	} {
		t.Run(src, func(t *testing.T) {
			if _, err := LoadString(src, sequencer.DefaultConfig()); !errors.Is(err, ErrType) {
				t.Fatalf("err = %v, want ErrType", err)
			}
		})
	}
}

func TestLoadStringSyntaxError(t *testing.T) {
	if _, err := LoadString("sample_rate = = 1", sequencer.DefaultConfig()); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bell.lua")
	src := "-- bell\nlocal a = 441\nenvelope = {attack = a, decay = a * 2}\ntrailing_frames = 4\nunknown_global = 'ignored'\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, sequencer.DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Voice.AmpEnvelope.Decay != 882 || cfg.TrailingFrames != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.lua"), sequencer.DefaultConfig()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
