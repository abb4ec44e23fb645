// Package patch loads pipeline settings from Lua scripts.
//
// A patch is an ordinary Lua chunk that assigns globals:
//
//	sample_rate = 48000
//	harmonics = {1, 3}
//	weights = {1, 0.5}
//	envelope = {attack = 480, decay = 960, sustain = 0.6, release = 2400}
//
// Globals the script leaves unset keep the values of the base config.
package patch

import (
	"errors"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/cbegin/corroza-go/internal/envelope"
	"github.com/cbegin/corroza-go/internal/sequencer"
)

var ErrType = errors.New("patch: wrong type")

// Load runs the script at path and applies its globals to base.
func Load(path string, base sequencer.Config) (sequencer.Config, error) {
	return run(base, func(L *lua.LState) error { return L.DoFile(path) })
}

func LoadString(src string, base sequencer.Config) (sequencer.Config, error) {
	return run(base, func(L *lua.LState) error { return L.DoString(src) })
}

func run(base sequencer.Config, exec func(*lua.LState) error) (sequencer.Config, error) {
	L := lua.NewState()
	defer L.Close()
	if err := exec(L); err != nil {
		return base, fmt.Errorf("patch: %w", err)
	}
	cfg := base
	// slices are shared with base until replaced
	cfg.Voice.FM.Harmonics = append([]int(nil), base.Voice.FM.Harmonics...)
	cfg.Voice.FM.Weights = append([]float64(nil), base.Voice.FM.Weights...)
	r := reader{L: L}
	r.int("sample_rate", &cfg.Voice.SampleRate)
	r.int("frame_size", &cfg.FrameSize)
	r.int("timestep", &cfg.TimestepSamples)
	r.int("trailing_frames", &cfg.TrailingFrames)
	r.float("base_frequency", &cfg.Voice.BaseFrequency)
	r.float("mod_depth", &cfg.Voice.FM.ModDepth)
	r.float("master_gain", &cfg.Voice.MasterGain)
	r.bool("parallel", &cfg.Voice.Parallel)
	r.ints("harmonics", &cfg.Voice.FM.Harmonics)
	r.floats("weights", &cfg.Voice.FM.Weights)
	if t := r.table("envelope"); t != nil {
		r.envelope(t, "envelope", &cfg.Voice.ModEnvelope)
		r.envelope(t, "envelope", &cfg.Voice.AmpEnvelope)
	}
	if t := r.table("mod_envelope"); t != nil {
		r.envelope(t, "mod_envelope", &cfg.Voice.ModEnvelope)
	}
	if t := r.table("amp_envelope"); t != nil {
		r.envelope(t, "amp_envelope", &cfg.Voice.AmpEnvelope)
	}
	if r.err != nil {
		return base, r.err
	}
	return cfg, nil
}

// reader records the first type error and ignores every later read.
type reader struct {
	L   *lua.LState
	err error
}

func (r *reader) fail(name string, want string, v lua.LValue) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s must be %s, got %s", ErrType, name, want, v.Type())
	}
}

func (r *reader) number(name string, v lua.LValue) (float64, bool) {
	if v == lua.LNil || r.err != nil {
		return 0, false
	}
	n, ok := v.(lua.LNumber)
	if !ok {
		r.fail(name, "a number", v)
		return 0, false
	}
	return float64(n), true
}

func (r *reader) integer(name string, v lua.LValue) (int, bool) {
	f, ok := r.number(name, v)
	if !ok {
		return 0, false
	}
	if f != math.Trunc(f) {
		r.fail(name, "an integer", v)
		return 0, false
	}
	return int(f), true
}

func (r *reader) int(name string, dst *int) {
	if n, ok := r.integer(name, r.L.GetGlobal(name)); ok {
		*dst = n
	}
}

func (r *reader) float(name string, dst *float64) {
	if f, ok := r.number(name, r.L.GetGlobal(name)); ok {
		*dst = f
	}
}

func (r *reader) bool(name string, dst *bool) {
	v := r.L.GetGlobal(name)
	if v == lua.LNil || r.err != nil {
		return
	}
	b, ok := v.(lua.LBool)
	if !ok {
		r.fail(name, "a boolean", v)
		return
	}
	*dst = bool(b)
}

func (r *reader) table(name string) *lua.LTable {
	v := r.L.GetGlobal(name)
	if v == lua.LNil || r.err != nil {
		return nil
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		r.fail(name, "a table", v)
		return nil
	}
	return t
}

func (r *reader) ints(name string, dst *[]int) {
	t := r.table(name)
	if t == nil {
		return
	}
	out := make([]int, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		n, ok := r.integer(fmt.Sprintf("%s[%d]", name, i), t.RawGetInt(i))
		if !ok {
			return
		}
		out = append(out, n)
	}
	*dst = out
}

func (r *reader) floats(name string, dst *[]float64) {
	t := r.table(name)
	if t == nil {
		return
	}
	out := make([]float64, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		f, ok := r.number(fmt.Sprintf("%s[%d]", name, i), t.RawGetInt(i))
		if !ok {
			return
		}
		out = append(out, f)
	}
	*dst = out
}

func (r *reader) envelope(t *lua.LTable, name string, p *envelope.Params) {
	field := func(k string) (string, lua.LValue) { return name + "." + k, t.RawGetString(k) }
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"attack", &p.Attack},
		{"decay", &p.Decay},
		{"sustain_max", &p.SustainMax},
		{"release", &p.Release},
	} {
		if n, ok := r.integer(field(f.key)); ok {
			*f.dst = n
		}
	}
	if v, ok := r.number(field("sustain")); ok {
		p.Sustain = v
	}
	if v, ok := r.number(field("initial")); ok {
		p.Initial = v
	}
}
