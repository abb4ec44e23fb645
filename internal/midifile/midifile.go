// Package midifile converts between Standard MIDI Files and timelines.
package midifile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/corroza-go/internal/timeline"
)

var ErrTimeFormat = errors.New("midifile: unsupported time format")

const (
	DefaultResolution = 480
	DefaultVelocity   = 100
)

type Options struct {
	// TicksPerStep is the number of MIDI ticks in one timeline step.
	// Read defaults to a sixteenth note at the file's resolution; Write
	// defaults to a sixteenth note at Resolution.
	TicksPerStep int
	// Resolution is the ticks per quarter note Write stamps on the file.
	Resolution int
	Velocity   int
	Logger     *slog.Logger
}

type tickEvent struct {
	tick  int64
	order int
	ev    timeline.Event
}

// NoteFor maps a MIDI key to a timeline note. Keys below C0 land in
// octave 0.
func NoteFor(key uint8) timeline.Note {
	return timeline.Note{
		Octave: max(int(key)/12-1, 0),
		Pitch:  timeline.PitchClass(int(key) % 12),
	}
}

// KeyFor is the inverse of NoteFor, clamped to the MIDI key range.
func KeyFor(n timeline.Note) uint8 {
	k := (n.Octave+1)*12 + n.Pitch.Semitone()
	return uint8(min(max(k, 0), 127))
}

// Read merges every track of an SMF and quantises note starts and ends to
// timeline steps. Events landing on the same step share an entry and keep
// their file order.
func Read(r io.Reader, opts Options) ([]timeline.Entry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("midifile: read: %w", err)
	}
	tps := opts.TicksPerStep
	if tps <= 0 {
		mt, ok := s.TimeFormat.(smf.MetricTicks)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrTimeFormat, s.TimeFormat)
		}
		tps = max(int(mt.Resolution())/4, 1)
	}

	var events []tickEvent
	for _, tr := range s.Tracks {
		var tick int64
		for _, e := range tr {
			tick += int64(e.Delta)
			var ch, key, vel uint8
			msg := midi.Message(e.Message)
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				events = append(events, tickEvent{tick: tick, order: len(events),
					ev: timeline.Event{Note: NoteFor(key), Direction: timeline.Down}})
			case msg.GetNoteEnd(&ch, &key):
				events = append(events, tickEvent{tick: tick, order: len(events),
					ev: timeline.Event{Note: NoteFor(key), Direction: timeline.Up}})
			}
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })

	var entries []timeline.Entry
	prev := 0
	for _, te := range events {
		step := int((te.tick + int64(tps)/2) / int64(tps))
		if len(entries) == 0 || step != prev {
			entries = append(entries, timeline.Entry{Delta: step - prev})
			prev = step
		}
		last := &entries[len(entries)-1]
		last.Events = append(last.Events, te.ev)
	}
	logger.Debug("midi file read", "tracks", len(s.Tracks), "events", len(events),
		"entries", len(entries), "ticks_per_step", tps)
	return entries, nil
}

// Write stores entries as a single-track SMF on channel 0.
func Write(w io.Writer, entries []timeline.Entry, opts Options) error {
	res := opts.Resolution
	if res <= 0 {
		res = DefaultResolution
	}
	tps := opts.TicksPerStep
	if tps <= 0 {
		tps = max(res/4, 1)
	}
	vel := opts.Velocity
	if vel <= 0 || vel > 127 {
		vel = DefaultVelocity
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(res)
	var tr smf.Track
	pending := 0
	for _, e := range entries {
		pending += e.Delta * tps
		for _, ev := range e.Events {
			key := KeyFor(ev.Note)
			if ev.Direction == timeline.Down {
				tr.Add(uint32(pending), midi.NoteOn(0, key, uint8(vel)))
			} else {
				tr.Add(uint32(pending), midi.NoteOff(0, key))
			}
			pending = 0
		}
	}
	tr.Close(uint32(pending))
	if err := s.Add(tr); err != nil {
		return fmt.Errorf("midifile: write: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("midifile: write: %w", err)
	}
	return nil
}
