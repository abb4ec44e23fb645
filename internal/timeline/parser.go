package timeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidLine      = errors.New("invalid line")
	ErrInvalidTimestep  = errors.New("invalid timestep")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrInvalidNote      = errors.New("invalid note")
	ErrInvalidPitch     = errors.New("invalid pitch class")
	ErrInvalidOctave    = errors.New("invalid octave")
	ErrInvalidDirection = errors.New("invalid direction")
)

// ParseError reports where in the input a line failed to parse.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

var pitchBySymbol = map[string]PitchClass{
	"c": C, "c#": CSharp, "C#": CSharp,
	"d": D, "d#": DSharp, "D#": DSharp,
	"e": E,
	"f": F, "f#": FSharp, "F#": FSharp,
	"g": G, "g#": GSharp, "G#": GSharp,
	"a": A, "a#": ASharp, "A#": ASharp,
	"b": B,
}

// ParsePitch maps a pitch symbol such as "c" or "f#" to its pitch class.
func ParsePitch(s string) (PitchClass, error) {
	p, ok := pitchBySymbol[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPitch, s)
	}
	return p, nil
}

type ParserConfig struct {
	MinOctave int
	MaxOctave int
	// KeepEmpty keeps entries without events; by default only a leading
	// empty entry survives.
	KeepEmpty bool
	// MaxDelta is the largest accepted delta; 0 disables the check.
	MaxDelta int
}

func DefaultParserConfig() ParserConfig {
	return ParserConfig{MinOctave: 0, MaxOctave: 9, MaxDelta: math.MaxInt32}
}

// Parser reads the line-oriented timeline format:
//
//	+<delta>| <event>, <event>  # comment
//
// where an event is <octave><pitch><d|u>, e.g. 4c#d or 3au. A delta is a
// non-negative integer no larger than ParserConfig.MaxDelta (2^31-1 by
// default). Pipelines also reject a timeline whose summed deltas times the
// timestep exceed sequencer.MaxTimelineSamples.
type Parser struct{ cfg ParserConfig }

func NewParser(cfg ParserConfig) *Parser { return &Parser{cfg: cfg} }

func (p *Parser) Parse(input string) ([]Entry, error) {
	return p.ParseReader(strings.NewReader(input))
}

func (p *Parser) ParseReader(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		entry, err := p.parseLine(raw)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Line = lineNo
				return nil, pe
			}
			return nil, &ParseError{Line: lineNo, Text: raw, Err: err}
		}
		if len(entry.Events) > 0 || len(entries) == 0 || p.cfg.KeepEmpty {
			entries = append(entries, entry)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ParseLine parses a single timeline line.
func (p *Parser) ParseLine(line string) (Entry, error) {
	return p.parseLine(line)
}

func (p *Parser) parseLine(line string) (Entry, error) {
	// " #" starts a comment; a bare '#' is a sharp sign.
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, nil
	}
	head, body, ok := strings.Cut(line, "|")
	if !ok {
		return Entry{}, &ParseError{Text: line, Err: fmt.Errorf("%w: expected +<delta>| events", ErrInvalidLine)}
	}
	head = strings.TrimSpace(head)
	if !strings.HasPrefix(head, "+") {
		return Entry{}, &ParseError{Text: head, Err: fmt.Errorf("%w: must start with +", ErrInvalidTimestep)}
	}
	delta, err := strconv.Atoi(head[1:])
	if err != nil || delta < 0 || strings.HasPrefix(head[1:], "+") {
		return Entry{}, &ParseError{Text: head, Err: ErrInvalidTimestep}
	}
	if p.cfg.MaxDelta > 0 && delta > p.cfg.MaxDelta {
		return Entry{}, &ParseError{Text: head, Err: fmt.Errorf("%w: delta above %d", ErrInvalidTimestep, p.cfg.MaxDelta)}
	}
	entry := Entry{Delta: delta}
	for _, tok := range strings.Split(body, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		ev, err := p.parseEvent(tok)
		if err != nil {
			return Entry{}, &ParseError{Text: tok, Err: err}
		}
		entry.Events = append(entry.Events, ev)
	}
	return entry, nil
}

func (p *Parser) parseEvent(s string) (Event, error) {
	if len(s) < 2 {
		return Event{}, ErrInvalidEvent
	}
	var dir Direction
	switch s[len(s)-1] {
	case 'd':
		dir = Down
	case 'u':
		dir = Up
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidDirection, s[len(s)-1:])
	}
	notePart := s[:len(s)-1]
	if notePart[0] < '0' || notePart[0] > '9' {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidOctave, notePart[:1])
	}
	octave := int(notePart[0] - '0')
	if octave < p.cfg.MinOctave || octave > p.cfg.MaxOctave {
		return Event{}, fmt.Errorf("%w: %d out of range", ErrInvalidOctave, octave)
	}
	if len(notePart) == 1 {
		return Event{}, fmt.Errorf("%w: missing pitch", ErrInvalidNote)
	}
	pitch, err := ParsePitch(notePart[1:])
	if err != nil {
		return Event{}, err
	}
	return Event{Note: Note{Octave: octave, Pitch: pitch}, Direction: dir}, nil
}

// Parse reads a timeline with the default configuration.
func Parse(input string) ([]Entry, error) {
	return NewParser(DefaultParserConfig()).Parse(input)
}

// Format writes entries back in the text format accepted by Parse.
func Format(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		parts := make([]string, len(e.Events))
		for i, ev := range e.Events {
			parts[i] = ev.String()
		}
		if _, err := fmt.Fprintf(bw, "+%d| %s\n", e.Delta, strings.Join(parts, ", ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}
