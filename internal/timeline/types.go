package timeline

import "fmt"

// PitchClass is a semitone within the octave, C = 0 through B = 11.
type PitchClass int

const (
	C PitchClass = iota
	CSharp
	D
	DSharp
	E
	F
	FSharp
	G
	GSharp
	A
	ASharp
	B
)

var pitchNames = [12]string{"c", "c#", "d", "d#", "e", "f", "f#", "g", "g#", "a", "a#", "b"}

func (p PitchClass) Semitone() int { return int(p) }

func (p PitchClass) Valid() bool { return p >= C && p <= B }

func (p PitchClass) String() string {
	if !p.Valid() {
		return fmt.Sprintf("PitchClass(%d)", int(p))
	}
	return pitchNames[p]
}

// Note identifies a key: an octave and a pitch class.
type Note struct {
	Octave int
	Pitch  PitchClass
}

func (n Note) String() string {
	return fmt.Sprintf("%d%s", n.Octave, n.Pitch)
}

type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "u"
	}
	return "d"
}

// Event is one key press or release.
type Event struct {
	Note      Note
	Direction Direction
}

func (e Event) String() string {
	return e.Note.String() + e.Direction.String()
}

// Entry is a group of events that fire together, Delta timesteps after the
// previous entry.
type Entry struct {
	Delta  int
	Events []Event
}

// TotalSteps sums the deltas of a timeline.
func TotalSteps(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += e.Delta
	}
	return n
}
