package corroza

import (
	"sync/atomic"

	intaudio "github.com/cbegin/corroza-go/internal/audio"
	intseq "github.com/cbegin/corroza-go/internal/sequencer"
)

var _ intaudio.FinishingSource = (*Source)(nil)

// Source renders a timeline on demand for pull-based consumers such as
// audio.StreamReader. Requests need not align with the frame size.
type Source struct {
	p         *intseq.Pipeline
	frame     []float32
	pos       int
	done      bool
	finished  atomic.Bool
	sampleTap func([]float32)
}

func NewSource(entries []Entry, opts ...Option) (*Source, error) {
	rc := buildConfig(opts)
	p, err := rc.pipeline(entries)
	if err != nil {
		return nil, err
	}
	frame := make([]float32, rc.cfg.FrameSize)
	return &Source{p: p, frame: frame, pos: len(frame), sampleTap: rc.sampleTap}, nil
}

func (s *Source) SampleRate() int { return s.p.Config().Voice.SampleRate }

// Process fills dst with the next samples. Once the render pass is over the
// rest of dst is silence and Finished reports true.
func (s *Source) Process(dst []float32) {
	out := dst
	for len(dst) > 0 {
		if s.pos == len(s.frame) {
			if s.done || !s.p.Next(s.frame) {
				s.done = true
				clear(dst)
				break
			}
			s.pos = 0
		}
		n := copy(dst, s.frame[s.pos:])
		s.pos += n
		dst = dst[n:]
	}
	if s.pos == len(s.frame) && s.p.Done() {
		s.done = true
	}
	if s.done {
		s.finished.Store(true)
	}
	if s.sampleTap != nil {
		s.sampleTap(out)
	}
}

func (s *Source) Finished() bool {
	return s.finished.Load()
}

func (s *Source) Stats() Stats { return s.p.Stats() }
