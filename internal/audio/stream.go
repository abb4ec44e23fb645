package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
)

// SampleSource fills dst with the next mono samples.
type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when rendering has ended.
// When Finished returns true, the stream returns io.EOF with the last block.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// StreamReader exposes a pull source as raw float32 little-endian bytes.
// Reads are rounded down to whole samples.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	done   bool
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return 0, io.EOF
	}
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	if cap(r.buf) < n {
		r.buf = make([]float32, n)
	}
	r.buf = r.buf[:n]
	r.source.Process(r.buf)
	for i, s := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		r.done = true
		return n * 4, io.EOF
	}
	return n * 4, nil
}

func (r *StreamReader) Close() error { return nil }
