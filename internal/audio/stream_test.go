package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
)

type rampSource struct {
	next  float32
	limit float32
}

func (s *rampSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = s.next
		s.next++
	}
}

func (s *rampSource) Finished() bool { return s.next >= s.limit }

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	r := NewStreamReader(&rampSource{limit: 1000})
	p := make([]byte, 4*3+2)
	n, err := r.Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if n != 12 {
		t.Fatalf("read %d bytes, want whole samples only", n)
	}
	for i := 0; i < 3; i++ {
		if got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:])); got != float32(i) {
			t.Fatalf("sample %d = %v", i, got)
		}
	}
}

func TestStreamReaderStopsWhenFinished(t *testing.T) {
	r := NewStreamReader(&rampSource{limit: 10})
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || len(data)%4 != 0 {
		t.Fatalf("read %d bytes", len(data))
	}
	if _, err := r.Read(make([]byte, 16)); !errors.Is(err, io.EOF) {
		t.Fatalf("read after finish: %v", err)
	}
}

func TestStreamReaderShortBuffer(t *testing.T) {
	r := NewStreamReader(&rampSource{limit: 10})
	if n, err := r.Read(make([]byte, 3)); n != 0 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
