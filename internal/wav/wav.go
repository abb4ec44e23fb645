package wav

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	ebitwav "github.com/hajimehoshi/ebiten/v2/audio/wav"
)

var ErrUnsupportedFormat = errors.New("wav: unsupported format")

type Format int

const (
	PCM16 Format = iota
	Float32
)

func (f Format) String() string {
	switch f {
	case PCM16:
		return "pcm16"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "pcm16", "16":
		return PCM16, nil
	case "float32", "f32", "32":
		return Float32, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// PCM16Value converts a sample to 16-bit PCM. Input is clamped to [-1, 1];
// -1 maps to -32768 and +1 to 32767.
func PCM16Value(s float32) int {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	case v >= 0:
		return int(v * math.MaxInt16)
	}
	return int(v * -math.MinInt16)
}

// Encode writes mono samples as a WAV stream. The header is patched once
// the data is written, hence the io.WriteSeeker.
func Encode(w io.WriteSeeker, samples []float32, sampleRate int, f Format) error {
	switch f {
	case PCM16:
		enc := gowav.NewEncoder(w, sampleRate, 16, 1, 1)
		buf := &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           make([]int, len(samples)),
			SourceBitDepth: 16,
		}
		for i, s := range samples {
			buf.Data[i] = PCM16Value(s)
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("wav: encode: %w", err)
		}
		return enc.Close()
	case Float32:
		bw := bufio.NewWriter(w)
		if _, err := bw.Write(EncodeFloat32LE(samples, sampleRate, 1)); err != nil {
			return err
		}
		return bw.Flush()
	}
	return fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
}

// EncodeFloat32LE builds a complete IEEE float WAV file in memory.
func EncodeFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}

func WriteFile(path string, samples []float32, sampleRate int, f Format) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(fh, samples, sampleRate, f); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// Decode reads a 16-bit PCM mono or stereo WAV back into float samples.
// Stereo input is returned interleaved.
func Decode(r io.ReadSeeker) ([]float32, int, error) {
	d := gowav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a WAV file", ErrUnsupportedFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("wav: decode: %w", err)
	}
	if d.BitDepth != 16 {
		return nil, 0, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, d.BitDepth)
	}
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / -math.MinInt16
	}
	return out, int(d.SampleRate), nil
}

// Info summarises a rendered file.
type Info struct {
	SampleRate int
	Frames     int
	Peak       float64
}

func (i Info) Duration() time.Duration {
	if i.SampleRate <= 0 {
		return 0
	}
	return time.Duration(i.Frames) * time.Second / time.Duration(i.SampleRate)
}

// Inspect decodes a 16-bit PCM WAV through ebiten's decoder, which always
// yields 16-bit stereo, and reports rate, length and the left channel peak.
func Inspect(r io.Reader) (Info, error) {
	s, err := ebitwav.DecodeWithoutResampling(r)
	if err != nil {
		return Info{}, fmt.Errorf("wav: inspect: %w", err)
	}
	info := Info{SampleRate: s.SampleRate(), Frames: int(s.Length() / 4)}
	br := bufio.NewReader(s)
	var frame [4]byte
	for {
		if _, err := io.ReadFull(br, frame[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Info{}, fmt.Errorf("wav: inspect: %w", err)
		}
		v := float64(int16(binary.LittleEndian.Uint16(frame[:2]))) / -math.MinInt16
		info.Peak = math.Max(info.Peak, math.Abs(v))
	}
	return info, nil
}

func InspectFile(path string) (Info, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer fh.Close()
	return Inspect(fh)
}
