// Package audio holds PCM helpers shared by the speech bridge, the capture
// adapter and the playback sinks.
//
// All byte-level audio in FlowTalk is 16-bit signed little-endian PCM. Decoded
// audio is represented as Samples, a float32 buffer normalised to [-1, 1].
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Samples is a decoded mono or interleaved multi-channel audio buffer.
type Samples struct {
	// Data holds normalised samples in [-1, 1].
	Data []float32

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Duration returns the playback length of s.
func (s *Samples) Duration() time.Duration {
	if s == nil || s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := len(s.Data) / s.Channels
	return time.Duration(frames) * time.Second / time.Duration(s.SampleRate)
}

// ErrOddLength is wrapped by DecodePCM16 when the input cannot hold a whole
// number of 16-bit samples.
var ErrOddLength = fmt.Errorf("audio: odd PCM byte count")

// DecodePCM16 converts 16-bit signed little-endian PCM into Samples. The
// input must contain a whole number of samples.
func DecodePCM16(pcm []byte, sampleRate, channels int) (*Samples, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	if channels <= 0 {
		channels = 1
	}
	n := len(pcm) / 2
	data := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		data[i] = float32(v) / 32768.0
	}
	return &Samples{Data: data, SampleRate: sampleRate, Channels: channels}, nil
}

// EncodePCM16 converts Samples back to 16-bit little-endian PCM, clamping
// out-of-range values.
func EncodePCM16(s *Samples) []byte {
	if s == nil {
		return nil
	}
	out := make([]byte, len(s.Data)*2)
	for i, f := range s.Data {
		v := math.Round(float64(f) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// RMS returns the root-mean-square level of 16-bit PCM in sample units
// (0 to 32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// PCMDuration returns the playback length of 16-bit PCM at the given format.
func PCMDuration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * 2
	return time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSec)
}
