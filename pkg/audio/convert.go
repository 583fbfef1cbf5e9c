package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/flowtalk/pkg/types"
)

// Format is a sample rate and channel count.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter brings microphone frames to the format speech recognition
// was opened with. Create one per capture stream.
type FormatConverter struct {
	Target Format

	announce sync.Once
	dropped  atomic.Int64
}

// Convert returns frame in the target format. A frame with an odd byte
// count is dropped: the result has the target format and nil Data.
func (c *FormatConverter) Convert(frame types.AudioFrame) types.AudioFrame {
	if len(frame.Data)%2 == 0 && frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}
	out := types.AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}

	s, err := DecodePCM16(frame.Data, frame.SampleRate, frame.Channels)
	if err != nil {
		if c.dropped.Add(1) == 1 {
			slog.Warn("audio: dropping malformed microphone frame", "err", err)
		}
		return out
	}
	c.announce.Do(func() {
		slog.Info("audio: converting microphone format",
			"from", Format{frame.SampleRate, frame.Channels}, "to", c.Target)
	})
	out.Data = EncodePCM16(Resample(Remix(s, c.Target.Channels), c.Target.SampleRate))
	return out
}

// Dropped returns how many malformed frames Convert discarded.
func (c *FormatConverter) Dropped() int64 { return c.dropped.Load() }

// Remix changes s to the given channel count. Many channels fold to mono by
// averaging and mono spreads to many by copying. Other layouts, and a
// matching or non-positive count, return s unchanged.
func Remix(s *Samples, channels int) *Samples {
	if s == nil || channels <= 0 || s.Channels == channels {
		return s
	}
	switch {
	case channels == 1:
		frames := len(s.Data) / s.Channels
		out := make([]float32, frames)
		for i := range out {
			var sum float32
			for _, v := range s.Data[i*s.Channels : (i+1)*s.Channels] {
				sum += v
			}
			out[i] = sum / float32(s.Channels)
		}
		return &Samples{Data: out, SampleRate: s.SampleRate, Channels: 1}
	case s.Channels == 1:
		out := make([]float32, len(s.Data)*channels)
		for i, v := range s.Data {
			for ch := range channels {
				out[i*channels+ch] = v
			}
		}
		return &Samples{Data: out, SampleRate: s.SampleRate, Channels: channels}
	}
	return s
}

// Resample converts s to rate by linear interpolation between neighbouring
// frames of each channel. Unknown or matching rates return s unchanged.
func Resample(s *Samples, rate int) *Samples {
	if s == nil || rate <= 0 || s.SampleRate <= 0 || s.SampleRate == rate || s.Channels <= 0 {
		return s
	}
	ch := s.Channels
	srcFrames := len(s.Data) / ch
	dstFrames := int(int64(srcFrames) * int64(rate) / int64(s.SampleRate))
	out := make([]float32, dstFrames*ch)
	step := float64(s.SampleRate) / float64(rate)
	for i := range dstFrames {
		pos := float64(i) * step
		j := int(pos)
		frac := float32(pos - float64(j))
		next := min(j+1, srcFrames-1)
		for c := range ch {
			a, b := s.Data[j*ch+c], s.Data[next*ch+c]
			out[i*ch+c] = a + (b-a)*frac
		}
	}
	return &Samples{Data: out, SampleRate: rate, Channels: ch}
}
