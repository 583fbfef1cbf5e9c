package playback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/flowtalk/pkg/audio"
)

// WAVWriter is a Player that saves every reply as a 16-bit WAV file in Dir.
// Playback completes once the file is written.
type WAVWriter struct {
	Dir string

	last atomic.Value // string
}

// NewWAVWriter creates dir if needed and returns a writer for it.
func NewWAVWriter(dir string) (*WAVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("playback: create %q: %w", dir, err)
	}
	return &WAVWriter{Dir: dir}, nil
}

// Play implements Player.
func (w *WAVWriter) Play(ctx context.Context, s *audio.Samples) (*Playback, error) {
	if s == nil || len(s.Data) == 0 {
		return nil, ErrNoSamples
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s.wav", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	path := filepath.Join(w.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("playback: create file: %w", err)
	}
	pb := NewPlayback(nil)
	werr := audio.WriteWAV(f, s)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, fmt.Errorf("playback: write %s: %w", path, werr)
	}
	w.last.Store(path)
	pb.Finish(nil)
	return pb, nil
}

// LastFile returns the path of the most recently written file, or "".
func (w *WAVWriter) LastFile() string {
	v, _ := w.last.Load().(string)
	return v
}

var _ Player = (*WAVWriter)(nil)
