package runner

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

// ErrRecorderClosed is returned by Record after Close.
var ErrRecorderClosed = errors.New("frame recorder closed")

// FrameRecorder writes the frames of one run as a numbered PNG sequence.
type FrameRecorder struct {
	dir string

	mu     sync.Mutex
	count  int
	closed bool
}

// OpenFrameRecorder creates <root>/<runID> and returns a recorder writing there.
func OpenFrameRecorder(root, runID string) (*FrameRecorder, error) {
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	return &FrameRecorder{dir: dir}, nil
}

// Dir returns the directory frames are written to.
func (r *FrameRecorder) Dir() string {
	return r.dir
}

// Record appends one frame.
func (r *FrameRecorder) Record(img image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}

	path := filepath.Join(r.dir, fmt.Sprintf("frame-%05d.png", r.count))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close frame: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of frames written.
func (r *FrameRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close stops the recorder. It is safe to call more than once.
func (r *FrameRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
