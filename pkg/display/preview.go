package display

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/camera"
)

// FileWriter replaces whole files. *storage.FileStore satisfies it.
type FileWriter interface {
	WriteFile(path string, data []byte) error
}

// PreviewWriter writes the annotated frame to a JPEG file at most once
// per interval. Other programs can poll the file for a live preview.
type PreviewWriter struct {
	path     string
	interval time.Duration
	files    FileWriter
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewPreviewWriter creates a preview sink writing to path.
func NewPreviewWriter(path string, interval time.Duration, files FileWriter) *PreviewWriter {
	return &PreviewWriter{
		path:     path,
		interval: interval,
		files:    files,
		now:      time.Now,
	}
}

// Present annotates frame with v and writes it if the interval has passed.
func (p *PreviewWriter) Present(frame *camera.Frame, v View) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return nil
	}

	img, err := frame.ToImage()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Annotate(img, v), &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	if err := p.files.WriteFile(p.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}

	p.last = now
	return nil
}

// Discard is a sink that drops every frame. Used for headless kiosks.
type Discard struct{}

// Present does nothing.
func (Discard) Present(*camera.Frame, View) error { return nil }
