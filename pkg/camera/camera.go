// Package camera provides camera access and frame capture functionality.
// Frames are grabbed through ffmpeg from V4L2 devices and handed out as JPEG.
package camera

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// execCommand is replaced in tests.
var execCommand = exec.Command

// Frame represents a single camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    string // "JPEG"
	Timestamp time.Time
}

// ToImage decodes the frame.
func (f *Frame) ToImage() (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// DeviceInfo contains information about a camera device.
type DeviceInfo struct {
	Path   string
	Name   string
	Driver string
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrDeviceClosed is returned when the frame stream ended, usually because
// the device was unplugged or ffmpeg died.
var ErrDeviceClosed = errors.New("camera stream closed")

// V4L2Camera captures JPEG frames from a V4L2 device using ffmpeg.
type V4L2Camera struct {
	mu         sync.Mutex
	device     string
	width      int
	height     int
	fps        int
	isOpen     bool
	deviceInfo DeviceInfo

	stream *exec.Cmd
	reader *bufio.Reader
}

// NewCamera creates a camera with 640x480 at 30 fps.
func NewCamera() *V4L2Camera {
	return &V4L2Camera{
		width:  640,
		height: 480,
		fps:    30,
	}
}

// SetResolution sets the capture resolution. Takes effect on the next
// capture or stream start.
func (c *V4L2Camera) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", width, height)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width = width
	c.height = height
	return nil
}

// SetFrameRate sets the streaming frame rate.
func (c *V4L2Camera) SetFrameRate(fps int) error {
	if fps <= 0 {
		return fmt.Errorf("invalid frame rate %d", fps)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
	return nil
}

// Open prepares device for capture.
func (c *V4L2Camera) Open(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := execCommand("v4l2-ctl", "--device="+device, "--info")
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, device)
		}
		// v4l2-ctl not installed; ffmpeg will report a bad device on capture.
	}

	c.device = device
	c.deviceInfo = c.getDeviceInfo()
	c.isOpen = true
	return nil
}

// Close stops streaming and releases the device.
func (c *V4L2Camera) Close() error {
	err := c.StopStreaming()

	c.mu.Lock()
	c.isOpen = false
	c.mu.Unlock()
	return err
}

// IsOpen reports whether the camera is open.
func (c *V4L2Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

// GetDeviceInfo returns information gathered when the device was opened.
func (c *V4L2Camera) GetDeviceInfo() DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceInfo
}

// Capture grabs a single frame. It falls back to v4l2-ctl when ffmpeg fails.
func (c *V4L2Camera) Capture() (*Frame, error) {
	c.mu.Lock()
	if !c.isOpen {
		c.mu.Unlock()
		return nil, ErrCameraNotOpen
	}
	device, width, height := c.device, c.width, c.height
	c.mu.Unlock()

	tmpDir, err := os.MkdirTemp("", "faceattend-capture")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	out := filepath.Join(tmpDir, "frame.jpg")
	cmd := execCommand("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-frames:v", "1",
		"-y", out,
	)
	if err := cmd.Run(); err != nil {
		return c.captureAlternative()
	}

	return readFrameFile(out, width, height)
}

// captureAlternative grabs a raw frame with v4l2-ctl and converts it to JPEG.
func (c *V4L2Camera) captureAlternative() (*Frame, error) {
	c.mu.Lock()
	device, width, height := c.device, c.width, c.height
	c.mu.Unlock()

	tmpDir, err := os.MkdirTemp("", "faceattend-capture")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	raw := filepath.Join(tmpDir, "frame.ppm")
	out := filepath.Join(tmpDir, "frame.jpg")

	cmd := execCommand("v4l2-ctl",
		"--device="+device,
		"--stream-mmap",
		"--stream-count=1",
		"--stream-to="+raw,
	)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: v4l2-ctl: %v", ErrNoFrame, err)
	}

	if err := execCommand("convert", raw, out).Run(); err != nil {
		return nil, fmt.Errorf("%w: convert: %v", ErrNoFrame, err)
	}

	return readFrameFile(out, width, height)
}

func readFrameFile(path string, width, height int) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil, ErrNoFrame
	}
	return &Frame{
		Data:      data,
		Width:     width,
		Height:    height,
		Format:    "JPEG",
		Timestamp: time.Now(),
	}, nil
}

// CaptureMultiple captures count frames, waiting interval between them.
func (c *V4L2Camera) CaptureMultiple(count int, interval time.Duration) ([]*Frame, error) {
	frames := make([]*Frame, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		frame, err := c.Capture()
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// StartStreaming starts ffmpeg writing an MJPEG stream to a pipe.
// Calling it while already streaming is a no-op.
func (c *V4L2Camera) StartStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen {
		return ErrCameraNotOpen
	}
	if c.stream != nil {
		return nil
	}

	cmd := execCommand("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-input_format", "mjpeg",
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
		"-framerate", strconv.Itoa(c.fps),
		"-i", c.device,
		"-f", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stream pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	c.stream = cmd
	c.reader = bufio.NewReaderSize(stdout, 256*1024)
	return nil
}

// StopStreaming stops the ffmpeg stream. No-op when not streaming.
func (c *V4L2Camera) StopStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}

	if c.stream.Process != nil {
		_ = c.stream.Process.Kill()
	}
	_ = c.stream.Wait()
	c.stream = nil
	c.reader = nil
	return nil
}

// ReadFrame returns the next frame of the stream, or a single capture
// when not streaming. ErrDeviceClosed means the stream ended.
func (c *V4L2Camera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	reader := c.reader
	width, height := c.width, c.height
	c.mu.Unlock()

	if reader == nil {
		return c.Capture()
	}

	data, err := readJPEG(reader)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
			return nil, ErrDeviceClosed
		}
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	return &Frame{
		Data:      data,
		Width:     width,
		Height:    height,
		Format:    "JPEG",
		Timestamp: time.Now(),
	}, nil
}

// readJPEG reads from the start-of-image marker to the end-of-image marker.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	// Skip to SOI
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	buf := bytes.NewBuffer(make([]byte, 0, 64*1024))
	buf.Write([]byte{0xFF, 0xD8})

	prev = 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		prev = b
	}
}

// getDeviceInfo queries v4l2-ctl for the device name and driver.
func (c *V4L2Camera) getDeviceInfo() DeviceInfo {
	return queryDeviceInfo(c.device)
}

func queryDeviceInfo(device string) DeviceInfo {
	info := DeviceInfo{Path: device}

	out, err := execCommand("v4l2-ctl", "--device="+device, "--info").Output()
	if err != nil {
		return info
	}

	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Driver name":
			info.Driver = strings.TrimSpace(value)
		case "Card type":
			info.Name = strings.TrimSpace(value)
		}
	}
	return info
}

// ListCameras returns the V4L2 devices present on the system.
func ListCameras() ([]DeviceInfo, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, 0, len(paths))
	for _, p := range paths {
		devices = append(devices, queryDeviceInfo(p))
	}
	return devices, nil
}
