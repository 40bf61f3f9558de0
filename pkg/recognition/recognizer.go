// Package recognition provides face detection and recognition functionality.
// It uses dlib/go-face for face detection, landmark extraction, and embedding generation.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/Kagami/go-face"
)

// DescriptorSize is the length of a dlib face descriptor.
const DescriptorSize = len(face.Descriptor{})

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Rectangle represents a bounding box in frame pixels.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when multiple faces are detected.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrDetection wraps failures of the face detector on a frame.
var ErrDetection = errors.New("face detection failed")

// ErrEncoding wraps failures of the face encoder on a region.
var ErrEncoding = errors.New("face encoding failed")

// FaceEngine is the subset of *face.Recognizer used here.
type FaceEngine interface {
	Recognize(data []byte) ([]face.Face, error)
	Close()
}

func newDlibEngine(modelPath string) (FaceEngine, error) {
	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DlibRecognizer implements face detection and encoding using dlib via go-face.
// dlib is not safe for concurrent use, so every engine call holds mu.
type DlibRecognizer struct {
	engine      FaceEngine
	factory     func(modelPath string) (FaceEngine, error)
	modelPath   string
	loaded      bool
	mu          sync.Mutex
	detectScale float64
	cropPadding float64
}

// NewRecognizer creates a new DlibRecognizer instance.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory:     newDlibEngine,
		detectScale: 0.25,
		cropPadding: 0.25,
	}
}

// SetDetectScale sets the downscale factor used for the detection pass.
// Smaller values detect faster but miss small faces.
func (r *DlibRecognizer) SetDetectScale(scale float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if scale > 0 && scale <= 1 {
		r.detectScale = scale
	}
}

// LoadModels loads the dlib face recognition models from the specified path.
// The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat (optional, for CNN detection)
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// DetectFaces finds face regions in a JPEG frame.
// Detection runs on a downscaled copy; the returned rectangles are in
// full-frame coordinates. An empty slice means no face was found.
func (r *DlibRecognizer) DetectFaces(frame []byte) ([]Rectangle, error) {
	img, err := decodeImage(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	r.mu.Lock()
	scale := r.detectScale
	r.mu.Unlock()

	small := scaleImage(img, scale)
	data, err := encodeJPEG(small)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	faces, err := r.recognize(data)
	if err != nil {
		return nil, err
	}

	regions := make([]Rectangle, 0, len(faces))
	for _, f := range faces {
		region := fromImageRect(f.Rectangle).Scale(1/scale).Clamp(img.Bounds())
		if region.Empty() {
			continue
		}
		regions = append(regions, region)
	}
	return regions, nil
}

// Encode computes the descriptor of the face inside region of a JPEG frame.
// It returns ErrNoFaceDetected when dlib finds no face in the crop.
func (r *DlibRecognizer) Encode(frame []byte, region Rectangle) (Descriptor, error) {
	img, err := decodeImage(frame)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	crop := cropImage(img, region.Pad(r.cropPadding, img.Bounds()).ImageRect())
	data, err := encodeJPEG(crop)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	faces, err := r.recognize(data)
	if err != nil {
		if errors.Is(err, ErrModelNotLoaded) {
			return Descriptor{}, err
		}
		return Descriptor{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(faces) == 0 {
		return Descriptor{}, ErrNoFaceDetected
	}

	// The padded crop can catch the edge of a neighbour; keep the largest face.
	best := faces[0]
	for _, f := range faces[1:] {
		if area(f.Rectangle) > area(best.Rectangle) {
			best = f
		}
	}
	return best.Descriptor, nil
}

// DescriptorFromFile detects exactly one face in an image file and returns
// its descriptor. Used when enrolling identities.
func (r *DlibRecognizer) DescriptorFromFile(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r.DescriptorFromImage(raw)
}

// DescriptorFromImage detects exactly one face in an encoded JPEG or PNG
// image and returns its descriptor.
func (r *DlibRecognizer) DescriptorFromImage(raw []byte) (Descriptor, error) {
	// go-face only accepts JPEG, so PNG enrollment photos are re-encoded.
	img, err := decodeImage(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	data, err := encodeJPEG(img)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	faces, err := r.recognize(data)
	if err != nil {
		return Descriptor{}, err
	}

	switch len(faces) {
	case 0:
		return Descriptor{}, ErrNoFaceDetected
	case 1:
		return faces[0].Descriptor, nil
	default:
		return Descriptor{}, ErrMultipleFaces
	}
}

func (r *DlibRecognizer) recognize(data []byte) ([]face.Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	faces, err := r.engine.Recognize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	return faces, nil
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// FindBestMatch finds the gallery descriptor closest to probe.
// Returns the index of the best match, the distance, and whether it is
// strictly below threshold. Ties keep the lowest index.
func FindBestMatch(probe Descriptor, gallery []Descriptor, threshold float64) (int, float64, bool) {
	if len(gallery) == 0 {
		return -1, math.MaxFloat64, false
	}

	bestIdx := 0
	bestDist := math.MaxFloat64

	for i, d := range gallery {
		dist := EuclideanDistance(probe, d)
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	return bestIdx, bestDist, bestDist < threshold
}

// AverageDescriptors computes the mean of several descriptors.
// This is useful for combining multiple enrollment photos of the same face.
func AverageDescriptors(descriptors []Descriptor) Descriptor {
	var avg Descriptor
	if len(descriptors) == 0 {
		return avg
	}

	for _, d := range descriptors {
		for i, v := range d {
			avg[i] += v
		}
	}

	count := float32(len(descriptors))
	for i := range avg {
		avg[i] /= count
	}
	return avg
}

func fromImageRect(r image.Rectangle) Rectangle {
	return Rectangle{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// ImageRect converts the rectangle to an image.Rectangle.
func (r Rectangle) ImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the rectangle has no area.
func (r Rectangle) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Scale multiplies every coordinate by factor.
func (r Rectangle) Scale(factor float64) Rectangle {
	return Rectangle{
		X:      int(math.Round(float64(r.X) * factor)),
		Y:      int(math.Round(float64(r.Y) * factor)),
		Width:  int(math.Round(float64(r.Width) * factor)),
		Height: int(math.Round(float64(r.Height) * factor)),
	}
}

// Clamp restricts the rectangle to bounds.
func (r Rectangle) Clamp(bounds image.Rectangle) Rectangle {
	return fromImageRect(r.ImageRect().Intersect(bounds))
}

// Pad grows the rectangle by frac of its size on every side, clamped to bounds.
func (r Rectangle) Pad(frac float64, bounds image.Rectangle) Rectangle {
	dx := int(float64(r.Width) * frac)
	dy := int(float64(r.Height) * frac)
	padded := Rectangle{
		X:      r.X - dx,
		Y:      r.Y - dy,
		Width:  r.Width + 2*dx,
		Height: r.Height + 2*dy,
	}
	return padded.Clamp(bounds)
}
