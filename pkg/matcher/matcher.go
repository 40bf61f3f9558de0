// Package matcher runs face encoding and gallery matching off the frame loop.
//
// A Worker accepts one request at a time. The caller submits a request,
// keeps processing frames, and polls the returned Handle until the result
// is ready. Results carry the session ID they were submitted with so a
// caller can recognise and drop stale ones.
package matcher

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/faceattend/pkg/gallery"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// UnknownName is reported when a face does not match any identity.
const UnknownName = "Unknown"

// ErrConcurrentSubmission is returned by Submit while an earlier request is
// still outstanding.
var ErrConcurrentSubmission = errors.New("match request already outstanding")

// Encoder computes a descriptor for the face in region of a JPEG frame.
// *recognition.DlibRecognizer satisfies it.
type Encoder interface {
	Encode(frame []byte, region recognition.Rectangle) (recognition.Descriptor, error)
}

// Request is one match job. Frame is owned by the worker once submitted.
type Request struct {
	SessionID uuid.UUID
	Frame     []byte
	Region    recognition.Rectangle
}

// Result is the outcome of a match job.
type Result struct {
	SessionID   uuid.UUID
	MatchedName string
	Matched     bool
	HasEncoding bool
	Distance    float64
}

// Handle refers to a submitted request.
type Handle struct {
	SessionID uuid.UUID
	ch        chan Result
}

// Worker matches faces against a fixed gallery.
type Worker struct {
	gallery   *gallery.Store
	encoder   Encoder
	threshold float64
	log       *logrus.Entry

	mu          sync.Mutex
	outstanding *Handle
}

// NewWorker creates a worker. A match requires a distance strictly below threshold.
func NewWorker(g *gallery.Store, encoder Encoder, threshold float64, log *logrus.Entry) *Worker {
	return &Worker{
		gallery:   g,
		encoder:   encoder,
		threshold: threshold,
		log:       log,
	}
}

// Submit starts matching req in the background and returns immediately.
func (w *Worker) Submit(req Request) (*Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.outstanding != nil {
		return nil, ErrConcurrentSubmission
	}

	h := &Handle{SessionID: req.SessionID, ch: make(chan Result, 1)}
	w.outstanding = h

	go w.run(req, h.ch)
	return h, nil
}

// Poll returns the result of h if it is ready. A result is returned once;
// later polls of the same handle report not ready.
func (w *Worker) Poll(h *Handle) (Result, bool) {
	if h == nil {
		return Result{}, false
	}

	select {
	case res := <-h.ch:
		w.release(h)
		return res, true
	default:
		return Result{}, false
	}
}

// Abandon gives up on h. Its job still runs to completion but the result
// is never read.
func (w *Worker) Abandon(h *Handle) {
	w.release(h)
}

// Busy reports whether a request is outstanding.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding != nil
}

func (w *Worker) release(h *Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outstanding == h {
		w.outstanding = nil
	}
}

func (w *Worker) run(req Request, ch chan<- Result) {
	res := Result{SessionID: req.SessionID, MatchedName: UnknownName}

	defer func() {
		if p := recover(); p != nil {
			w.log.WithFields(logrus.Fields{
				"session": req.SessionID,
				"panic":   p,
			}).Error("Face encoder panicked")
			res = Result{SessionID: req.SessionID, MatchedName: UnknownName}
		}
		ch <- res
	}()

	probe, err := w.encoder.Encode(req.Frame, req.Region)
	if err != nil {
		entry := w.log.WithField("session", req.SessionID)
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			entry.Debug("No face found in detected region")
		} else {
			entry.WithError(err).Warn("Face encoding failed")
		}
		return
	}

	res = Match(probe, w.gallery, w.threshold)
	res.SessionID = req.SessionID

	w.log.WithFields(logrus.Fields{
		"session":  req.SessionID,
		"name":     res.MatchedName,
		"distance": res.Distance,
	}).Debug("Match finished")
}

// Match compares probe with every identity in g. The closest identity wins;
// on equal distances the one enrolled first wins. It is a match only when
// the distance is strictly below threshold.
func Match(probe recognition.Descriptor, g *gallery.Store, threshold float64) Result {
	res := Result{MatchedName: UnknownName, HasEncoding: true}

	idx, dist, ok := recognition.FindBestMatch(probe, g.Signatures(), threshold)
	res.Distance = dist
	if idx < 0 || !ok {
		return res
	}

	res.MatchedName = g.Names()[idx]
	res.Matched = true
	return res
}
