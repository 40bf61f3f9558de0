package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/matcher"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

type mockDetector struct {
	DetectFacesFunc func(frame []byte) ([]recognition.Rectangle, error)
	calls           int
}

func (m *mockDetector) DetectFaces(frame []byte) ([]recognition.Rectangle, error) {
	m.calls++
	if m.DetectFacesFunc != nil {
		return m.DetectFacesFunc(frame)
	}
	return nil, nil
}

func faceDetector(regions ...recognition.Rectangle) *mockDetector {
	return &mockDetector{
		DetectFacesFunc: func([]byte) ([]recognition.Rectangle, error) {
			return regions, nil
		},
	}
}

// mockMatcher hands out handles and returns result once ready is set.
type mockMatcher struct {
	SubmitErr error
	result    matcher.Result
	ready     bool
	stale     bool

	requests  []matcher.Request
	polls     int
	abandoned int
}

func (m *mockMatcher) Submit(req matcher.Request) (*matcher.Handle, error) {
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	m.requests = append(m.requests, req)
	return &matcher.Handle{SessionID: req.SessionID}, nil
}

func (m *mockMatcher) Poll(h *matcher.Handle) (matcher.Result, bool) {
	m.polls++
	if !m.ready {
		return matcher.Result{}, false
	}
	m.ready = false
	res := m.result
	res.SessionID = h.SessionID
	if m.stale {
		res.SessionID = uuid.New()
	}
	return res, true
}

func (m *mockMatcher) Abandon(*matcher.Handle) {
	m.abandoned++
}

type mockLedger struct {
	MarkFunc func(ctx context.Context, name string, now time.Time) (attendance.Outcome, error)
	marked   []string
}

func (m *mockLedger) Mark(ctx context.Context, name string, now time.Time) (attendance.Outcome, error) {
	m.marked = append(m.marked, name)
	if m.MarkFunc != nil {
		return m.MarkFunc(ctx, name, now)
	}
	return attendance.Recorded, nil
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)

func at(d time.Duration) time.Time { return t0.Add(d) }

func testLog() *logrus.Entry {
	return logging.Discard().Component("controller")
}

func newTestController(d Detector, m Matcher, l Ledger, s Settings) *Controller {
	return New(d, m, l, s, testLog())
}

var frame = []byte("frame")

func TestState_String(t *testing.T) {
	want := map[State]string{
		Idle:      "idle",
		Analyzing: "analyzing",
		Matched:   "matched",
		Unknown:   "unknown",
		Cooldown:  "cooldown",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d.String() = %s, want %s", int(s), s.String(), name)
		}
	}
}

func TestIdle_NoFaceStaysIdle(t *testing.T) {
	det := &mockDetector{}
	m := &mockMatcher{}
	c := newTestController(det, m, &mockLedger{}, DefaultSettings())

	for i := 0; i < 100; i++ {
		c.Tick(context.Background(), frame, at(time.Duration(i)*33*time.Millisecond))
		if c.State() != Idle {
			t.Fatalf("tick %d: state = %s, want idle", i, c.State())
		}
	}
	if det.calls != 100 {
		t.Errorf("expected detection on every idle tick, got %d", det.calls)
	}
	if len(m.requests) != 0 {
		t.Error("no match should be submitted without a face")
	}
	if c.Overlay().Message != "" {
		t.Error("overlay should be empty while idle")
	}
}

func TestIdle_DetectorErrorIsSkipped(t *testing.T) {
	det := &mockDetector{
		DetectFacesFunc: func([]byte) ([]recognition.Rectangle, error) {
			return nil, recognition.ErrDetection
		},
	}
	c := newTestController(det, &mockMatcher{}, &mockLedger{}, DefaultSettings())

	c.Tick(context.Background(), frame, t0)
	if c.State() != Idle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

func TestIdle_DetectorPanicIsSkipped(t *testing.T) {
	panics := true
	det := &mockDetector{
		DetectFacesFunc: func([]byte) ([]recognition.Rectangle, error) {
			if panics {
				panic("dlib: bad frame")
			}
			return []recognition.Rectangle{{Width: 10, Height: 10}}, nil
		},
	}
	m := &mockMatcher{}
	c := newTestController(det, m, &mockLedger{}, DefaultSettings())

	c.Tick(context.Background(), frame, t0)
	if c.State() != Idle {
		t.Errorf("state = %s, want idle", c.State())
	}
	if len(m.requests) != 0 {
		t.Error("no match should be submitted after a detector panic")
	}
	if v := c.View(); len(v.Regions) != 0 {
		t.Errorf("expected no regions, got %+v", v.Regions)
	}

	regions, err := c.detect(frame)
	if !errors.Is(err, recognition.ErrDetection) || regions != nil {
		t.Errorf("detect() = %v, %v, want nil, ErrDetection", regions, err)
	}

	panics = false
	c.Tick(context.Background(), frame, at(33*time.Millisecond))
	if c.State() != Analyzing {
		t.Errorf("state = %s, want analyzing once detection works again", c.State())
	}
}

func TestIdle_FaceStartsSession(t *testing.T) {
	small := recognition.Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	big := recognition.Rectangle{X: 100, Y: 100, Width: 80, Height: 80}
	m := &mockMatcher{}
	c := newTestController(faceDetector(small, big), m, &mockLedger{}, DefaultSettings())

	c.Tick(context.Background(), frame, t0)

	if c.State() != Analyzing {
		t.Fatalf("state = %s, want analyzing", c.State())
	}
	if len(m.requests) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(m.requests))
	}
	if m.requests[0].Region != big {
		t.Errorf("expected the largest region to be matched, got %+v", m.requests[0].Region)
	}

	s := c.Session()
	if s == nil || s.ID != m.requests[0].SessionID || !s.DispatchedAt.Equal(t0) {
		t.Errorf("unexpected session %+v", s)
	}

	ov := c.Overlay()
	if ov.Message != "Analyzing..." || ov.Decorated || !ov.ExpiresAt.IsZero() {
		t.Errorf("unexpected overlay %+v", ov)
	}
	if v := c.View(); len(v.Regions) != 2 || v.Label != "" {
		t.Errorf("unexpected view %+v", v)
	}
}

func TestIdle_SubmitRefusedStaysIdle(t *testing.T) {
	m := &mockMatcher{SubmitErr: matcher.ErrConcurrentSubmission}
	c := newTestController(faceDetector(recognition.Rectangle{Width: 10, Height: 10}), m, &mockLedger{}, DefaultSettings())

	c.Tick(context.Background(), frame, t0)
	if c.State() != Idle {
		t.Errorf("state = %s, want idle", c.State())
	}
	if c.Session() != nil || c.Overlay().Message != "" {
		t.Error("no session or overlay expected after a refused submission")
	}
}

func TestAnalyzing_MinimumDuration(t *testing.T) {
	m := &mockMatcher{result: matcher.Result{MatchedName: "ALICE", Matched: true, HasEncoding: true}}
	c := newTestController(faceDetector(recognition.Rectangle{Width: 10, Height: 10}), m, &mockLedger{}, DefaultSettings())
	ctx := context.Background()

	c.Tick(ctx, frame, t0)
	m.ready = true // result available immediately

	for _, d := range []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 999 * time.Millisecond} {
		c.Tick(ctx, frame, at(d))
		if c.State() != Analyzing {
			t.Fatalf("at %v: state = %s, want analyzing", d, c.State())
		}
	}
	if m.polls != 0 {
		t.Errorf("worker polled %d times before the minimum elapsed", m.polls)
	}

	c.Tick(ctx, frame, at(time.Second))
	if c.State() != Matched {
		t.Errorf("state = %s, want matched", c.State())
	}
}

func TestAnalyzing_NotReadyExtendsByPollInterval(t *testing.T) {
	m := &mockMatcher{}
	c := newTestController(faceDetector(recognition.Rectangle{Width: 10, Height: 10}), m, &mockLedger{}, DefaultSettings())
	ctx := context.Background()

	c.Tick(ctx, frame, t0)
	c.Tick(ctx, frame, at(time.Second))
	if m.polls != 1 || c.State() != Analyzing {
		t.Fatalf("polls = %d, state = %s", m.polls, c.State())
	}

	c.Tick(ctx, frame, at(1050*time.Millisecond))
	if m.polls != 1 {
		t.Error("should not poll again before the poll interval")
	}

	m.result = matcher.Result{MatchedName: matcher.UnknownName, HasEncoding: true}
	m.ready = true
	c.Tick(ctx, frame, at(1100*time.Millisecond))
	if m.polls != 2 || c.State() != Unknown {
		t.Errorf("polls = %d, state = %s; want 2, unknown", m.polls, c.State())
	}
}

func TestMatchedFlow(t *testing.T) {
	region := recognition.Rectangle{X: 5, Y: 5, Width: 50, Height: 50}
	m := &mockMatcher{result: matcher.Result{MatchedName: "ALICE", Matched: true, HasEncoding: true, Distance: 0.1}}
	ledger := &mockLedger{}
	c := newTestController(faceDetector(region), m, ledger, DefaultSettings())
	ctx := context.Background()

	c.Tick(ctx, frame, t0)
	m.ready = true
	c.Tick(ctx, frame, at(time.Second))

	if c.State() != Matched {
		t.Fatalf("state = %s, want matched", c.State())
	}
	if len(ledger.marked) != 1 || ledger.marked[0] != "ALICE" {
		t.Errorf("ledger marks = %v, want [ALICE]", ledger.marked)
	}
	ov := c.Overlay()
	if ov.Message != "Welcome, ALICE!" || !ov.Decorated || !ov.ExpiresAt.Equal(at(3*time.Second)) {
		t.Errorf("unexpected overlay %+v", ov)
	}
	if v := c.View(); v.Label != "ALICE" || v.Unknown || len(v.Regions) != 1 {
		t.Errorf("unexpected view %+v", v)
	}
	if c.Session() != nil {
		t.Error("session should end when leaving analyzing")
	}

	c.Tick(ctx, frame, at(2900*time.Millisecond))
	if c.State() != Matched {
		t.Fatalf("state = %s, want matched before the display time", c.State())
	}

	c.Tick(ctx, frame, at(3*time.Second))
	if c.State() != Cooldown {
		t.Fatalf("state = %s, want cooldown", c.State())
	}
	if c.Overlay().Message != "" {
		t.Error("overlay should be cleared in cooldown")
	}
	if v := c.View(); len(v.Regions) != 0 || v.Label != "" {
		t.Errorf("cooldown should draw nothing, got %+v", v)
	}

	detections := 0
	if d, ok := c.detector.(*mockDetector); ok {
		detections = d.calls
	}
	c.Tick(ctx, frame, at(4*time.Second))
	if d, ok := c.detector.(*mockDetector); ok && d.calls != detections {
		t.Error("cooldown must not run detection")
	}

	c.Tick(ctx, frame, at(5*time.Second))
	if c.State() != Idle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

func TestUnknownFlow(t *testing.T) {
	tests := []struct {
		name          string
		hasEncoding   bool
		recordUnknown bool
		wantMarks     int
	}{
		{name: "not recorded by default", hasEncoding: true, wantMarks: 0},
		{name: "recorded when enabled", hasEncoding: true, recordUnknown: true, wantMarks: 1},
		{name: "no encoding never recorded", hasEncoding: false, recordUnknown: true, wantMarks: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			settings.RecordUnknown = tt.recordUnknown
			m := &mockMatcher{result: matcher.Result{MatchedName: matcher.UnknownName, HasEncoding: tt.hasEncoding, Distance: 0.9}}
			ledger := &mockLedger{}
			c := newTestController(faceDetector(recognition.Rectangle{Width: 10, Height: 10}), m, ledger, settings)
			ctx := context.Background()

			c.Tick(ctx, frame, t0)
			m.ready = true
			c.Tick(ctx, frame, at(time.Second))

			if c.State() != Unknown {
				t.Fatalf("state = %s, want unknown", c.State())
			}
			if len(ledger.marked) != tt.wantMarks {
				t.Errorf("ledger marks = %v, want %d", ledger.marked, tt.wantMarks)
			}
			if tt.wantMarks == 1 && ledger.marked[0] != matcher.UnknownName {
				t.Errorf("expected Unknown row, got %s", ledger.marked[0])
			}

			ov := c.Overlay()
			if ov.Message != "Unknown Person" || ov.Decorated {
				t.Errorf("unexpected overlay %+v", ov)
			}
			if v := c.View(); !v.Unknown || v.Label != matcher.UnknownName {
				t.Errorf("unexpected view %+v", v)
			}

			c.Tick(ctx, frame, at(3*time.Second))
			if c.State() != Cooldown {
				t.Errorf("state = %s, want cooldown", c.State())
			}
		})
	}
}

func TestMatched_LedgerErrorDoesNotChangeTransition(t *testing.T) {
	m := &mockMatcher{result: matcher.Result{MatchedName: "ALICE", Matched: true, HasEncoding: true}}
	ledger := &mockLedger{
		MarkFunc: func(context.Context, string, time.Time) (attendance.Outcome, error) {
			return 0, &attendance.IOError{Op: "append", Err: errors.New("disk full")}
		},
	}
	c := newTestController(faceDetector(recognition.Rectangle{Width: 10, Height: 10}), m, ledger, DefaultSettings())

	c.Tick(context.Background(), frame, t0)
	m.ready = true
	c.Tick(context.Background(), frame, at(time.Second))

	if c.State() != Matched {
		t.Errorf("state = %s, want matched", c.State())
	}
	if c.Overlay().Message != "Welcome, ALICE!" {
		t.Errorf("unexpected overlay %q", c.Overlay().Message)
	}
}

func TestMatched_MarkSurvivesCancelledContext(t *testing.T) {
	m := &mockMatcher{result: matcher.Result{MatchedName: "ALICE", Matched: true, HasEncoding: true}}
	var markErr error
	ledger := &mockLedger{
		MarkFunc: func(ctx context.Context, _ string, _ time.Time) (attendance.Outcome, error) {
			markErr = ctx.Err()
			return attendance.Recorded, markErr
		},
	}
	c := newTestController(faceDetector(recognition.Rectangle{Width: 10, Height: 10}), m, ledger, DefaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	c.Tick(ctx, frame, t0)
	m.ready = true
	cancel()
	c.Tick(ctx, frame, at(time.Second))

	if markErr != nil {
		t.Errorf("ledger saw a cancelled context: %v", markErr)
	}
	if len(ledger.marked) != 1 {
		t.Errorf("expected one mark, got %d", len(ledger.marked))
	}
}

func TestAnalyzing_StaleResultDiscarded(t *testing.T) {
	m := &mockMatcher{
		result: matcher.Result{MatchedName: "ALICE", Matched: true, HasEncoding: true},
		stale:  true,
	}
	ledger := &mockLedger{}
	c := newTestController(faceDetector(recognition.Rectangle{Width: 10, Height: 10}), m, ledger, DefaultSettings())

	c.Tick(context.Background(), frame, t0)
	m.ready = true
	c.Tick(context.Background(), frame, at(time.Second))

	if c.State() != Idle {
		t.Errorf("state = %s, want idle", c.State())
	}
	if len(ledger.marked) != 0 {
		t.Error("a stale result must not touch the ledger")
	}
	if m.abandoned != 1 {
		t.Errorf("expected the session handle to be abandoned, got %d", m.abandoned)
	}
}
