// Package controller drives recognition from frame to frame.
//
// The Controller is a five-state machine (idle, analyzing, matched,
// unknown, cooldown) advanced once per frame by Tick. Matching runs on
// a matcher.Worker so that Tick never blocks on face encoding.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/display"
	"github.com/MrCodeEU/faceattend/pkg/matcher"
	"github.com/MrCodeEU/faceattend/pkg/overlay"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// State is a controller state.
type State int

const (
	Idle State = iota
	Analyzing
	Matched
	Unknown
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Analyzing:
		return "analyzing"
	case Matched:
		return "matched"
	case Unknown:
		return "unknown"
	case Cooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Detector finds face regions in a frame.
type Detector interface {
	DetectFaces(frame []byte) ([]recognition.Rectangle, error)
}

// Matcher runs match requests asynchronously. *matcher.Worker satisfies it.
type Matcher interface {
	Submit(req matcher.Request) (*matcher.Handle, error)
	Poll(h *matcher.Handle) (matcher.Result, bool)
	Abandon(h *matcher.Handle)
}

// Ledger records attendance. *attendance.Ledger satisfies it.
type Ledger interface {
	Mark(ctx context.Context, name string, now time.Time) (attendance.Outcome, error)
}

// Settings are the controller's timings, texts and policies.
type Settings struct {
	AnalyzingMin   time.Duration
	PollInterval   time.Duration
	MatchedDisplay time.Duration
	UnknownDisplay time.Duration
	Cooldown       time.Duration

	AnalyzingText string
	WelcomeText   string
	UnknownText   string

	// RecordUnknown appends an "Unknown" ledger row for faces that were
	// encoded but matched nobody.
	RecordUnknown bool

	// MaxFrameFailures ends Run after this many consecutive failed reads.
	// Zero means never.
	MaxFrameFailures int
}

// DefaultSettings returns the settings of config.DefaultConfig.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

// SettingsFromConfig extracts controller settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		AnalyzingMin:     cfg.Timing.AnalyzingMin(),
		PollInterval:     cfg.Timing.PollInterval(),
		MatchedDisplay:   cfg.Timing.MatchedDisplay(),
		UnknownDisplay:   cfg.Timing.UnknownDisplay(),
		Cooldown:         cfg.Timing.Cooldown(),
		AnalyzingText:    cfg.UI.AnalyzingText,
		WelcomeText:      cfg.UI.WelcomeText,
		UnknownText:      cfg.UI.UnknownText,
		RecordUnknown:    cfg.Attendance.RecordUnknown,
		MaxFrameFailures: cfg.Camera.MaxFrameFailures,
	}
}

// Session is the face currently being analyzed.
type Session struct {
	ID           uuid.UUID
	Regions      []recognition.Rectangle
	Frame        []byte
	DispatchedAt time.Time

	handle *matcher.Handle
}

// Controller is the recognition state machine. Tick, View and Run must be
// called from a single goroutine.
type Controller struct {
	detector Detector
	matcher  Matcher
	ledger   Ledger
	settings Settings
	log      *logrus.Entry
	now      func() time.Time

	state    State
	deadline time.Time
	session  *Session
	overlay  overlay.Overlay

	regions []recognition.Rectangle
	label   string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now in Run.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller in the idle state.
func New(d Detector, m Matcher, l Ledger, s Settings, log *logrus.Entry, opts ...Option) *Controller {
	c := &Controller{
		detector: d,
		matcher:  m,
		ledger:   l,
		settings: s,
		log:      log,
		now:      time.Now,
		state:    Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Overlay returns the current status message.
func (c *Controller) Overlay() overlay.State {
	return c.overlay.State()
}

// Session returns the active session, or nil outside analyzing.
func (c *Controller) Session() *Session {
	return c.session
}

// View returns what should be drawn on the current frame.
func (c *Controller) View() display.View {
	v := display.View{Overlay: c.overlay.State()}
	if c.state != Cooldown {
		v.Regions = c.regions
	}

	switch c.state {
	case Matched:
		v.Label = c.label
	case Unknown:
		v.Label = matcher.UnknownName
		v.Unknown = true
	}
	return v
}

// Tick advances the state machine with frame captured at now.
func (c *Controller) Tick(ctx context.Context, frame []byte, now time.Time) {
	c.overlay.Tick(now)

	switch c.state {
	case Idle:
		c.tickIdle(frame, now)
	case Analyzing:
		c.tickAnalyzing(ctx, now)
	case Matched, Unknown:
		if !now.Before(c.deadline) {
			c.overlay.Clear()
			c.enter(Cooldown, now.Add(c.settings.Cooldown))
		}
	case Cooldown:
		if !now.Before(c.deadline) {
			c.enterIdle()
		}
	}
}

func (c *Controller) tickIdle(frame []byte, now time.Time) {
	regions, err := c.detect(frame)
	if err != nil {
		c.log.WithError(err).Warn("Face detection failed, skipping frame")
		regions = nil
	}
	c.regions = regions
	if len(regions) == 0 {
		return
	}

	s := &Session{
		ID:           uuid.New(),
		Regions:      regions,
		Frame:        frame,
		DispatchedAt: now,
	}

	h, err := c.matcher.Submit(matcher.Request{
		SessionID: s.ID,
		Frame:     frame,
		Region:    primary(regions),
	})
	if err != nil {
		// The state machine keeps at most one request in flight, so a
		// refusal here is a bug. Stay idle and try again next frame.
		c.log.WithError(err).Error("Match worker refused submission")
		return
	}
	s.handle = h
	c.session = s

	c.overlay.Show(c.settings.AnalyzingText, false, 0, now)
	c.enter(Analyzing, now.Add(c.settings.AnalyzingMin))

	c.log.WithFields(logrus.Fields{
		"session": s.ID,
		"faces":   len(regions),
	}).Debug("Face detected, analyzing")
}

func (c *Controller) tickAnalyzing(ctx context.Context, now time.Time) {
	if now.Before(c.deadline) {
		return
	}

	res, ready := c.matcher.Poll(c.session.handle)
	if !ready {
		c.deadline = now.Add(c.settings.PollInterval)
		return
	}

	if res.SessionID != c.session.ID {
		c.log.WithFields(logrus.Fields{
			"session": c.session.ID,
			"result":  res.SessionID,
		}).Warn("Discarding match result of another session")
		c.enterIdle()
		return
	}
	c.session = nil

	if res.Matched {
		c.recordMatch(ctx, res.MatchedName, now)
		c.label = res.MatchedName
		c.overlay.Show(fmt.Sprintf("%s %s!", c.settings.WelcomeText, res.MatchedName), true, c.settings.MatchedDisplay, now)
		c.enter(Matched, now.Add(c.settings.MatchedDisplay))
		return
	}

	if res.HasEncoding && c.settings.RecordUnknown {
		c.recordMatch(ctx, matcher.UnknownName, now)
	}
	c.log.WithFields(logrus.Fields{
		"has_encoding": res.HasEncoding,
		"distance":     res.Distance,
	}).Info("Unknown person")
	c.label = matcher.UnknownName
	c.overlay.Show(c.settings.UnknownText, false, c.settings.UnknownDisplay, now)
	c.enter(Unknown, now.Add(c.settings.UnknownDisplay))
}

// detect runs the detector, turning a panic into ErrDetection so a bad
// frame costs one tick instead of the process.
func (c *Controller) detect(frame []byte) (regions []recognition.Rectangle, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.log.WithField("panic", p).Error("Face detector panicked")
			regions, err = nil, fmt.Errorf("%w: detector panic: %v", recognition.ErrDetection, p)
		}
	}()
	return c.detector.DetectFaces(frame)
}

// recordMatch marks name in the ledger. Failures are logged and dropped.
func (c *Controller) recordMatch(ctx context.Context, name string, now time.Time) {
	// A shutdown signal must not abort the append of the current tick.
	out, err := c.ledger.Mark(context.WithoutCancel(ctx), name, now)
	if err != nil {
		c.log.WithError(err).WithField("name", name).Error("Failed to record attendance")
		return
	}
	if out == attendance.AlreadyMarked {
		c.log.WithField("name", name).Info("Already marked today")
	}
}

func (c *Controller) enter(s State, deadline time.Time) {
	c.log.WithFields(logrus.Fields{
		"from": c.state,
		"to":   s,
	}).Debug("State transition")
	c.state = s
	c.deadline = deadline
}

func (c *Controller) enterIdle() {
	if c.session != nil {
		c.matcher.Abandon(c.session.handle)
		c.session = nil
	}
	c.overlay.Clear()
	c.regions = nil
	c.label = ""
	c.enter(Idle, time.Time{})
}

// primary returns the largest region; the first one wins on equal size.
func primary(regions []recognition.Rectangle) recognition.Rectangle {
	best := regions[0]
	for _, r := range regions[1:] {
		if r.Width*r.Height > best.Width*best.Height {
			best = r
		}
	}
	return best
}
