package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/display"
)

// ErrDeviceLost is returned by Run when frames stop arriving.
var ErrDeviceLost = errors.New("capture device lost")

// Source supplies frames. *camera.V4L2Camera satisfies it.
type Source interface {
	ReadFrame() (*camera.Frame, error)
}

// Sink presents annotated frames.
type Sink interface {
	Present(frame *camera.Frame, v display.View) error
}

// Run reads frames from src, advances the state machine and hands each
// frame to sink until ctx is done. It returns nil on cancellation and
// ErrDeviceLost when the source stops producing frames.
func (c *Controller) Run(ctx context.Context, src Source, sink Sink) error {
	failures := 0

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		default:
		}

		frame, err := src.ReadFrame()
		if err != nil {
			if errors.Is(err, camera.ErrDeviceClosed) {
				c.shutdown()
				return fmt.Errorf("%w: %v", ErrDeviceLost, err)
			}

			failures++
			c.log.WithError(err).WithField("failures", failures).Warn("Failed to read frame")
			if c.settings.MaxFrameFailures > 0 && failures >= c.settings.MaxFrameFailures {
				c.shutdown()
				return fmt.Errorf("%w: %d consecutive read failures: %v", ErrDeviceLost, failures, err)
			}
			continue
		}
		failures = 0

		c.Tick(ctx, frame.Data, c.now())

		if err := sink.Present(frame, c.View()); err != nil {
			c.log.WithError(err).Warn("Failed to present frame")
		}
	}
}

// shutdown drops an in-flight session. The worker finishes on its own.
func (c *Controller) shutdown() {
	if c.session != nil {
		c.matcher.Abandon(c.session.handle)
		c.session = nil
	}
	c.log.WithField("state", c.state).Info("Recognition loop stopped")
}
