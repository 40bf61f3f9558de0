// Package overlay holds the transient status message drawn over the preview.
package overlay

import "time"

// State is the message currently on screen. A zero ExpiresAt never expires.
type State struct {
	Message   string
	Decorated bool
	ExpiresAt time.Time
}

// Overlay is a single status message slot. It is not safe for concurrent use.
type Overlay struct {
	state State
}

// Show replaces the current message. A non-positive d keeps it until cleared.
func (o *Overlay) Show(message string, decorated bool, d time.Duration, now time.Time) {
	o.state = State{Message: message, Decorated: decorated}
	if d > 0 {
		o.state.ExpiresAt = now.Add(d)
	}
}

// Tick clears an expired message and reports whether it did.
func (o *Overlay) Tick(now time.Time) bool {
	if o.state.Message == "" || o.state.ExpiresAt.IsZero() {
		return false
	}
	if now.Before(o.state.ExpiresAt) {
		return false
	}
	o.Clear()
	return true
}

// Clear removes the message.
func (o *Overlay) Clear() {
	o.state = State{}
}

// State returns the current message.
func (o *Overlay) State() State {
	return o.state
}

// Visible reports whether a message is set.
func (o *Overlay) Visible() bool {
	return o.state.Message != ""
}
