// Package hotkey maps symbolic input events (keyboard key names and the
// five mouse buttons) to push-to-talk and quick-switch actions.
//
// The front-end feeds raw press/release events in; the router owns the
// PTT timing rule: a TX-start sound plays immediately on press, but
// transmission only starts after a short arming delay. Releasing before
// the delay elapses cancels silently.
package hotkey

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// TransmitDelay is the arming delay between a PTT press and the first
// transmitted frame, long enough for the TX-start sound to finish.
const TransmitDelay = 800 * time.Millisecond

// MouseButtons are the recognised mouse inputs.
var MouseButtons = []string{"mouse1", "mouse2", "mouse3", "mouse4", "mouse5"}

// IsMouseButton reports whether the symbolic input names a mouse button.
func IsMouseButton(input string) bool {
	for _, b := range MouseButtons {
		if input == b {
			return true
		}
	}
	return false
}

// Bindings are the configured input assignments. Empty strings disable
// a binding.
type Bindings struct {
	Primary   string // primary-channel PTT
	Secondary string // secondary-channel (41) PTT
	Channel1  string // quick-switch to Channel1Target
	Channel2  string // quick-switch to Channel2Target

	Channel1Target uint8
	Channel2Target uint8
}

// Hooks are the router's outputs. All are optional; they are invoked
// from router goroutines and must not block.
type Hooks struct {
	// PlayTXStart fires immediately on a PTT press.
	PlayTXStart func()
	// TransmitStart fires when the arming delay elapses with the key
	// still held. secondary selects the channel-41 session.
	TransmitStart func(secondary bool)
	// TransmitStop fires when a transmitting PTT key is released.
	TransmitStop func()
	// QuickSwitch fires on a quick-switch press with the target channel.
	QuickSwitch func(target uint8)
}

// pttState tracks one PTT binding through press → armed → transmitting.
type pttState struct {
	held         bool
	transmitting bool
	armTimer     *time.Timer
}

// Router dispatches input events to actions. Safe for concurrent use.
type Router struct {
	logger *slog.Logger

	mu       sync.Mutex
	bindings Bindings
	hooks    Hooks
	enabled  bool
	delay    time.Duration

	primary   pttState
	secondary pttState
	ch1Held   bool
	ch2Held   bool
}

// NewRouter creates a router with the given bindings and hooks.
func NewRouter(bindings Bindings, hooks Hooks, logger *slog.Logger) *Router {
	return &Router{
		logger:   logger.With("subsystem", "hotkeys"),
		bindings: bindings,
		hooks:    hooks,
		delay:    TransmitDelay,
	}
}

// Enable starts dispatching events.
func (r *Router) Enable() {
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	r.logger.Info("hotkeys enabled",
		"primary", r.bindings.Primary,
		"secondary", r.bindings.Secondary,
	)
}

// Disable stops dispatching and releases any held PTT.
func (r *Router) Disable() {
	r.mu.Lock()
	r.enabled = false
	stopPrimary := r.releaseLocked(&r.primary)
	stopSecondary := r.releaseLocked(&r.secondary)
	r.ch1Held, r.ch2Held = false, false
	hooks := r.hooks
	r.mu.Unlock()

	if (stopPrimary || stopSecondary) && hooks.TransmitStop != nil {
		hooks.TransmitStop()
	}
	r.logger.Info("hotkeys disabled")
}

// SetBindings replaces the input assignments.
func (r *Router) SetBindings(b Bindings) {
	r.mu.Lock()
	r.bindings = b
	r.mu.Unlock()
}

// Press feeds one press event with its symbolic input name.
func (r *Router) Press(input string) {
	input = normalize(input)

	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}

	switch input {
	case r.bindings.Primary:
		r.pressPTTLocked(&r.primary, false)
		r.mu.Unlock()
	case r.bindings.Secondary:
		r.pressPTTLocked(&r.secondary, true)
		r.mu.Unlock()
	case r.bindings.Channel1:
		fire := !r.ch1Held
		r.ch1Held = true
		target := r.bindings.Channel1Target
		hooks := r.hooks
		r.mu.Unlock()
		if fire && hooks.QuickSwitch != nil {
			hooks.QuickSwitch(target)
		}
	case r.bindings.Channel2:
		fire := !r.ch2Held
		r.ch2Held = true
		target := r.bindings.Channel2Target
		hooks := r.hooks
		r.mu.Unlock()
		if fire && hooks.QuickSwitch != nil {
			hooks.QuickSwitch(target)
		}
	default:
		r.mu.Unlock()
	}
}

// Release feeds one release event with its symbolic input name.
func (r *Router) Release(input string) {
	input = normalize(input)

	r.mu.Lock()
	switch input {
	case r.bindings.Primary:
		wasTransmitting := r.releaseLocked(&r.primary)
		hooks := r.hooks
		r.mu.Unlock()
		if wasTransmitting && hooks.TransmitStop != nil {
			hooks.TransmitStop()
		}
	case r.bindings.Secondary:
		wasTransmitting := r.releaseLocked(&r.secondary)
		hooks := r.hooks
		r.mu.Unlock()
		if wasTransmitting && hooks.TransmitStop != nil {
			hooks.TransmitStop()
		}
	case r.bindings.Channel1:
		r.ch1Held = false
		r.mu.Unlock()
	case r.bindings.Channel2:
		r.ch2Held = false
		r.mu.Unlock()
	default:
		r.mu.Unlock()
	}
}

// pressPTTLocked arms a PTT binding: TX sound now, transmission after
// the delay if still held. Repeats while held are ignored. Caller holds mu.
func (r *Router) pressPTTLocked(st *pttState, secondary bool) {
	if st.held {
		return
	}
	st.held = true
	hooks := r.hooks

	if hooks.PlayTXStart != nil {
		go hooks.PlayTXStart()
	}

	st.armTimer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if !st.held || !r.enabled {
			r.mu.Unlock()
			return
		}
		st.transmitting = true
		hooks := r.hooks
		r.mu.Unlock()

		if hooks.TransmitStart != nil {
			hooks.TransmitStart(secondary)
		}
	})
}

// releaseLocked clears a PTT binding and reports whether it was
// transmitting (the caller then fires TransmitStop). A release during
// the arming delay cancels silently. Caller holds mu.
func (r *Router) releaseLocked(st *pttState) bool {
	if !st.held {
		return false
	}
	st.held = false
	if st.armTimer != nil {
		st.armTimer.Stop()
		st.armTimer = nil
	}
	was := st.transmitting
	st.transmitting = false
	return was
}

// normalize lower-cases symbolic input names so bindings are
// case-insensitive.
func normalize(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}
