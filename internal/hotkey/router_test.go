package hotkey

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recorder captures hook invocations.
type recorder struct {
	mu       sync.Mutex
	txSounds int
	starts   []bool // secondary flag per start
	stops    int
	switches []uint8
}

func (rec *recorder) hooks() Hooks {
	return Hooks{
		PlayTXStart: func() {
			rec.mu.Lock()
			rec.txSounds++
			rec.mu.Unlock()
		},
		TransmitStart: func(secondary bool) {
			rec.mu.Lock()
			rec.starts = append(rec.starts, secondary)
			rec.mu.Unlock()
		},
		TransmitStop: func() {
			rec.mu.Lock()
			rec.stops++
			rec.mu.Unlock()
		},
		QuickSwitch: func(target uint8) {
			rec.mu.Lock()
			rec.switches = append(rec.switches, target)
			rec.mu.Unlock()
		},
	}
}

func (rec *recorder) snapshot() (sounds int, starts []bool, stops int, switches []uint8) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.txSounds, append([]bool(nil), rec.starts...), rec.stops, append([]uint8(nil), rec.switches...)
}

func testBindings() Bindings {
	return Bindings{
		Primary:        "f8",
		Secondary:      "mouse4",
		Channel1:       "f1",
		Channel2:       "f2",
		Channel1Target: 52,
		Channel2Target: 55,
	}
}

func newTestRouter(rec *recorder) *Router {
	r := NewRouter(testBindings(), rec.hooks(), slog.New(slog.DiscardHandler))
	r.delay = 30 * time.Millisecond
	r.Enable()
	return r
}

func waitHook(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPrimaryPTTFullCycle(t *testing.T) {
	rec := &recorder{}
	r := newTestRouter(rec)

	r.Press("f8")
	waitHook(t, func() bool {
		sounds, _, _, _ := rec.snapshot()
		return sounds == 1
	}, "TX sound never played")

	// Held past the delay: transmission starts on the primary channel.
	waitHook(t, func() bool {
		_, starts, _, _ := rec.snapshot()
		return len(starts) == 1
	}, "transmission never started")
	_, starts, _, _ := rec.snapshot()
	if starts[0] != false {
		t.Error("primary PTT started a secondary transmission")
	}

	r.Release("f8")
	waitHook(t, func() bool { _, _, stops, _ := rec.snapshot(); return stops == 1 }, "transmission never stopped")
}

func TestEarlyReleaseCancelsSilently(t *testing.T) {
	rec := &recorder{}
	r := newTestRouter(rec)

	r.Press("f8")
	r.Release("f8") // released well before the 30 ms delay

	time.Sleep(100 * time.Millisecond)
	sounds, starts, stops, _ := rec.snapshot()
	if sounds != 1 {
		t.Errorf("TX sounds = %d, want 1 (sound plays even on cancel)", sounds)
	}
	if len(starts) != 0 {
		t.Error("cancelled press still started transmission")
	}
	if stops != 0 {
		t.Error("cancelled press fired TransmitStop")
	}
}

func TestSecondaryPTTViaMouse(t *testing.T) {
	rec := &recorder{}
	r := newTestRouter(rec)

	r.Press("MOUSE4") // case-insensitive
	waitHook(t, func() bool {
		_, starts, _, _ := rec.snapshot()
		return len(starts) == 1
	}, "secondary transmission never started")
	_, starts, _, _ := rec.snapshot()
	if !starts[0] {
		t.Error("secondary PTT did not set the secondary flag")
	}
	r.Release("mouse4")
	waitHook(t, func() bool { _, _, stops, _ := rec.snapshot(); return stops == 1 }, "stop never fired")
}

func TestPressRepeatIgnoredWhileHeld(t *testing.T) {
	rec := &recorder{}
	r := newTestRouter(rec)

	r.Press("f8")
	r.Press("f8") // keyboard auto-repeat
	r.Press("f8")
	waitHook(t, func() bool {
		_, starts, _, _ := rec.snapshot()
		return len(starts) == 1
	}, "transmission never started")

	time.Sleep(80 * time.Millisecond)
	sounds, starts, _, _ := rec.snapshot()
	if sounds != 1 {
		t.Errorf("TX sounds = %d, want 1 despite repeats", sounds)
	}
	if len(starts) != 1 {
		t.Errorf("starts = %d, want 1 despite repeats", len(starts))
	}
}

func TestQuickSwitchEdgeTriggered(t *testing.T) {
	rec := &recorder{}
	r := newTestRouter(rec)

	r.Press("f1")
	r.Press("f1") // held repeat: no second fire
	r.Release("f1")
	r.Press("f2")
	r.Release("f2")
	r.Press("f1")

	_, _, _, switches := rec.snapshot()
	want := []uint8{52, 55, 52}
	if len(switches) != len(want) {
		t.Fatalf("switches = %v, want %v", switches, want)
	}
	for i := range want {
		if switches[i] != want[i] {
			t.Errorf("switch %d = %d, want %d", i, switches[i], want[i])
		}
	}
}

func TestDisabledRouterIgnoresInput(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(testBindings(), rec.hooks(), slog.New(slog.DiscardHandler))
	r.delay = 10 * time.Millisecond

	r.Press("f8")
	time.Sleep(50 * time.Millisecond)
	sounds, starts, _, _ := rec.snapshot()
	if sounds != 0 || len(starts) != 0 {
		t.Error("disabled router dispatched events")
	}
}

func TestDisableReleasesHeldPTT(t *testing.T) {
	rec := &recorder{}
	r := newTestRouter(rec)

	r.Press("f8")
	waitHook(t, func() bool {
		_, starts, _, _ := rec.snapshot()
		return len(starts) == 1
	}, "transmission never started")

	r.Disable()
	_, _, stops, _ := rec.snapshot()
	if stops != 1 {
		t.Errorf("stops = %d after Disable mid-transmission, want 1", stops)
	}

	// Input after disable is ignored.
	r.Press("f8")
	time.Sleep(50 * time.Millisecond)
	sounds, _, _, _ := rec.snapshot()
	if sounds != 1 {
		t.Errorf("TX sounds = %d, want 1 (no dispatch after Disable)", sounds)
	}
}

func TestIsMouseButton(t *testing.T) {
	if !IsMouseButton("mouse1") || !IsMouseButton("mouse5") {
		t.Error("mouse buttons not recognised")
	}
	if IsMouseButton("f8") || IsMouseButton("mouse6") {
		t.Error("non-mouse input recognised as mouse button")
	}
}
