package vrr

import (
	"context"
	"sync"

	"github.com/yaoapp/kun/log"
)

// RateSetter is what WindowState drives; *SurfaceFlinger implements it.
type RateSetter interface {
	SetRefreshRate(ctx context.Context, rate float32)
}

// WindowState holds the refresh rate preferred by the focused window and
// the pid that asked for it. The rate is cached so the compositor only hears
// about changes.
type WindowState struct {
	setter RateSetter

	mu   sync.Mutex
	pid  int
	rate float32
}

// NewWindowState returns a WindowState forwarding changes to setter.
func NewWindowState(setter RateSetter) *WindowState {
	return &WindowState{setter: setter}
}

// Pid returns the pid of the last window that set a preference.
func (w *WindowState) Pid() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

// PreferredRefreshRate returns the cached rate, 0 when none was set.
func (w *WindowState) PreferredRefreshRate() float32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rate
}

// SetPreferredRefreshRate records pid's preferred rate. It reports whether
// the rate changed, in which case the compositor has been asked to switch.
// A rate of 0 clears the preference without a command.
func (w *WindowState) SetPreferredRefreshRate(ctx context.Context, pid int, rate float32) bool {
	w.mu.Lock()
	w.pid = pid
	changed := w.rate != rate
	w.rate = rate
	w.mu.Unlock()

	log.Trace("vrr: window pid=%d preferred refresh rate=%.2f changed=%v", pid, rate, changed)
	if !changed || rate <= 0 {
		return changed
	}
	w.setter.SetRefreshRate(ctx, rate)
	return true
}
