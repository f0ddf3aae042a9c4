// Package godeye is the GodEye service: processes register monitors for a
// mask of factors and are called back when one of those factors changes.
package godeye

import (
	"context"

	"github.com/journeyos/godeye/clients"
	"github.com/journeyos/godeye/looper"
	"github.com/yaoapp/kun/log"
)

// ServiceName is the name GodEye is published under.
const ServiceName = "godeye"

// Manager owns the monitor registry and the looper callbacks run on.
type Manager struct {
	handler  *looper.Looper
	monitors *clients.Clients[*RemoteMonitor]
}

// NewManager starts a Manager. Call Shutdown to stop its looper.
func NewManager() *Manager {
	handler := looper.New(ServiceName)
	return &Manager{
		handler:  handler,
		monitors: clients.New[*RemoteMonitor](ServiceName, handler),
	}
}

// AddListener registers m for pid. It returns false if m's process is gone.
func (mgr *Manager) AddListener(pid int, m *RemoteMonitor) bool {
	ok := mgr.monitors.Add(pid, m)
	log.Debug("godeye: add listener pid=%d monitor=%v ok=%v", pid, m, ok)
	return ok
}

// RemoveListener unregisters m.
func (mgr *Manager) RemoveListener(m *RemoteMonitor) bool {
	log.Debug("godeye: remove listener monitor=%v", m)
	return mgr.monitors.Remove(m)
}

// SetFactor replaces the factors of pid's monitor.
func (mgr *Manager) SetFactor(pid int, factors uint64) bool {
	log.Debug("godeye: set factor pid=%d factors=%s", pid, FactorString(factors))
	return mgr.monitors.SetFactor(pid, factors)
}

// UpdateFactor adds factors to pid's monitor.
func (mgr *Manager) UpdateFactor(pid int, factors uint64) bool {
	log.Debug("godeye: update factor pid=%d factors=%s", pid, FactorString(factors))
	return mgr.monitors.UpdateFactor(pid, factors)
}

// RemoveFactor toggles factors on pid's monitor.
func (mgr *Manager) RemoveFactor(pid int, factors uint64) bool {
	log.Debug("godeye: remove factor pid=%d factors=%s", pid, FactorString(factors))
	return mgr.monitors.RemoveFactor(pid, factors)
}

// CheckFactor reports whether anyone listens for factors. Producers use it
// to skip work nobody is waiting for.
func (mgr *Manager) CheckFactor(factors uint64) bool {
	return mgr.monitors.CheckFactor(factors)
}

// Factors returns the mask of pid's monitor.
func (mgr *Manager) Factors(pid int) (uint64, bool) {
	return mgr.monitors.Factors(pid)
}

// Len returns the number of registered monitors.
func (mgr *Manager) Len() int {
	return mgr.monitors.Len()
}

// NotifyFactorChanged calls back every monitor interested in factor. It
// returns once the callbacks are queued.
func (mgr *Manager) NotifyFactorChanged(factor uint64, status int64, packageName string) {
	log.Trace("godeye: factor changed factor=%s status=%d package=%s", FactorString(factor), status, packageName)
	mgr.monitors.Foreach(clients.OperationFunc[*RemoteMonitor](func(m *RemoteMonitor, pid int) error {
		return m.OnFactorChanged(context.Background(), factor, status, packageName)
	}), factor)
}

// Sync waits until every callback queued so far has been sent.
func (mgr *Manager) Sync(ctx context.Context) error {
	return mgr.handler.Sync(ctx)
}

// Dump lists the registered monitors.
func (mgr *Manager) Dump() string {
	return mgr.monitors.String()
}

// Shutdown sends the callbacks already queued, then stops the looper.
func (mgr *Manager) Shutdown(ctx context.Context) error {
	mgr.handler.QuitSafely()
	select {
	case <-mgr.handler.Done():
		return nil
	case <-ctx.Done():
		mgr.handler.Quit()
		return ctx.Err()
	}
}
