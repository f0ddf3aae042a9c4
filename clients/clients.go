// Package clients keeps the set of remote listeners a service calls back,
// what each of them is interested in, and whether their process is still
// alive.
//
// Every listener is registered with the pid of its owner and a 64-bit factor
// mask. Foreach delivers an operation to every listener whose mask
// intersects the requested factors; delivery is asynchronous, one task per
// listener, on the Clients' looper.
package clients

import (
	"fmt"
	"strings"
	"sync"

	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/looper"
	"github.com/yaoapp/kun/log"
)

// Listener is a remote callback object.
type Listener interface {
	AsBinder() binder.Binder
}

// Operation is what Foreach delivers to each matching listener. An error
// means the remote call failed; it is logged and dropped.
type Operation[L Listener] interface {
	Execute(listener L, pid int) error
}

// OperationFunc adapts a function to Operation.
type OperationFunc[L Listener] func(listener L, pid int) error

func (f OperationFunc[L]) Execute(listener L, pid int) error {
	return f(listener, pid)
}

// linkedListener is one registration. Only factors changes after Add.
type linkedListener[L Listener] struct {
	listener L
	pid      int
	factors  uint64
	link     binder.Link
}

// Clients is safe for concurrent use.
type Clients[L Listener] struct {
	name    string
	handler *looper.Looper

	mu        sync.Mutex
	listeners map[binder.Binder]*linkedListener[L]
	order     []binder.Binder // insertion order; every scan walks this
}

// New creates a registry whose deliveries run on handler. name prefixes
// log lines.
func New[L Listener](name string, handler *looper.Looper) *Clients[L] {
	return &Clients[L]{
		name:      name,
		handler:   handler,
		listeners: make(map[binder.Binder]*linkedListener[L]),
	}
}

// Add registers listener for pid with no factors. Adding a listener twice
// is a no-op that reports success. It returns false, registering nothing,
// when the listener's process is already dead.
func (c *Clients[L]) Add(pid int, listener L) bool {
	b := listener.AsBinder()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.listeners[b]; ok {
		return true
	}

	entry := &linkedListener[L]{listener: listener, pid: pid}
	link, err := b.LinkToDeath(func() {
		log.Info("%s: remote listener died: pid=%d listener=%v", c.name, pid, listener)
		c.Remove(listener)
	})
	if err != nil {
		log.Error("%s: remote listener already died: pid=%d listener=%v", c.name, pid, listener)
		return false
	}
	entry.link = link

	c.listeners[b] = entry
	c.order = append(c.order, b)
	return true
}

// Remove unregisters listener. It always succeeds, also for listeners that
// were never added or are already gone.
func (c *Clients[L]) Remove(listener L) bool {
	b := listener.AsBinder()

	c.mu.Lock()
	entry, ok := c.listeners[b]
	if ok {
		delete(c.listeners, b)
		for i, k := range c.order {
			if k == b {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if ok {
		entry.link.Unlink()
	}
	return true
}

// first returns the earliest registered listener owned by pid.
// Callers hold c.mu.
func (c *Clients[L]) first(pid int) *linkedListener[L] {
	for _, b := range c.order {
		if entry := c.listeners[b]; entry.pid == pid {
			return entry
		}
	}
	return nil
}

// SetFactor replaces the factors of pid's listener. Only the first listener
// pid registered is touched. An unknown pid is not an error.
func (c *Clients[L]) SetFactor(pid int, factors uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.first(pid); entry != nil {
		entry.factors = factors
	}
	return true
}

// UpdateFactor adds factors to pid's first listener.
func (c *Clients[L]) UpdateFactor(pid int, factors uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.first(pid); entry != nil {
		entry.factors |= factors
	}
	return true
}

// RemoveFactor toggles factors on pid's first listener. The mask is XORed
// in, so a factor that was not set becomes set.
func (c *Clients[L]) RemoveFactor(pid int, factors uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.first(pid); entry != nil {
		entry.factors ^= factors
	}
	return true
}

// CheckFactor reports whether any listener wants at least one of factors.
func (c *Clients[L]) CheckFactor(factors uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.listeners {
		if entry.factors&factors != 0 {
			return true
		}
	}
	return false
}

// Factors returns the mask of pid's first listener.
func (c *Clients[L]) Factors(pid int) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.first(pid); entry != nil {
		return entry.factors, true
	}
	return 0, false
}

// Contains reports whether listener is registered.
func (c *Clients[L]) Contains(listener L) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.listeners[listener.AsBinder()]
	return ok
}

// Len returns the number of registered listeners.
func (c *Clients[L]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// String lists every registration as [pid listener factors-in-hex].
func (c *Clients[L]) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d listeners:\n", len(c.listeners))
	for _, b := range c.order {
		entry := c.listeners[b]
		fmt.Fprintf(&sb, "[pid:%d listener:%v factors:%x]\n", entry.pid, entry.listener, entry.factors)
	}
	return sb.String()
}
