package clients

import (
	"github.com/yaoapp/kun/log"
)

// Foreach posts op once for every listener whose factors intersect factors.
// It returns as soon as the tasks are queued; a failing or panicking
// delivery only affects itself. A nil op does nothing.
func (c *Clients[L]) Foreach(op Operation[L], factors uint64) {
	if op == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range c.order {
		entry := c.listeners[b]
		if entry.factors&factors == 0 {
			continue
		}
		c.post(op, entry.listener, entry.pid)
	}
}

func (c *Clients[L]) post(op Operation[L], listener L, pid int) {
	posted := c.handler.Post(func() {
		if err := op.Execute(listener, pid); err != nil {
			log.Error("%s: error in monitored listener pid=%d listener=%v: %v", c.name, pid, listener, err)
		}
	})
	if !posted {
		log.Warn("%s: handler has quit, delivery to pid=%d dropped", c.name, pid)
	}
}
