package binder

import "sync"

// deathList tracks the death recipients of one process link.
type deathList struct {
	mu         sync.Mutex
	dead       bool
	nextID     uint64
	recipients map[uint64]func()
}

type deathLink struct {
	list *deathList
	id   uint64
}

func (l *deathLink) Unlink() bool {
	return l.list.unlink(l.id)
}

func (d *deathList) link(recipient func()) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dead {
		return nil, ErrDeadObject
	}
	if d.recipients == nil {
		d.recipients = make(map[uint64]func())
	}
	d.nextID++
	d.recipients[d.nextID] = recipient
	return &deathLink{list: d, id: d.nextID}, nil
}

func (d *deathList) unlink(id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.recipients[id]; !ok {
		return false
	}
	delete(d.recipients, id)
	return true
}

func (d *deathList) alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.dead
}

// kill marks the link dead and runs each recipient once, outside the lock.
// Only the first call does anything.
func (d *deathList) kill() {
	d.mu.Lock()
	if d.dead {
		d.mu.Unlock()
		return
	}
	d.dead = true
	recipients := make([]func(), 0, len(d.recipients))
	for _, r := range d.recipients {
		recipients = append(recipients, r)
	}
	d.recipients = nil
	d.mu.Unlock()

	for _, r := range recipients {
		r()
	}
}
