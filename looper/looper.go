// Package looper provides a serial task queue: tasks posted from any
// goroutine run one at a time, in post order, on the looper's own goroutine.
// A task that panics is logged and the looper keeps going.
package looper

import (
	"context"
	"errors"
	"sync"

	"github.com/yaoapp/kun/log"
)

// ErrQuit is returned when work is offered to a looper that is shutting down.
var ErrQuit = errors.New("looper: quit")

// Looper runs posted tasks one at a time, in post order, on a single
// goroutine. The queue is unbounded: Post never blocks and never drops.
type Looper struct {
	name  string
	mu    sync.Mutex
	tasks []func()
	quit  bool
	wake  chan struct{}
	done  chan struct{}
}

// New starts a looper. name only shows up in logs.
func New(name string) *Looper {
	l := &Looper{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

// Post appends task to the queue. It returns false if the looper has quit.
func (l *Looper) Post(task func()) bool {
	if task == nil {
		return false
	}
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	l.signal()
	return true
}

// Pending returns the number of queued tasks, not counting the one running.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Sync blocks until every task posted before the call has run.
func (l *Looper) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	if !l.Post(func() { close(barrier) }) {
		return ErrQuit
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit rejects new tasks and discards pending ones. The running task, if
// any, finishes. Done is closed once the goroutine exits.
func (l *Looper) Quit() {
	l.mu.Lock()
	l.quit = true
	l.tasks = nil
	l.mu.Unlock()
	l.signal()
}

// QuitSafely rejects new tasks but runs everything already queued.
func (l *Looper) QuitSafely() {
	l.mu.Lock()
	l.quit = true
	l.mu.Unlock()
	l.signal()
}

// Done is closed when the looper goroutine has exited.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

func (l *Looper) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Looper) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			quit := l.quit
			l.mu.Unlock()
			if quit {
				return
			}
			<-l.wake
			continue
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		if len(l.tasks) == 0 {
			l.tasks = nil
		}
		l.mu.Unlock()

		l.run(task)
	}
}

func (l *Looper) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("looper %s: task panic: %v", l.name, r)
		}
	}()
	task()
}
