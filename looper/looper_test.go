package looper_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/journeyos/godeye/looper"
)

func TestLooper_FIFO(t *testing.T) {
	l := looper.New("fifo")
	defer l.Quit()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 1000; i++ {
		i := i
		if !l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("post %d rejected", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1000 {
		t.Fatalf("expected 1000 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order broken at %d: got %d", i, v)
		}
	}
}

func TestLooper_PostDoesNotBlockOnSlowTask(t *testing.T) {
	l := looper.New("slow")
	defer l.Quit()

	release := make(chan struct{})
	l.Post(func() { <-release })

	start := time.Now()
	for i := 0; i < 10000; i++ {
		l.Post(func() {})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("posting took %v while consumer was blocked", elapsed)
	}
	if n := l.Pending(); n != 10000 {
		t.Fatalf("expected 10000 pending, got %d", n)
	}
	close(release)
}

func TestLooper_PanicIsolated(t *testing.T) {
	l := looper.New("panic")
	defer l.Quit()

	var ran atomic.Bool
	l.Post(func() { panic("boom") })
	l.Post(func() { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !ran.Load() {
		t.Fatal("task after panicking task did not run")
	}
}

func TestLooper_QuitSafelyDrains(t *testing.T) {
	l := looper.New("drain")

	var count atomic.Int32
	release := make(chan struct{})
	l.Post(func() { <-release })
	for i := 0; i < 5; i++ {
		l.Post(func() { count.Add(1) })
	}

	l.QuitSafely()
	if l.Post(func() { count.Add(100) }) {
		t.Fatal("post after QuitSafely should be rejected")
	}
	close(release)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("looper did not exit")
	}
	if c := count.Load(); c != 5 {
		t.Fatalf("expected 5 drained tasks, got %d", c)
	}
}

func TestLooper_QuitDiscards(t *testing.T) {
	l := looper.New("discard")

	var count atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	l.Post(func() {
		close(started)
		<-release
	})
	for i := 0; i < 5; i++ {
		l.Post(func() { count.Add(1) })
	}
	<-started

	l.Quit()
	close(release)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("looper did not exit")
	}
	if c := count.Load(); c != 0 {
		t.Fatalf("expected pending tasks discarded, %d ran", c)
	}
	if err := l.Sync(context.Background()); err != looper.ErrQuit {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
}

func TestLooper_SyncHonoursContext(t *testing.T) {
	l := looper.New("ctx")
	defer l.Quit()

	release := make(chan struct{})
	defer close(release)
	l.Post(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Sync(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
