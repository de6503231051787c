package worker

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loadforge/agent/internal/agent/console"
	"github.com/rs/zerolog"
)

type fakeWorker struct {
	number  int
	done    chan struct{}
	destroy int32
}

func newFakeWorker(n int) *fakeWorker {
	return &fakeWorker{number: n, done: make(chan struct{})}
}

func (w *fakeWorker) Number() int { return w.number }

func (w *fakeWorker) WaitFor() (int, error) {
	<-w.done
	return 0, nil
}

func (w *fakeWorker) Destroy() {
	if atomic.CompareAndSwapInt32(&w.destroy, 0, 1) {
		close(w.done)
	}
}

type fakeFactory struct {
	created []*fakeWorker
	failAt  map[int]bool
}

func (f *fakeFactory) Create(n int) (Worker, error) {
	if f.failAt != nil && f.failAt[n] {
		return nil, fmt.Errorf("worker %d: boom", n)
	}
	w := newFakeWorker(n)
	f.created = append(f.created, w)
	return w, nil
}

func TestStartSomeWorkersRespectsCount(t *testing.T) {
	factory := &fakeFactory{}
	l := New(factory, 5, zerolog.Nop(), nil, "process")

	more := l.StartSomeWorkers(2)
	if !more {
		t.Fatal("expected more starts to remain possible")
	}
	if got := l.startedCountForTest(); got != 2 {
		t.Fatalf("started = %d, want 2", got)
	}

	more = l.StartSomeWorkers(3)
	if more {
		t.Fatal("expected no more starts after filling the pool")
	}
	if got := l.startedCountForTest(); got != 5 {
		t.Fatalf("started = %d, want 5", got)
	}
}

func TestDontStartAnyMoreCapsFutureStarts(t *testing.T) {
	factory := &fakeFactory{}
	l := New(factory, 5, zerolog.Nop(), nil, "process")

	l.StartSomeWorkers(2)
	l.DontStartAnyMore()
	l.StartSomeWorkers(10)

	if got := l.startedCountForTest(); got != 2 {
		t.Fatalf("started = %d, want 2 after DontStartAnyMore", got)
	}
}

func TestDestroyAllWorkersPreventsFurtherStarts(t *testing.T) {
	factory := &fakeFactory{}
	l := New(factory, 5, zerolog.Nop(), nil, "process")

	l.StartSomeWorkers(3)
	l.DestroyAllWorkers("test")

	for _, w := range factory.created {
		select {
		case <-w.done:
		default:
			t.Errorf("worker %d was not destroyed", w.number)
		}
	}

	if l.StartSomeWorkers(10) {
		t.Fatal("StartSomeWorkers should report no capacity after DestroyAllWorkers")
	}
	if got := l.startedCountForTest(); got != 3 {
		t.Fatalf("started = %d, want 3 (no new starts after destroy)", got)
	}
}

func TestAllFinishedAfterWorkersComplete(t *testing.T) {
	factory := &fakeFactory{}
	l := New(factory, 2, zerolog.Nop(), nil, "process")
	l.StartAllWorkers()

	if l.AllFinished() {
		t.Fatal("AllFinished should be false while workers are running")
	}

	for _, w := range factory.created {
		w.Destroy()
	}

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after workers finished")
	}
	if !l.AllFinished() {
		t.Fatal("AllFinished should be true after Wait returns")
	}
}

func TestWorkerStartErrorMarksSlotFinished(t *testing.T) {
	factory := &fakeFactory{failAt: map[int]bool{1: true}}
	l := New(factory, 3, zerolog.Nop(), nil, "process")

	l.StartSomeWorkers(3)
	if !l.AllFinished() {
		// Slots 0 and 2 are real fake workers still "running" until destroyed.
		for _, w := range factory.created {
			w.Destroy()
		}
		l.Wait()
	}
	if !l.AllFinished() {
		t.Fatal("expected AllFinished once the failed slot and real workers settle")
	}
}

func TestSendNeverDestroysWorkers(t *testing.T) {
	factory := &fakeFactory{}
	l := New(factory, 2, zerolog.Nop(), nil, "process")
	l.StartAllWorkers()

	if err := l.Send(&console.Shutdown{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := l.Send(&console.Stop{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, w := range factory.created {
		select {
		case <-w.done:
			t.Errorf("worker %d destroyed by Send, which the wired pipeline never reaches with a Shutdown", w.number)
		default:
		}
	}
}

func TestStartRampUp(t *testing.T) {
	factory := &fakeFactory{}
	l := New(factory, 6, zerolog.Nop(), nil, "process")

	stop := StartRampUp(l, 6, 2, 2, 20*time.Millisecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.startedCountForTest() == 6 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ramp-up did not reach full pool size, started = %d", l.startedCountForTest())
}

// startedCountForTest exposes the internal started count for assertions.
func (l *Launcher) startedCountForTest() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedCount()
}
