package server

import (
	"errors"
	"sync"
	"testing"
)

func TestWorkerDo(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	result, err := w.Do(func(ws *Workspace) any {
		return ws.Update("file:///a.prism", "void main() { print 1 }").Program != nil
	})
	if err != nil || result != true {
		t.Fatalf("Do = %v, %v", result, err)
	}

	result, _ = w.Do(func(ws *Workspace) any {
		_, ok := ws.Get("file:///a.prism")
		return ok
	})
	if result != true {
		t.Error("document not stored")
	}

	w.Do(func(ws *Workspace) any {
		ws.Close("file:///a.prism")
		return nil
	})
	result, _ = w.Do(func(ws *Workspace) any { return ws.Len() })
	if result != 0 {
		t.Errorf("documents after close = %v", result)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	_, err := w.Do(func(ws *Workspace) any { panic("boom") })
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
	if _, err := w.Do(func(ws *Workspace) any { return nil }); err != nil {
		t.Errorf("worker unusable after panic: %v", err)
	}
}

func TestWorkerSerializes(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Do(func(ws *Workspace) any {
				return ws.Update("file:///shared.prism", "void main() { print 1 }")
			})
		}()
	}
	wg.Wait()

	result, _ := w.Do(func(ws *Workspace) any { return ws.Len() })
	if result != 1 {
		t.Errorf("documents = %v, want 1", result)
	}
}

func TestWorkerStopped(t *testing.T) {
	w := NewWorker()
	w.Stop()
	if _, err := w.Do(func(ws *Workspace) any { return 1 }); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestWorkerStopTwice(t *testing.T) {
	w := NewWorker()
	w.Stop()
	w.Stop()
	if _, err := w.Do(func(ws *Workspace) any { return 1 }); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}
