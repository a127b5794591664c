package server

import (
	"fmt"
	"sync"
)

// workRequest represents a unit of work to be executed on the worker
// goroutine.
type workRequest struct {
	fn   func(*Workspace) any
	done chan workResult
}

type workResult struct {
	value any
	err   error
}

// Workspace holds the analysis of every open document. It is only touched
// from the worker goroutine.
type Workspace struct {
	docs map[string]*Document
}

// Update re-analyzes a document and stores the result.
func (ws *Workspace) Update(uri, text string) *Document {
	doc := Analyze(uri, text)
	ws.docs[uri] = doc
	return doc
}

// Get returns the latest analysis of uri.
func (ws *Workspace) Get(uri string) (*Document, bool) {
	doc, ok := ws.docs[uri]
	return doc, ok
}

// Close forgets a document.
func (ws *Workspace) Close(uri string) {
	delete(ws.docs, uri)
}

// Len returns the number of open documents.
func (ws *Workspace) Len() int {
	return len(ws.docs)
}

// Worker serializes all workspace access through a single goroutine.
// Handlers run concurrently; the compiler state they share does not.
type Worker struct {
	ws       *Workspace
	requests chan workRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker() *Worker {
	w := &Worker{
		ws:       &Workspace{docs: make(map[string]*Document)},
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the workspace, recovering from panics.
func (w *Worker) execute(fn func(*Workspace) any) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.ws)
	}()
	return result
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes. A panic in fn is returned as an error.
func (w *Worker) Do(fn func(*Workspace) any) (any, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case <-w.quit:
		return nil, ErrStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrStopped
	}
}

// Stop shuts down the worker goroutine. Calling it again is a no-op.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
