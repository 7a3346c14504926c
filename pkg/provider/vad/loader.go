package vad

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// LoadFunc loads a VAD engine. It is called at most once per [Loader].
type LoadFunc func(ctx context.Context) (Engine, error)

// Loader loads a VAD engine lazily and at most once, then hands the same
// read-only engine to every caller. A failed load is cached and returned to
// all later callers; the process must be restarted to retry.
//
// Loader is safe for concurrent use.
type Loader struct {
	load LoadFunc

	once  sync.Once
	done  chan struct{}
	loads atomic.Int64

	engine Engine
	err    error
}

// NewLoader returns a Loader that calls load on first use.
func NewLoader(load LoadFunc) *Loader {
	return &Loader{load: load, done: make(chan struct{})}
}

// Static returns a Loader that is already loaded with engine. Useful in
// tests and for engines that need no warm-up.
func Static(engine Engine) *Loader {
	l := NewLoader(func(context.Context) (Engine, error) { return engine, nil })
	l.start(context.Background())
	<-l.done
	return l
}

// Load returns the shared engine, loading it on the first call. Concurrent
// callers block until the single load completes. Cancelling ctx abandons the
// wait but does not abort a load already in progress.
func (l *Loader) Load(ctx context.Context) (Engine, error) {
	l.start(ctx)
	select {
	case <-l.done:
		return l.engine, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) start(ctx context.Context) {
	l.once.Do(func() {
		if l.load == nil {
			l.err = errors.New("vad: loader has no load function")
			close(l.done)
			return
		}
		// The engine outlives the job that triggered the load.
		loadCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(l.done)
			l.loads.Add(1)
			l.engine, l.err = l.load(loadCtx)
		}()
	})
}

// Loaded reports whether a load has completed successfully.
func (l *Loader) Loaded() bool {
	select {
	case <-l.done:
		return l.err == nil
	default:
		return false
	}
}

// Loads returns how many times the load function has been invoked. It is
// never greater than one.
func (l *Loader) Loads() int {
	return int(l.loads.Load())
}

// Close releases the engine if it was loaded and implements [io.Closer].
// Close does not wait for a load in progress.
func (l *Loader) Close() error {
	select {
	case <-l.done:
	default:
		return nil
	}
	if c, ok := l.engine.(io.Closer); ok && l.err == nil {
		return c.Close()
	}
	return nil
}
