package fetch

import (
	"context"
	"sync"
)

// Failure holds the last classified error seen by the transport for a
// request context. Client libraries that flatten transport errors into
// plain strings lose the type; the slot keeps it.
type Failure struct {
	mu  sync.Mutex
	err error
}

type failureKey struct{}

// WithFailure returns a context whose requests record their classified
// failure into the returned slot.
func WithFailure(ctx context.Context) (context.Context, *Failure) {
	f := &Failure{}
	return context.WithValue(ctx, failureKey{}, f), f
}

func (f *Failure) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Err returns the recorded error, if any.
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func record(ctx context.Context, err error) {
	if f, ok := ctx.Value(failureKey{}).(*Failure); ok && f != nil {
		f.set(err)
	}
}
