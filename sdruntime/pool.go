package sdruntime

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// SlotPool bounds the number of concurrent calls into a Pipeline. A GPU
// worker usually serves one generation at a time, so extra callers queue
// here instead of piling up HTTP requests on the worker.
//
// SlotPool itself implements Pipeline.
type SlotPool struct {
	pipeline Pipeline
	slots    chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewSlotPool wraps p with size concurrent slots.
func NewSlotPool(p Pipeline, size int) (*SlotPool, error) {
	if p == nil || size <= 0 {
		return nil, fmt.Errorf("%w: slot pool needs a pipeline and size > 0", ErrInvalidParams)
	}
	return &SlotPool{
		pipeline: p,
		slots:    make(chan struct{}, size),
		done:     make(chan struct{}),
	}, nil
}

// Acquire blocks until a slot is free, ctx is done, or the pool closes.
// The returned release func must be called exactly once.
func (p *SlotPool) Acquire(ctx context.Context) (func(), error) {
	if p.IsClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrAcquireTimeout, ctx.Err())
	}

	if p.IsClosed() {
		<-p.slots
		return nil, ErrPoolClosed
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-p.slots })
	}, nil
}

// Generate implements Pipeline.
func (p *SlotPool) Generate(ctx context.Context, params GenerateParams) ([]image.Image, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	release, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return p.pipeline.Generate(ctx, params)
}

// TriggerWord implements Pipeline.
func (p *SlotPool) TriggerWord() string {
	return p.pipeline.TriggerWord()
}

// Health forwards to the wrapped pipeline when it supports health checks.
func (p *SlotPool) Health(ctx context.Context) error {
	if hc, ok := p.pipeline.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Close rejects further acquisitions and wakes waiting callers.
// Calls already holding a slot run to completion. Safe to call repeatedly.
func (p *SlotPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (p *SlotPool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Size is the number of slots.
func (p *SlotPool) Size() int {
	return cap(p.slots)
}

// InUse is the number of slots currently held.
func (p *SlotPool) InUse() int {
	return len(p.slots)
}
