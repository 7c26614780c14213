// Package memory provides typed object pooling for the hot order path.
package memory

import "sync"

// Pool is a typed wrapper around sync.Pool. Objects handed out by Get
// may be dirty; callers always overwrite the full struct before use.
type Pool[T any] struct {
	p *sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}
