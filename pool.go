package sessionstore

import (
	"bytes"
	"sync"
)

// scratchPool is a typed sync.Pool that wipes values on release.
type scratchPool[T any] struct {
	pool sync.Pool
	wipe func(T)
}

func newScratchPool[T any](alloc func() T, wipe func(T)) *scratchPool[T] {
	return &scratchPool[T]{
		pool: sync.Pool{New: func() any { return alloc() }},
		wipe: wipe,
	}
}

func (s *scratchPool[T]) get() T {
	return s.pool.Get().(T)
}

func (s *scratchPool[T]) put(v T) {
	s.wipe(v)
	s.pool.Put(v)
}

// payloadBuffers back the gob codec. Record data must not linger in pooled
// memory, so the written bytes are zeroed before reuse.
var payloadBuffers = newScratchPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) {
		clear(b.Bytes())
		b.Reset()
	},
)

var payloadReaders = newScratchPool(
	func() *bytes.Reader { return bytes.NewReader(nil) },
	func(r *bytes.Reader) { r.Reset(nil) },
)

type idBuffer [idEntropyBytes + idLength]byte

// idScratch holds raw entropy followed by its hex form.
var idScratch = newScratchPool(
	func() *idBuffer { return new(idBuffer) },
	func(b *idBuffer) { clear(b[:]) },
)
