package replica

import (
	"errors"
	"sync"
)

var (
	errBatchOpen   = errors.New("a batch is already open")
	errBatchDelete = errors.New("delete is not allowed inside a batch")
)

// Batch is a Blobs that can hold writes back and release them to the
// underlying medium in a single SetMany. Outside Begin/Commit it writes
// straight through.
//
// The replica and the operation queue share one Batch so that a record
// change and the queued mutation describing it reach the medium together or
// not at all.
type Batch struct {
	base Blobs

	mu      sync.Mutex
	open    bool
	pending map[string][]byte
}

// NewBatch wraps base. A *Batch is returned unchanged.
func NewBatch(base Blobs) *Batch {
	if b, ok := base.(*Batch); ok {
		return b
	}
	return &Batch{base: base}
}

// Begin starts holding writes back.
func (b *Batch) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return errBatchOpen
	}
	b.open = true
	b.pending = make(map[string][]byte)
	return nil
}

// Commit writes everything held back since Begin in one SetMany. The batch
// is closed whether or not the write succeeds.
func (b *Batch) Commit() error {
	b.mu.Lock()
	pending := b.pending
	b.open, b.pending = false, nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return b.base.SetMany(pending)
}

// Abort discards the held writes.
func (b *Batch) Abort() {
	b.mu.Lock()
	b.open, b.pending = false, nil
	b.mu.Unlock()
}

// Get implements Blobs, seeing held writes first.
func (b *Batch) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	if b.open {
		if data, ok := b.pending[key]; ok {
			b.mu.Unlock()
			return append([]byte(nil), data...), true, nil
		}
	}
	b.mu.Unlock()
	return b.base.Get(key)
}

// SetMany implements Blobs.
func (b *Batch) SetMany(blobs map[string][]byte) error {
	b.mu.Lock()
	if b.open {
		for k, v := range blobs {
			b.pending[k] = append([]byte(nil), v...)
		}
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.base.SetMany(blobs)
}

// DeleteMany implements Blobs. It is refused while a batch is open.
func (b *Batch) DeleteMany(keys ...string) error {
	b.mu.Lock()
	open := b.open
	b.mu.Unlock()
	if open {
		return errBatchDelete
	}
	return b.base.DeleteMany(keys...)
}
