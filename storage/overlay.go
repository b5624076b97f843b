package storage

import "sync"

// Overlay buffers writes on top of a base database until Commit is called.
// Reads observe buffered writes first and fall through to the base otherwise.
//
// An overlay is the unit-of-work boundary for clause operations: a sequence
// of state changes is staged against the overlay and becomes visible to the
// base database only when every step succeeded. Discarding the overlay (or
// simply dropping it) leaves the base untouched.
//
// Overlay is safe for concurrent use, although clause operations against a
// single overlay are expected to run sequentially.
type Overlay struct {
	base Database

	mu     sync.RWMutex
	writes map[string][]byte
}

// NewOverlay creates an overlay over the supplied base database.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[string][]byte),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	value, ok := o.writes[string(key)]
	o.mu.RUnlock()
	if ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

// Commit flushes every buffered write to the base database and resets the
// buffer. A commit that fails part way leaves the overlay intact so the
// caller can retry or abandon it; the base database is expected to be a
// single-writer store where partial flushes cannot be observed mid-call.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, value := range o.writes {
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	return nil
}

// Discard drops all buffered writes.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
}

// Pending reports the number of buffered writes.
func (o *Overlay) Pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.writes)
}

// Close satisfies the Database interface. The base database stays open; the
// overlay only releases its buffer.
func (o *Overlay) Close() {
	o.Discard()
}
