package events

// Event represents a structured state change emitted by a clause module.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while
// discarding all events. It is useful when a component wants to optionally
// expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events until the surrounding unit of work commits. Flushing
// only after a successful commit guarantees observers never see notifications
// from a rolled-back sequence.
type Buffer struct {
	pending []Event
}

// NewBuffer returns an empty event buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Flush forwards every buffered event to the supplied emitter and clears the
// buffer. A nil emitter simply drops the batch.
func (b *Buffer) Flush(to Emitter) {
	if b == nil {
		return
	}
	if to != nil {
		for _, evt := range b.pending {
			to.Emit(evt)
		}
	}
	b.pending = nil
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}
