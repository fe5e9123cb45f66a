package ws

import (
	"encoding/json"
	"sync"
)

// DocStore maps roomId to the ordered element sequence of its whiteboard.
// Elements are opaque client JSON; the server never looks inside them.
//
// Each document has its own mutex, so a mutation plus the snapshot handed to
// the broadcast engine is atomic per room. Every mutation is stamped with a
// monotonic revision under that same lock; Publish uses the revision to keep
// room-wide resyncs in mutation order. Documents are created lazily and live
// for the process lifetime; "clear" empties a document in place.
type DocStore struct {
	mu   sync.Mutex
	docs map[string]*document
}

type document struct {
	mu       sync.Mutex
	rev      uint64
	elements []json.RawMessage

	// pubMu serializes sync fan-out for the room; pubRev is the revision of
	// the newest snapshot already handed to recipients.
	pubMu  sync.Mutex
	pubRev uint64
}

func NewDocStore() *DocStore {
	return &DocStore{docs: make(map[string]*document)}
}

func (st *DocStore) doc(roomID string) *document {
	st.mu.Lock()
	defer st.mu.Unlock()

	d, ok := st.docs[roomID]
	if !ok {
		d = &document{}
		st.docs[roomID] = d
	}
	return d
}

// snapshot must be called with d.mu held. The copy is never nil so an empty
// document marshals as [] rather than null.
func (d *document) snapshot() []json.RawMessage {
	out := make([]json.RawMessage, len(d.elements))
	copy(out, d.elements)
	return out
}

func (st *DocStore) Snapshot(roomID string) []json.RawMessage {
	d := st.doc(roomID)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot()
}

func (st *DocStore) Append(roomID string, element json.RawMessage) ([]json.RawMessage, uint64) {
	d := st.doc(roomID)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.elements = append(d.elements, element)
	d.rev++
	return d.snapshot(), d.rev
}

// Replace writes element at index. index == len grows the sequence by one;
// a negative index or one past that is rejected, keeping the sequence
// contiguous.
func (st *DocStore) Replace(roomID string, index int, element json.RawMessage) ([]json.RawMessage, uint64, error) {
	d := st.doc(roomID)
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case index < 0 || index > len(d.elements):
		return nil, 0, errInvalidIndex
	case index == len(d.elements):
		d.elements = append(d.elements, element)
	default:
		d.elements[index] = element
	}
	d.rev++
	return d.snapshot(), d.rev, nil
}

// Delete removes the element at index, shifting later elements down by one.
// Any out-of-range index is a no-op; the unchanged snapshot still gets a
// fresh revision because the caller broadcasts it either way.
func (st *DocStore) Delete(roomID string, index int) ([]json.RawMessage, uint64) {
	d := st.doc(roomID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if index >= 0 && index < len(d.elements) {
		d.elements = append(d.elements[:index], d.elements[index+1:]...)
	}
	d.rev++
	return d.snapshot(), d.rev
}

func (st *DocStore) Clear(roomID string) ([]json.RawMessage, uint64) {
	d := st.doc(roomID)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.elements = nil
	d.rev++
	return d.snapshot(), d.rev
}

// Publish runs deliver unless a newer snapshot of the room has already been
// published. Fan-out for one room is serialized here, so recipients never see
// an older full sequence after a newer one: a snapshot overtaken while
// waiting is dropped rather than delivered out of order. Reports whether
// deliver ran.
func (st *DocStore) Publish(roomID string, rev uint64, deliver func()) bool {
	d := st.doc(roomID)
	d.pubMu.Lock()
	defer d.pubMu.Unlock()

	if rev <= d.pubRev {
		return false
	}
	d.pubRev = rev
	deliver()
	return true
}
