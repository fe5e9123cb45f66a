package ws

import (
	"slices"
	"sync"
)

// ConnMeta is the authenticated identity of a registered connection. It is set
// at most once per connection and never changes afterwards.
type ConnMeta struct {
	UserID int64
	RoomID string
}

// Registry owns the connection → identity map and the derived per-room
// presence index. The two mutate together, so they live behind one lock.
//
// Presence counts open connections per user: a user with two tabs open is one
// presence entry, and only closing the last one removes it.
type Registry struct {
	mu       sync.RWMutex
	conns    map[Conn]ConnMeta
	presence map[string]map[int64]int // roomId -> userId -> connection count
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[Conn]ConnMeta),
		presence: make(map[string]map[int64]int),
	}
}

func (reg *Registry) Register(conn Conn, userID int64, roomID string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.conns[conn]; ok {
		return errAlreadyRegistered
	}
	reg.conns[conn] = ConnMeta{UserID: userID, RoomID: roomID}

	room := reg.presence[roomID]
	if room == nil {
		room = make(map[int64]int)
		reg.presence[roomID] = room
	}
	room[userID]++
	return nil
}

func (reg *Registry) Lookup(conn Conn) (ConnMeta, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	meta, ok := reg.conns[conn]
	return meta, ok
}

// Remove is idempotent; it is called once per connection close. An empty
// presence set drops the room entry entirely.
func (reg *Registry) Remove(conn Conn) (ConnMeta, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	meta, ok := reg.conns[conn]
	if !ok {
		return ConnMeta{}, false
	}
	delete(reg.conns, conn)

	if room, ok := reg.presence[meta.RoomID]; ok {
		room[meta.UserID]--
		if room[meta.UserID] <= 0 {
			delete(room, meta.UserID)
		}
		if len(room) == 0 {
			delete(reg.presence, meta.RoomID)
		}
	}
	return meta, true
}

// Users returns the presence set of a room, sorted for deterministic payloads.
func (reg *Registry) Users(roomID string) []int64 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room := reg.presence[roomID]
	users := make([]int64, 0, len(room))
	for id := range room {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// Connections snapshots the open, registered connections of a room so that
// broadcast I/O can run outside the lock. Iteration order is map order;
// recipient ordering is deliberately unspecified.
func (reg *Registry) Connections(roomID string, exclude Conn) []Conn {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	conns := make([]Conn, 0, len(reg.conns))
	for conn, meta := range reg.conns {
		if meta.RoomID != roomID || conn == exclude || !conn.Open() {
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

// FindUser returns one open connection of the target user in the room, or nil.
func (reg *Registry) FindUser(roomID string, userID int64) Conn {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for conn, meta := range reg.conns {
		if meta.RoomID == roomID && meta.UserID == userID && conn.Open() {
			return conn
		}
	}
	return nil
}
