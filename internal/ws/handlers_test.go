package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboardgo/internal/services/chat"
)

type fakeDirectory struct {
	mu      sync.Mutex
	members map[string][]int64
	err     error
	calls   int
}

func (f *fakeDirectory) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	for _, id := range f.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeChat struct {
	mu       sync.Mutex
	err      error
	appended []chat.Message
}

func (f *fakeChat) AppendMessage(ctx context.Context, roomID string, userID int64, text string, at time.Time) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	msg := chat.Message{Message: text, CreatedAt: at, UserID: userID, RoomID: roomID}
	f.appended = append(f.appended, msg)
	return &msg, nil
}

func newTestServer(dir *fakeDirectory, ch *fakeChat) *WsServer {
	if dir == nil {
		dir = &fakeDirectory{members: map[string][]int64{"r1": {1, 2}}}
	}
	if ch == nil {
		ch = &fakeChat{}
	}
	return NewWsServer(dir, ch)
}

func send(s *WsServer, conn Conn, frame string) {
	s.handleRaw(context.Background(), conn, []byte(frame))
}

func mustRegister(t *testing.T, s *WsServer, conn *mockConn, userID int64, roomID string) {
	t.Helper()
	send(s, conn, `{"type":"register","roomId":"`+roomID+`","userId":`+
		strconv.FormatInt(userID, 10)+`}`)
	types := conn.receivedTypes(t)
	require.Contains(t, types, "register-success", "registration of user %d failed: %v", userID, types)
}

func lastError(t *testing.T, conn *mockConn) string {
	t.Helper()
	frame := conn.lastFrame(t)
	require.Equal(t, "error", frame["type"])
	return frame["message"].(string)
}

// Full session walkthrough: register, presence, draw, signaling, disconnect.
func TestSessionScenario(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")

	// A registers.
	send(s, a, `{"type":"register","roomId":"r1","userId":1}`)
	require.Equal(t, []string{"register-success", "user-list"}, a.receivedTypes(t))
	frame := a.lastFrame(t)
	assert.Equal(t, []any{float64(1)}, frame["users"])

	// B registers; both see the updated list.
	send(s, b, `{"type":"register","roomId":"r1","userId":2}`)
	assert.Equal(t, []any{float64(1), float64(2)}, a.lastFrame(t)["users"])
	assert.Equal(t, []any{float64(1), float64(2)}, b.lastFrame(t)["users"])

	// A draws; both get the full sequence, sender included.
	send(s, a, `{"type":"draw","element":{"shape":"line"}}`)
	for _, conn := range []*mockConn{a, b} {
		frame := conn.lastFrame(t)
		require.Equal(t, "sync", frame["type"])
		require.Len(t, frame["elements"], 1)
		assert.Equal(t, map[string]any{"shape": "line"}, frame["elements"].([]any)[0])
	}

	// B opens a call to A.
	send(s, b, `{"type":"webrtc-offer","targetUserId":1,"data":{"sdp":"v=0"}}`)
	frame = a.lastFrame(t)
	assert.Equal(t, "webrtc-offer", frame["type"])
	assert.Equal(t, float64(2), frame["fromUserId"])
	assert.Equal(t, map[string]any{"sdp": "v=0"}, frame["data"])

	// A disconnects; B's next presence request no longer lists user 1.
	s.teardown(a)
	send(s, b, `{"type":"request-user-list"}`)
	assert.Equal(t, []any{float64(2)}, b.lastFrame(t)["users"])
}

func TestDisconnect_SilentToRemainingMembers(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")
	before := len(b.received())

	s.teardown(a)

	assert.Len(t, b.received(), before, "no user-list or any other frame on disconnect")
	assert.False(t, a.Open())
	_, ok := s.registry.Lookup(a)
	assert.False(t, ok, "registry entry removed synchronously")
	assert.Equal(t, []int64{2}, s.registry.Users("r1"))

	// A connection that never registered tears down without incident.
	s.teardown(newMockConn("anon"))
	assert.Len(t, b.received(), before)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		dir     *fakeDirectory
		frame   string
		wantErr error
	}{
		{
			name:    "missing room",
			frame:   `{"type":"register","userId":1}`,
			wantErr: errMissingFields,
		},
		{
			name:    "missing user",
			frame:   `{"type":"register","roomId":"r1"}`,
			wantErr: errMissingFields,
		},
		{
			name:    "not a member",
			dir:     &fakeDirectory{members: map[string][]int64{"r1": {2}}},
			frame:   `{"type":"register","roomId":"r1","userId":1}`,
			wantErr: errUnauthorized,
		},
		{
			name:    "directory lookup failure is distinct",
			dir:     &fakeDirectory{err: errors.New("db down")},
			frame:   `{"type":"register","roomId":"r1","userId":1}`,
			wantErr: errCollaborator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.dir, nil)
			conn := newMockConn("c")

			send(s, conn, tt.frame)

			assert.Equal(t, tt.wantErr.Error(), lastError(t, conn))
			_, ok := s.registry.Lookup(conn)
			assert.False(t, ok, "failed registration must not touch the registry")
			assert.Empty(t, s.registry.Users("r1"), "failed registration must not touch presence")
		})
	}
}

func TestRegister_GateConsultedOncePerAttempt(t *testing.T) {
	dir := &fakeDirectory{members: map[string][]int64{"r1": {1}}}
	s := newTestServer(dir, nil)
	conn := newMockConn("c")

	mustRegister(t, s, conn, 1, "r1")
	assert.Equal(t, 1, dir.calls)

	// Non-registration traffic never re-consults the gate.
	send(s, conn, `{"type":"draw","element":{"a":1}}`)
	send(s, conn, `{"type":"request-user-list"}`)
	assert.Equal(t, 1, dir.calls)
}

func TestRegister_SecondAttemptRejected(t *testing.T) {
	s := newTestServer(nil, nil)
	conn := newMockConn("c")
	mustRegister(t, s, conn, 1, "r1")

	send(s, conn, `{"type":"register","roomId":"r1","userId":2}`)
	assert.Equal(t, errAlreadyRegistered.Error(), lastError(t, conn))

	meta, _ := s.registry.Lookup(conn)
	assert.Equal(t, int64(1), meta.UserID)
}

func TestMutationsRequireRegistration(t *testing.T) {
	frames := []string{
		`{"type":"request-user-list"}`,
		`{"type":"message","roomId":"r1","user_id":1,"text":"hi"}`,
		`{"type":"pointer","x":1,"y":2}`,
		`{"type":"lock"}`,
		`{"type":"unlock"}`,
		`{"type":"color","color":"#fff"}`,
		`{"type":"init"}`,
		`{"type":"draw","element":{"a":1}}`,
		`{"type":"stream","index":0,"element":{"a":1}}`,
		`{"type":"move","index":0,"element":{"a":1}}`,
		`{"type":"delete","index":0}`,
		`{"type":"clear"}`,
		`{"type":"webrtc-offer","targetUserId":1,"data":{}}`,
	}

	for _, frame := range frames {
		s := newTestServer(nil, nil)
		conn := newMockConn("anon")

		send(s, conn, frame)

		assert.Equal(t, errNotRegistered.Error(), lastError(t, conn), "frame %s", frame)
		assert.Empty(t, s.docs.Snapshot("r1"), "frame %s must not mutate state", frame)
	}
}

func TestRouter_UnknownAndMalformed(t *testing.T) {
	s := newTestServer(nil, nil)
	conn := newMockConn("c")

	send(s, conn, `{"type":"teleport"}`)
	assert.Equal(t, "Unknown message type", lastError(t, conn))

	send(s, conn, `{not json`)
	assert.Equal(t, errMalformed.Error(), lastError(t, conn))
}

func TestChat_DeliveryAndEcho(t *testing.T) {
	ch := &fakeChat{}
	s := newTestServer(nil, ch)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")

	send(s, a, `{"type":"message","roomId":"r1","user_id":1,"text":"hello"}`)

	frame := a.lastFrame(t)
	require.Equal(t, "message-sent", frame["type"])
	msg := frame["message"].(map[string]any)
	assert.Equal(t, "hello", msg["message"])
	assert.Equal(t, float64(1), msg["userId"])
	assert.Equal(t, "r1", msg["roomId"])

	frame = b.lastFrame(t)
	assert.Equal(t, "new-message", frame["type"])

	require.Len(t, ch.appended, 1, "persistence consulted exactly once")
}

func TestChat_PersistenceFailureAbortsSend(t *testing.T) {
	s := newTestServer(nil, &fakeChat{err: errors.New("insert failed")})
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")
	before := len(b.received())

	send(s, a, `{"type":"message","roomId":"r1","user_id":1,"text":"hello"}`)

	assert.Equal(t, errCollaborator.Error(), lastError(t, a), "sender gets the failure")
	assert.NotContains(t, a.receivedTypes(t), "message-sent")
	assert.Len(t, b.received(), before, "no partial delivery")
}

func TestChat_ContextMustMatchIdentity(t *testing.T) {
	s := newTestServer(nil, nil)
	conn := newMockConn("a")
	mustRegister(t, s, conn, 1, "r1")

	send(s, conn, `{"type":"message","roomId":"r2","user_id":1,"text":"hi"}`)
	assert.Equal(t, errInvalidContext.Error(), lastError(t, conn))

	send(s, conn, `{"type":"message","roomId":"r1","user_id":2,"text":"hi"}`)
	assert.Equal(t, errInvalidContext.Error(), lastError(t, conn))
}

func TestStream_DeltaSkipsSender(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")
	aBefore := len(a.received())

	send(s, a, `{"type":"stream","index":0,"element":{"shape":"dot"},"color":"#f00"}`)

	assert.Len(t, a.received(), aBefore, "stream delta never echoes to the sender")

	frame := b.lastFrame(t)
	require.Equal(t, "stream", frame["type"])
	assert.Equal(t, float64(0), frame["index"])
	assert.Equal(t, float64(1), frame["userId"])
	assert.Equal(t, "#f00", frame["color"])

	assert.Len(t, s.docs.Snapshot("r1"), 1)
}

func TestStream_InvalidIndexRejected(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")
	bBefore := len(b.received())

	send(s, a, `{"type":"stream","index":5,"element":{"a":1}}`)

	assert.Equal(t, errInvalidIndex.Error(), lastError(t, a))
	assert.Len(t, b.received(), bBefore, "rejected write broadcasts nothing")
	assert.Empty(t, s.docs.Snapshot("r1"))
}

func TestMove_ResyncsEveryone(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")
	send(s, a, `{"type":"draw","element":{"at":"old"}}`)

	send(s, a, `{"type":"move","index":0,"element":{"at":"new"}}`)

	for _, conn := range []*mockConn{a, b} {
		frame := conn.lastFrame(t)
		require.Equal(t, "sync", frame["type"])
		assert.Equal(t, map[string]any{"at": "new"}, frame["elements"].([]any)[0])
	}
}

// slowConn adds write-side jitter so frames from concurrent handlers
// interleave the way they would on a congested socket.
type slowConn struct {
	*mockConn
}

func (c *slowConn) WriteJSON(v any) error {
	time.Sleep(time.Duration(rand.Intn(300)) * time.Microsecond)
	return c.mockConn.WriteJSON(v)
}

func TestConcurrentDraws_RecipientConverges(t *testing.T) {
	dir := &fakeDirectory{members: map[string][]int64{"r1": {1, 2, 3}}}

	for i := 0; i < 50; i++ {
		s := newTestServer(dir, nil)
		a := newMockConn("a")
		b := newMockConn("b")
		recv := &slowConn{mockConn: newMockConn("recv")}
		mustRegister(t, s, a, 1, "r1")
		mustRegister(t, s, b, 2, "r1")
		send(s, recv, `{"type":"register","roomId":"r1","userId":3}`)
		require.Contains(t, recv.receivedTypes(t), "register-success")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			send(s, a, `{"type":"draw","element":{"from":"a"}}`)
		}()
		go func() {
			defer wg.Done()
			send(s, b, `{"type":"draw","element":{"from":"b"}}`)
		}()
		wg.Wait()

		// Whatever the interleaving, the last full sequence the recipient saw
		// must be the document the server holds: an older snapshot may be
		// dropped, but never delivered after a newer one.
		var lastSync map[string]any
		for _, raw := range recv.received() {
			var frame map[string]any
			require.NoError(t, json.Unmarshal(raw, &frame))
			if frame["type"] == "sync" {
				lastSync = frame
			}
		}
		require.NotNil(t, lastSync, "recipient saw at least one sync")
		assert.Len(t, lastSync["elements"], len(s.docs.Snapshot("r1")))
	}
}

func TestDelete_OutOfRangeStillSyncs(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	mustRegister(t, s, a, 1, "r1")
	send(s, a, `{"type":"draw","element":{"a":1}}`)
	send(s, a, `{"type":"delete","index":0}`)

	// Deleting the same index again is a no-op but the sync still goes out.
	send(s, a, `{"type":"delete","index":0}`)
	frame := a.lastFrame(t)
	require.Equal(t, "sync", frame["type"])
	assert.Empty(t, frame["elements"])
}

func TestInit_SnapshotToRequesterOnly(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")
	send(s, a, `{"type":"draw","element":{"shape":"line"}}`)
	bBefore := len(b.received())

	send(s, a, `{"type":"init"}`)

	frame := a.lastFrame(t)
	require.Equal(t, "init", frame["type"])
	require.Len(t, frame["elements"], 1)
	assert.Len(t, b.received(), bBefore, "init is requester-only")
}

func TestClear_EmptySyncToAll(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")
	send(s, a, `{"type":"draw","element":{"a":1}}`)

	send(s, a, `{"type":"clear"}`)

	for _, conn := range []*mockConn{a, b} {
		frame := conn.lastFrame(t)
		require.Equal(t, "sync", frame["type"])
		assert.Equal(t, []any{}, frame["elements"])
	}
	assert.Empty(t, s.docs.Snapshot("r1"))
}

func TestRelays(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	b := newMockConn("b")
	mustRegister(t, s, a, 1, "r1")
	mustRegister(t, s, b, 2, "r1")

	send(s, a, `{"type":"pointer","x":10,"y":20,"color":"#0f0"}`)
	frame := b.lastFrame(t)
	assert.Equal(t, "pointer", frame["type"])
	assert.Equal(t, float64(10), frame["x"])
	assert.Equal(t, float64(20), frame["y"])
	assert.Equal(t, float64(1), frame["userId"])

	send(s, a, `{"type":"lock"}`)
	assert.Equal(t, "lock", b.lastFrame(t)["type"])

	send(s, a, `{"type":"unlock"}`)
	assert.Equal(t, "unlock", b.lastFrame(t)["type"])

	send(s, a, `{"type":"color","color":"#00f"}`)
	frame = b.lastFrame(t)
	assert.Equal(t, "color", frame["type"])
	assert.Equal(t, "#00f", frame["color"])

	// Relays never echo back.
	assert.NotContains(t, a.receivedTypes(t), "pointer")
	assert.NotContains(t, a.receivedTypes(t), "lock")
}

func TestRelays_FieldValidation(t *testing.T) {
	s := newTestServer(nil, nil)
	conn := newMockConn("a")
	mustRegister(t, s, conn, 1, "r1")

	send(s, conn, `{"type":"pointer","y":20}`)
	assert.Equal(t, errMissingFields.Error(), lastError(t, conn))

	send(s, conn, `{"type":"color"}`)
	assert.Equal(t, errMissingFields.Error(), lastError(t, conn))

	// Zero coordinates are legitimate values, not missing fields.
	before := len(conn.received())
	send(s, conn, `{"type":"pointer","x":0,"y":0}`)
	assert.Len(t, conn.received(), before, "valid pointer produces no error and no echo")
}

func TestSignal_TargetValidation(t *testing.T) {
	s := newTestServer(nil, nil)
	a := newMockConn("a")
	mustRegister(t, s, a, 1, "r1")

	send(s, a, `{"type":"webrtc-offer","data":{"sdp":"x"}}`)
	assert.Equal(t, errMissingFields.Error(), lastError(t, a))

	send(s, a, `{"type":"webrtc-ice","targetUserId":2,"data":{}}`)
	assert.Equal(t, errTargetNotConnected.Error(), lastError(t, a))
}
