package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whiteboardgo/internal/services/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 64 << 10            // whiteboard elements carry point lists
)

// MemberChecker is the authorization gate consulted exactly once per
// registration attempt. A lookup error is distinct from "not a member".
type MemberChecker interface {
	IsMember(ctx context.Context, roomID string, userID int64) (bool, error)
}

// MessageAppender is the chat persistence collaborator, consulted exactly once
// per chat send.
type MessageAppender interface {
	AppendMessage(ctx context.Context, roomID string, userID int64, text string, at time.Time) (*chat.Message, error)
}

type WsServer struct {
	registry  *Registry
	hub       *Hub
	docs      *DocStore
	router    *Router
	directory MemberChecker
	chat      MessageAppender
}

func NewWsServer(directory MemberChecker, chatSvc MessageAppender) *WsServer {
	registry := NewRegistry()
	srv := &WsServer{
		registry:  registry,
		hub:       NewHub(registry),
		docs:      NewDocStore(),
		router:    NewRouter(),
		directory: directory,
		chat:      chatSvc,
	}
	srv.registerHandlers() // ← all message types configured here
	return srv
}

// RoomUsers exposes the presence set for the REST surface.
func (s *WsServer) RoomUsers(roomID string) []int64 {
	return s.registry.Users(roomID)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

// Handle upgrades the connection and starts its reader. Identity is not taken
// from the request; a connection stays anonymous until a "register" message
// passes the authorization gate.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxMessageSize)

	conn := newClientConn(rawConn)
	zap.L().Info("ws.connected", zap.String("conn", conn.ID()))

	go s.reader(conn)
	go s.pinger(conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

// reader is the single goroutine consuming a connection's frames, so handlers
// for one connection run strictly in arrival order and never interleave.
func (s *WsServer) reader(conn *clientConn) {
	defer s.teardown(conn)

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}
		s.handleRaw(context.Background(), conn, raw)
	}
}

// handleRaw classifies one inbound frame and dispatches it. Handler failures
// are reported to the sender and the connection stays open.
func (s *WsServer) handleRaw(ctx context.Context, conn Conn, raw []byte) {
	cc := &ConnContext{Conn: conn, Server: s}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		cc.reply(errorEvent{Type: "error", Message: errMalformed.Error()})
		return
	}

	if err := s.router.dispatch(ctx, cc, env.Type, raw); err != nil {
		cc.reply(errorEvent{Type: "error", Message: err.Error()})
	}
}

// teardown is immediate and unconditional: registry and presence entries go
// synchronously, with no drain. No user-list broadcast is sent on disconnect.
func (s *WsServer) teardown(conn Conn) {
	_ = conn.Close()
	if meta, ok := s.registry.Remove(conn); ok {
		zap.L().Info("ws.disconnected",
			zap.String("conn", conn.ID()),
			zap.String("room", meta.RoomID),
			zap.Int64("user", meta.UserID),
		)
		return
	}
	zap.L().Info("ws.disconnected", zap.String("conn", conn.ID()))
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
