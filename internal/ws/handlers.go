package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

func (s *WsServer) registerHandlers() {
	Register(s.router, "register", s.handleRegister)
	Register(s.router, "request-user-list", s.handleUserList)
	Register(s.router, "message", s.handleChat)

	Register(s.router, "pointer", s.handlePointer)
	Register(s.router, "color", s.handleColor)
	Register(s.router, "lock", func(ctx context.Context, c *ConnContext, _ emptyRequest) error {
		return s.relay(c, "lock")
	})
	Register(s.router, "unlock", func(ctx context.Context, c *ConnContext, _ emptyRequest) error {
		return s.relay(c, "unlock")
	})

	Register(s.router, "init", s.handleInit)
	Register(s.router, "draw", s.handleDraw)
	Register(s.router, "stream", s.handleStream)
	Register(s.router, "move", s.handleMove)
	Register(s.router, "delete", s.handleDelete)
	Register(s.router, "clear", s.handleClear)

	for _, t := range []string{"webrtc-offer", "webrtc-answer", "webrtc-ice"} {
		t := t
		Register(s.router, t, func(ctx context.Context, c *ConnContext, req signalRequest) error {
			return s.handleSignal(c, t, req)
		})
	}
}

// ──────────────────────── registration & presence ────────────────────────

func (s *WsServer) handleRegister(ctx context.Context, c *ConnContext, req registerRequest) error {
	if req.RoomID == "" || req.UserID == 0 {
		return errMissingFields
	}
	if _, ok := c.meta(); ok {
		return errAlreadyRegistered
	}

	// The gate call can suspend this connection's handling; messages from
	// other connections keep flowing meanwhile, and until Register below
	// completes this connection is still "not registered" to all of them.
	member, err := s.directory.IsMember(ctx, req.RoomID, req.UserID)
	if err != nil {
		zap.L().Warn("ws.membership_lookup",
			zap.String("room", req.RoomID),
			zap.Int64("user", req.UserID),
			zap.Error(err),
		)
		return errCollaborator
	}
	if !member {
		return errUnauthorized
	}

	if err := s.registry.Register(c.Conn, req.UserID, req.RoomID); err != nil {
		return err
	}
	zap.L().Info("ws.registered",
		zap.String("conn", c.Conn.ID()),
		zap.String("room", req.RoomID),
		zap.Int64("user", req.UserID),
	)

	c.reply(registerSuccessEvent{Type: "register-success", RoomID: req.RoomID, UserID: req.UserID})
	s.hub.BroadcastToRoom(req.RoomID, userListEvent{
		Type:  "user-list",
		Users: s.registry.Users(req.RoomID),
	}, nil)
	return nil
}

func (s *WsServer) handleUserList(ctx context.Context, c *ConnContext, _ emptyRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	c.reply(userListEvent{Type: "user-list", Users: s.registry.Users(meta.RoomID)})
	return nil
}

// ──────────────────────────────── chat ────────────────────────────────

func (s *WsServer) handleChat(ctx context.Context, c *ConnContext, req chatRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if req.RoomID == "" || req.UserID == 0 || req.Text == "" {
		return errMissingFields
	}
	if req.RoomID != meta.RoomID || req.UserID != meta.UserID {
		return errInvalidContext
	}

	// Persistence failure aborts the send entirely: nobody receives the
	// message, the sender included.
	msg, err := s.chat.AppendMessage(ctx, meta.RoomID, meta.UserID, req.Text, time.Now().UTC())
	if err != nil {
		zap.L().Warn("ws.chat_append", zap.String("room", meta.RoomID), zap.Error(err))
		return errCollaborator
	}

	c.reply(chatEvent{Type: "message-sent", Message: msg})
	s.hub.BroadcastToRoom(meta.RoomID, chatEvent{Type: "new-message", Message: msg}, c.Conn)
	return nil
}

// ──────────────────────────── pure relays ────────────────────────────

func (s *WsServer) handlePointer(ctx context.Context, c *ConnContext, req pointerRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if req.X == nil || req.Y == nil {
		return errMissingFields
	}
	s.hub.BroadcastToRoom(meta.RoomID, pointerEvent{
		Type:   "pointer",
		X:      *req.X,
		Y:      *req.Y,
		Color:  req.Color,
		UserID: meta.UserID,
	}, c.Conn)
	return nil
}

func (s *WsServer) handleColor(ctx context.Context, c *ConnContext, req colorRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if req.Color == "" {
		return errMissingFields
	}
	s.hub.BroadcastToRoom(meta.RoomID, colorEvent{
		Type:   "color",
		Color:  req.Color,
		UserID: meta.UserID,
	}, c.Conn)
	return nil
}

// relay rebroadcasts lock/unlock verbatim. No lock state is held server-side;
// enforcement is client convention.
func (s *WsServer) relay(c *ConnContext, msgType string) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	s.hub.BroadcastToRoom(meta.RoomID, relayEvent{Type: msgType, UserID: meta.UserID}, c.Conn)
	return nil
}

// ─────────────────────────── shared document ───────────────────────────

func (s *WsServer) handleInit(ctx context.Context, c *ConnContext, _ emptyRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	c.reply(syncEvent{Type: "init", Elements: s.docs.Snapshot(meta.RoomID)})
	return nil
}

func (s *WsServer) handleDraw(ctx context.Context, c *ConnContext, req drawRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if len(req.Element) == 0 {
		return errMissingFields
	}
	elements, rev := s.docs.Append(meta.RoomID, req.Element)
	// Full resync to everyone, sender included, so local state converges.
	s.syncRoom(meta.RoomID, elements, rev)
	return nil
}

// syncRoom fans a full-sequence resync out to the room. Publish keeps
// concurrent resyncs of one room in mutation order, dropping any snapshot a
// newer one has already overtaken.
func (s *WsServer) syncRoom(roomID string, elements []json.RawMessage, rev uint64) {
	s.docs.Publish(roomID, rev, func() {
		s.hub.BroadcastToRoom(roomID, syncEvent{Type: "sync", Elements: elements}, nil)
	})
}

// handleStream is the low-latency path for in-progress strokes: only the
// delta goes out, and never back to the sender.
func (s *WsServer) handleStream(ctx context.Context, c *ConnContext, req streamRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if req.Index == nil || len(req.Element) == 0 {
		return errMissingFields
	}
	if _, _, err := s.docs.Replace(meta.RoomID, *req.Index, req.Element); err != nil {
		return err
	}
	s.hub.BroadcastToRoom(meta.RoomID, streamEvent{
		Type:    "stream",
		Index:   *req.Index,
		Element: req.Element,
		UserID:  meta.UserID,
		Color:   req.Color,
	}, c.Conn)
	return nil
}

// handleMove is a settled edit, so unlike stream it resyncs everyone.
func (s *WsServer) handleMove(ctx context.Context, c *ConnContext, req moveRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if req.Index == nil || len(req.Element) == 0 {
		return errMissingFields
	}
	elements, rev, err := s.docs.Replace(meta.RoomID, *req.Index, req.Element)
	if err != nil {
		return err
	}
	s.syncRoom(meta.RoomID, elements, rev)
	return nil
}

func (s *WsServer) handleDelete(ctx context.Context, c *ConnContext, req deleteRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if req.Index == nil {
		return errMissingFields
	}
	// Out-of-range delete stays a no-op that still resyncs; clients depend
	// on receiving the sync either way.
	elements, rev := s.docs.Delete(meta.RoomID, *req.Index)
	s.syncRoom(meta.RoomID, elements, rev)
	return nil
}

func (s *WsServer) handleClear(ctx context.Context, c *ConnContext, _ emptyRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	elements, rev := s.docs.Clear(meta.RoomID)
	s.syncRoom(meta.RoomID, elements, rev)
	return nil
}

// ─────────────────────────── call signaling ───────────────────────────

// handleSignal forwards offer/answer/ICE payloads to one named room member.
// The payload is opaque to the server.
func (s *WsServer) handleSignal(c *ConnContext, msgType string, req signalRequest) error {
	meta, err := c.requireMeta()
	if err != nil {
		return err
	}
	if req.TargetUserID == nil {
		return errMissingFields
	}
	delivered := s.hub.SendToUser(meta.RoomID, *req.TargetUserID, signalEvent{
		Type:       msgType,
		FromUserID: meta.UserID,
		Data:       req.Data,
	})
	if !delivered {
		return errTargetNotConnected
	}
	return nil
}
