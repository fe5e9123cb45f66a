package ws

import (
	"go.uber.org/zap"
)

// Hub fans payloads out to the registered members of a room. Delivery is
// fire-and-forget: a closed or broken transport is skipped, never queued or
// retried.
type Hub struct {
	reg *Registry
}

func NewHub(reg *Registry) *Hub { return &Hub{reg: reg} }

// BroadcastToRoom delivers v to every open, registered connection of the room,
// skipping exclude when given.
func (h *Hub) BroadcastToRoom(roomID string, v any, exclude Conn) {
	for _, conn := range h.reg.Connections(roomID, exclude) {
		if err := conn.WriteJSON(v); err != nil {
			zap.L().Debug("ws.broadcast_drop",
				zap.String("room", roomID),
				zap.String("conn", conn.ID()),
				zap.Error(err),
			)
		}
	}
}

// SendToUser delivers v to at most one open connection of the target user in
// the room and reports whether delivery happened.
func (h *Hub) SendToUser(roomID string, userID int64, v any) bool {
	conn := h.reg.FindUser(roomID, userID)
	if conn == nil {
		return false
	}
	if err := conn.WriteJSON(v); err != nil {
		zap.L().Debug("ws.send_to_user_drop",
			zap.String("room", roomID),
			zap.Int64("user", userID),
			zap.Error(err),
		)
		return false
	}
	return true
}
