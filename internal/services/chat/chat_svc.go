package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is a persisted chat record. It is created by AppendMessage and
// immutable afterwards; the session server echoes it back verbatim.
type Message struct {
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    int64     `json:"userId"`
	RoomID    string    `json:"roomId"`
}

type IChatService interface {
	AppendMessage(ctx context.Context, roomID string, userID int64, text string, at time.Time) (*Message, error)
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]Message, error)
}

type chatService struct {
	db *sql.DB
}

func NewChatService(db *sql.DB) IChatService {
	return &chatService{db: db}
}

// AppendMessage durably stores one chat line and returns the stored row.
func (svc *chatService) AppendMessage(ctx context.Context, roomID string, userID int64, text string, at time.Time) (*Message, error) {
	var msg Message
	err := svc.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages (room_id, user_id, message, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING message, created_at, user_id, room_id`,
		roomID, userID, text, at,
	).Scan(&msg.Message, &msg.CreatedAt, &msg.UserID, &msg.RoomID)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns history for a room, newest first.
func (svc *chatService) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := svc.db.QueryContext(ctx,
		`SELECT message, created_at, user_id, room_id
		 FROM chat_messages
		 WHERE room_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Message, &msg.CreatedAt, &msg.UserID, &msg.RoomID); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
