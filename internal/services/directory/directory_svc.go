package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const memberCacheKeyPrefix = "wb:member:"

// IDirectoryService answers whether a user belongs to a room. Membership is
// stored in Postgres; verdicts are cached in Redis so a burst of registrations
// for the same room does not hammer the database.
type IDirectoryService interface {
	IsMember(ctx context.Context, roomID string, userID int64) (bool, error)
	AddMember(ctx context.Context, roomID string, userID int64) error
}

type directoryService struct {
	db       *sql.DB
	rdc      *redis.Client
	cacheTTL time.Duration
}

func NewDirectoryService(db *sql.DB, rdc *redis.Client, cacheTTL time.Duration) IDirectoryService {
	return &directoryService{
		db:       db,
		rdc:      rdc,
		cacheTTL: cacheTTL,
	}
}

func memberCacheKey(roomID string, userID int64) string {
	return fmt.Sprintf("%s%s:%d", memberCacheKeyPrefix, roomID, userID)
}

// IsMember returns (false, err) only on lookup failure; a user who simply is
// not in the room gets (false, nil). Cache errors degrade to the DB lookup,
// never to a verdict.
func (svc *directoryService) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	key := memberCacheKey(roomID, userID)

	cached, err := svc.rdc.Get(ctx, key).Result()
	if err == nil {
		return cached == "1", nil
	}
	if !errors.Is(err, redis.Nil) {
		zap.L().Warn("directory.cache_get", zap.Error(err))
	}

	var member bool
	err = svc.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}

	verdict := "0"
	if member {
		verdict = "1"
	}
	if err := svc.rdc.Set(ctx, key, verdict, svc.cacheTTL).Err(); err != nil {
		zap.L().Warn("directory.cache_set", zap.Error(err))
	}
	return member, nil
}

// AddMember grants membership, overwriting any cached negative verdict.
func (svc *directoryService) AddMember(ctx context.Context, roomID string, userID int64) error {
	_, err := svc.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if err := svc.rdc.Set(ctx, memberCacheKey(roomID, userID), "1", svc.cacheTTL).Err(); err != nil {
		zap.L().Warn("directory.cache_set", zap.Error(err))
	}
	return nil
}
