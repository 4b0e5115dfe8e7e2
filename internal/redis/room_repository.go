package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hassanrakib/zitbo-server/internal/domain"
)

const (
	roomKeyPrefix  = "room:"
	connsKeyPrefix = "conns:"

	// Safety net against counters leaking after an instance crash; the
	// TTL is refreshed on every connect so live rooms never expire.
	connsTTL = 24 * time.Hour

	scanCount = 100
)

// RoomRepo implements domain.RoomRepository. One key per user holds the
// active task id; a sibling key counts live connections across all
// instances. Reads and writes are single commands, so concurrent upserts
// from sibling devices resolve as last write wins.
type RoomRepo struct {
	rdb *goredis.Client
}

func NewRoomRepo(rdb *goredis.Client) *RoomRepo {
	return &RoomRepo{rdb: rdb}
}

var _ domain.RoomRepository = (*RoomRepo)(nil)

// Upsert creates the user's registry entry or overwrites its active
// task id. An empty activeTaskID is a valid value meaning "connected,
// no task running" and is distinct from the key being absent.
func (r *RoomRepo) Upsert(ctx context.Context, username, activeTaskID string) error {
	if err := r.rdb.Set(ctx, roomKey(username), activeTaskID, 0).Err(); err != nil {
		return fmt.Errorf("failed to upsert room state: %w", err)
	}
	return nil
}

func (r *RoomRepo) Read(ctx context.Context, username string) (*domain.RoomState, error) {
	activeTaskID, err := r.rdb.Get(ctx, roomKey(username)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrRoomStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read room state: %w", err)
	}
	return &domain.RoomState{Username: username, ActiveTaskID: activeTaskID}, nil
}

// Delete removes the registry entry and the connection counter.
func (r *RoomRepo) Delete(ctx context.Context, username string) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, roomKey(username))
	pipe.Del(ctx, connsKey(username))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete room state: %w", err)
	}
	return nil
}

// IncrConns bumps the user's live connection count and refreshes the
// counter's safety TTL.
func (r *RoomRepo) IncrConns(ctx context.Context, username string) (int64, error) {
	pipe := r.rdb.Pipeline()
	incr := pipe.Incr(ctx, connsKey(username))
	pipe.Expire(ctx, connsKey(username), connsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment connection count: %w", err)
	}
	return incr.Val(), nil
}

func (r *RoomRepo) DecrConns(ctx context.Context, username string) (int64, error) {
	n, err := r.rdb.Decr(ctx, connsKey(username)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement connection count: %w", err)
	}
	return n, nil
}

func (r *RoomRepo) ConnCount(ctx context.Context, username string) (int64, error) {
	n, err := r.rdb.Get(ctx, connsKey(username)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read connection count: %w", err)
	}
	return n, nil
}

// ListRooms returns every username with a registry entry. Used by the
// orphan sweep.
func (r *RoomRepo) ListRooms(ctx context.Context) ([]string, error) {
	var usernames []string
	var cursor uint64

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("room scan cancelled: %w", ctx.Err())
		default:
		}

		keys, nextCursor, err := r.rdb.Scan(ctx, cursor, roomKeyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("room scan failed: %w", err)
		}

		for _, key := range keys {
			usernames = append(usernames, strings.TrimPrefix(key, roomKeyPrefix))
		}

		cursor = nextCursor
		if cursor == 0 {
			return usernames, nil
		}
	}
}

func roomKey(username string) string {
	return roomKeyPrefix + username
}

func connsKey(username string) string {
	return connsKeyPrefix + username
}
