package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobchat/internal/logger"
)

type ReadMarkerRepository struct {
	pool *pgxpool.Pool
}

func NewReadMarkerRepository(pool *pgxpool.Pool) *ReadMarkerRepository {
	return &ReadMarkerRepository{pool: pool}
}

// Get returns the user's last read post id in the chat, or nil if the user
// never marked it.
func (r *ReadMarkerRepository) Get(ctx context.Context, chatID, userID int64) (*int64, error) {
	defer logger.DeferLogDuration("readMarker.Get", time.Now())()
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT last_read_post_id FROM chat_read_markers WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("readMarkerRepo.Get: %w", err)
	}
	return &id, nil
}

// Advance moves the marker to postID unless it is already further along and
// returns the stored value.
func (r *ReadMarkerRepository) Advance(ctx context.Context, chatID, userID, postID int64) (int64, error) {
	defer logger.DeferLogDuration("readMarker.Advance", time.Now())()
	var stored int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chat_read_markers (chat_id, user_id, last_read_post_id, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (chat_id, user_id) DO UPDATE SET
		   last_read_post_id = GREATEST(chat_read_markers.last_read_post_id, EXCLUDED.last_read_post_id),
		   updated_at = now()
		 RETURNING last_read_post_id`,
		chatID, userID, postID,
	).Scan(&stored)
	if err != nil {
		return 0, fmt.Errorf("readMarkerRepo.Advance: %w", err)
	}
	return stored, nil
}

// CountUnread counts chats with posts the user has not read up to the
// newest one, including chats they never opened. It is the same rule as
// ChatUserInfo.IsRead.
func (r *ReadMarkerRepository) CountUnread(ctx context.Context, userID int64) (int, error) {
	defer logger.DeferLogDuration("readMarker.CountUnread", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chats c
		 JOIN LATERAL (SELECT MAX(id) AS last_id FROM chat_posts WHERE chat_id = c.id) p ON true
		 LEFT JOIN chat_read_markers m ON m.chat_id = c.id AND m.user_id = $1
		 WHERE p.last_id IS NOT NULL
		   AND (m.last_read_post_id IS NULL OR m.last_read_post_id < p.last_id)`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("readMarkerRepo.CountUnread: %w", err)
	}
	return n, nil
}
