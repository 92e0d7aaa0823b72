package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
)

var ErrNotFound = errors.New("not found")

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert records the display details of a user the first time they log in
// and refreshes them afterwards. Empty fields keep the stored value.
func (r *UserRepository) Upsert(ctx context.Context, u model.UserSummary) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, first_name, last_name, email)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), users.first_name),
		   last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), users.last_name),
		   email      = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)`,
		u.ID, u.FirstName, u.LastName, u.Email,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.UserSummary, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.UserSummary{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}
