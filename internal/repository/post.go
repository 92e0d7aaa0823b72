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

const postSelect = `SELECT p.id, p.chat_id, p.content, p.created_at, p.updated_at,
	p.created_by, COALESCE(a.first_name,''), COALESCE(a.last_name,''), COALESCE(a.email,''),
	p.updated_by, COALESCE(e.first_name,''), COALESCE(e.last_name,''), COALESCE(e.email,'')
	FROM chat_posts p
	LEFT JOIN users a ON a.id = p.created_by
	LEFT JOIN users e ON e.id = p.updated_by`

type PostRepository struct {
	pool *pgxpool.Pool
}

func NewPostRepository(pool *pgxpool.Pool) *PostRepository {
	return &PostRepository{pool: pool}
}

func scanPost(s interface{ Scan(dest ...any) error }, p *model.Post) error {
	var (
		author                model.UserSummary
		editorID              *int64
		eFirst, eLast, eEmail string
	)
	if err := s.Scan(&p.ID, &p.ChatID, &p.Content, &p.CreatedDate, &p.UpdatedDate,
		&author.ID, &author.FirstName, &author.LastName, &author.Email,
		&editorID, &eFirst, &eLast, &eEmail); err != nil {
		return err
	}
	p.CreatedBy = &author
	if editorID != nil {
		p.UpdatedBy = &model.UserSummary{ID: *editorID, FirstName: eFirst, LastName: eLast, Email: eEmail}
	}
	return nil
}

// Create inserts p and fills in its id and creation time. p.CreatedBy must be set.
func (r *PostRepository) Create(ctx context.Context, p *model.Post) error {
	defer logger.DeferLogDuration("post.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chat_posts (chat_id, content, created_by)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		p.ChatID, p.Content, p.AuthorID(),
	).Scan(&p.ID, &p.CreatedDate)
	if err != nil {
		return fmt.Errorf("postRepo.Create: %w", err)
	}
	return nil
}

func (r *PostRepository) GetByID(ctx context.Context, id int64) (*model.Post, error) {
	defer logger.DeferLogDuration("post.GetByID", time.Now())()
	p := &model.Post{}
	err := scanPost(r.pool.QueryRow(ctx, postSelect+` WHERE p.id = $1`, id), p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postRepo.GetByID: %w", err)
	}
	return p, nil
}

// Update replaces the content and records the editor.
func (r *PostRepository) Update(ctx context.Context, id int64, content string, updatedBy int64) (*model.Post, error) {
	defer logger.DeferLogDuration("post.Update", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_posts SET content = $1, updated_by = $2, updated_at = now() WHERE id = $3`,
		content, updatedBy, id,
	)
	if err != nil {
		return nil, fmt.Errorf("postRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// ListByChat returns the chat's posts oldest first.
func (r *PostRepository) ListByChat(ctx context.Context, chatID int64) ([]model.Post, error) {
	defer logger.DeferLogDuration("post.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx, postSelect+` WHERE p.chat_id = $1 ORDER BY p.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("postRepo.ListByChat query: %w", err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0, 32)
	for rows.Next() {
		var p model.Post
		if err := scanPost(rows, &p); err != nil {
			return nil, fmt.Errorf("postRepo.ListByChat scan: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postRepo.ListByChat rows: %w", err)
	}
	return posts, nil
}

// LastID returns the newest post id in the chat, or nil when it has none.
func (r *PostRepository) LastID(ctx context.Context, chatID int64) (*int64, error) {
	defer logger.DeferLogDuration("post.LastID", time.Now())()
	var id *int64
	if err := r.pool.QueryRow(ctx, `SELECT MAX(id) FROM chat_posts WHERE chat_id = $1`, chatID).Scan(&id); err != nil {
		return nil, fmt.Errorf("postRepo.LastID: %w", err)
	}
	return id, nil
}
