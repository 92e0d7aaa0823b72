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

const chatCols = `id, name, chat_type, job_id, candidate_id, source_partner_id, created_by, created_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.Name, &c.Type, &c.JobID, &c.CandidateID, &c.SourcePartnerID, &c.CreatedBy, &c.CreatedDate)
}

// Create inserts c and fills in its id and creation time.
func (r *ChatRepository) Create(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chats (name, chat_type, job_id, candidate_id, source_partner_id, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		c.Name, c.Type, c.JobID, c.CandidateID, c.SourcePartnerID, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedDate)
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id int64) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	err := scanChat(r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// Find returns the oldest chat matching the criteria. Ids that play no part
// in the chat type's identity are ignored.
func (r *ChatRepository) Find(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.Find", time.Now())()
	n := req.Normalize()
	c := &model.Chat{}
	err := scanChat(r.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats
		 WHERE chat_type = $1
		   AND ($2::bigint IS NULL OR job_id = $2)
		   AND ($3::bigint IS NULL OR candidate_id = $3)
		   AND ($4::bigint IS NULL OR source_partner_id = $4)
		 ORDER BY id
		 LIMIT 1`,
		n.Type, n.JobID, n.CandidateID, n.SourcePartnerID,
	), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.Find: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) List(ctx context.Context) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.List", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT `+chatCols+` FROM chats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.List query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.List scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.List rows: %w", err)
	}
	return chats, nil
}

// ParticipantIDs returns everyone involved in the chat: its creator, post
// authors and users holding a read marker.
func (r *ChatRepository) ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error) {
	defer logger.DeferLogDuration("chat.ParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT created_by FROM chats WHERE id = $1
		 UNION
		 SELECT created_by FROM chat_posts WHERE chat_id = $1
		 UNION
		 SELECT user_id FROM chat_read_markers WHERE chat_id = $1`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 8)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.ParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs rows: %w", err)
	}
	return ids, nil
}
