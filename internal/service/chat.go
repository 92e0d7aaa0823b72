// Package service holds the chat backend's business rules: chat identity,
// posts, and per-user read markers.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/jobchat/internal/fileserver"
	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/metrics"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/repository"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrForbidden       = errors.New("forbidden")
	ErrUploadsDisabled = errors.New("attachments are not configured")
)

const maxPostLength = 10000

type ChatRepo interface {
	Create(ctx context.Context, c *model.Chat) error
	GetByID(ctx context.Context, id int64) (*model.Chat, error)
	Find(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error)
	List(ctx context.Context) ([]model.Chat, error)
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
}

type PostRepo interface {
	Create(ctx context.Context, p *model.Post) error
	GetByID(ctx context.Context, id int64) (*model.Post, error)
	Update(ctx context.Context, id int64, content string, updatedBy int64) (*model.Post, error)
	ListByChat(ctx context.Context, chatID int64) ([]model.Post, error)
	LastID(ctx context.Context, chatID int64) (*int64, error)
}

type MarkerRepo interface {
	Get(ctx context.Context, chatID, userID int64) (*int64, error)
	Advance(ctx context.Context, chatID, userID, postID int64) (int64, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
}

type UserRepo interface {
	Upsert(ctx context.Context, u model.UserSummary) error
	GetByID(ctx context.Context, id int64) (*model.UserSummary, error)
}

// Publisher sends chat events to every backend instance.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChatEvent) error
}

// PostNotifier alerts offline participants about a new post.
type PostNotifier interface {
	NotifyPost(recipients []int64, chat *model.Chat, post *model.Post)
}

// Deps wires ChatService. Notifier, Uploader and Metrics are optional.
type Deps struct {
	Chats    ChatRepo
	Posts    PostRepo
	Markers  MarkerRepo
	Users    UserRepo
	Events   Publisher
	Notifier PostNotifier
	Uploader fileserver.Uploader
	Metrics  *metrics.Metrics
}

type ChatService struct {
	Deps
	creating singleflight.Group
}

func NewChatService(d Deps) *ChatService {
	return &ChatService{Deps: d}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// GetOrCreate returns the chat identified by req, creating it on first use.
// Concurrent calls for the same criteria share one lookup.
func (s *ChatService) GetOrCreate(ctx context.Context, userID int64, req model.CreateChatRequest) (*model.Chat, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	req = req.Normalize()
	v, err, _ := s.creating.Do(req.Key(), func() (any, error) {
		c, err := s.Chats.Find(ctx, req)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return s.create(ctx, userID, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Chat), nil
}

// Create always makes a new chat for req.
func (s *ChatService) Create(ctx context.Context, userID int64, req model.CreateChatRequest) (*model.Chat, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	return s.create(ctx, userID, req.Normalize())
}

func (s *ChatService) create(ctx context.Context, userID int64, req model.CreateChatRequest) (*model.Chat, error) {
	c := &model.Chat{
		Type:            req.Type,
		JobID:           req.JobID,
		CandidateID:     req.CandidateID,
		SourcePartnerID: req.SourcePartnerID,
		CreatedBy:       userID,
	}
	if err := s.Chats.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.Infof("chat %d created: %s by user %d", c.ID, req.Key(), userID)
	return c, nil
}

func (s *ChatService) Get(ctx context.Context, chatID int64) (*model.Chat, error) {
	return s.Chats.GetByID(ctx, chatID)
}

func (s *ChatService) List(ctx context.Context) ([]model.Chat, error) {
	return s.Chats.List(ctx)
}

// CandidateProspectChat looks up the candidate's prospect chat without
// creating it; nil when there is none.
func (s *ChatService) CandidateProspectChat(ctx context.Context, candidateID int64) (*model.Chat, error) {
	c, err := s.Chats.Find(ctx, model.CreateChatRequest{
		Type:        model.ChatTypeCandidateProspect,
		CandidateID: &candidateID,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// MarkAsReadUpto moves the user's marker to postID, or to the last post
// when postID is 0. Markers never move backwards. Returns the stored
// marker, or nil when the chat has no posts yet.
func (s *ChatService) MarkAsReadUpto(ctx context.Context, chatID, userID, postID int64) (*int64, error) {
	if _, err := s.Chats.GetByID(ctx, chatID); err != nil {
		return nil, err
	}
	if postID == 0 {
		last, err := s.Posts.LastID(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if last == nil {
			return nil, nil
		}
		postID = *last
	} else {
		p, err := s.Posts.GetByID(ctx, postID)
		if err != nil {
			return nil, err
		}
		if p.ChatID != chatID {
			return nil, invalid(fmt.Errorf("post %d is not in chat %d", postID, chatID))
		}
	}

	stored, err := s.Markers.Advance(ctx, chatID, userID, postID)
	if err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.ReadsMarked.Inc()
	}
	s.publish(ctx, model.ChatEvent{
		Type:   model.EventRead,
		ChatID: chatID,
		Read:   &model.ReadPayload{UserID: userID, LastReadPostID: stored},
	})
	return &stored, nil
}

// UserInfo reports the chat's last post and how far the user has read.
func (s *ChatService) UserInfo(ctx context.Context, chatID, userID int64) (*model.ChatUserInfo, error) {
	if _, err := s.Chats.GetByID(ctx, chatID); err != nil {
		return nil, err
	}
	last, err := s.Posts.LastID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	marker, err := s.Markers.Get(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return &model.ChatUserInfo{LastPostID: last, LastReadPostID: marker}, nil
}

// CheckUnread is the number of chats with posts the user has not read, by
// the same rule as UserInfo: no marker or a marker behind the last post.
func (s *ChatService) CheckUnread(ctx context.Context, userID int64) (int, error) {
	return s.Markers.CountUnread(ctx, userID)
}

func (s *ChatService) author(ctx context.Context, userID int64) *model.UserSummary {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("chat: load user %d: %v", userID, err)
		}
		return &model.UserSummary{ID: userID}
	}
	return u
}

func validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalid(errors.New("post content is empty"))
	}
	if len(content) > maxPostLength {
		return "", invalid(fmt.Errorf("post content exceeds %d bytes", maxPostLength))
	}
	return content, nil
}

// CreatePost stores the post, moves the author's marker to it so their own
// post never reads as unread, and tells everyone else.
func (s *ChatService) CreatePost(ctx context.Context, userID, chatID int64, content string) (*model.Post, error) {
	content, err := validContent(content)
	if err != nil {
		return nil, err
	}
	chat, err := s.Chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	p := &model.Post{ChatID: chatID, Content: content, CreatedBy: s.author(ctx, userID)}
	if err := s.Posts.Create(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.Markers.Advance(ctx, chatID, userID, p.ID); err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.PostsCreated.Inc()
	}
	s.publish(ctx, model.ChatEvent{Type: model.EventPost, ChatID: chatID, Post: p})
	s.notify(ctx, chat, p)
	return p, nil
}

func (s *ChatService) notify(ctx context.Context, chat *model.Chat, p *model.Post) {
	if s.Notifier == nil {
		return
	}
	ids, err := s.Chats.ParticipantIDs(ctx, chat.ID)
	if err != nil {
		logger.Errorf("chat %d: participants for push: %v", chat.ID, err)
		return
	}
	recipients := ids[:0:0]
	for _, id := range ids {
		if id != p.AuthorID() {
			recipients = append(recipients, id)
		}
	}
	s.Notifier.NotifyPost(recipients, chat, p)
}

// UpdatePost edits a post; only its author may do so.
func (s *ChatService) UpdatePost(ctx context.Context, userID, postID int64, content string) (*model.Post, error) {
	content, err := validContent(content)
	if err != nil {
		return nil, err
	}
	p, err := s.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p.AuthorID() != userID {
		return nil, ErrForbidden
	}
	updated, err := s.Posts.Update(ctx, postID, content, userID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, model.ChatEvent{Type: model.EventPost, ChatID: updated.ChatID, Post: updated})
	return updated, nil
}

func (s *ChatService) ListPosts(ctx context.Context, chatID int64) ([]model.Post, error) {
	if _, err := s.Chats.GetByID(ctx, chatID); err != nil {
		return nil, err
	}
	return s.Posts.ListByChat(ctx, chatID)
}

// Attach stores a file and posts a message linking to it.
func (s *ChatService) Attach(ctx context.Context, userID, chatID int64, fileName string, size int64, r io.Reader) (*model.Post, *fileserver.Attachment, error) {
	if s.Uploader == nil {
		return nil, nil, ErrUploadsDisabled
	}
	if _, err := s.Chats.GetByID(ctx, chatID); err != nil {
		return nil, nil, err
	}
	att, err := s.Uploader.Save(ctx, fileName, size, r)
	if err != nil {
		if errors.Is(err, fileserver.ErrBlockedType) || errors.Is(err, fileserver.ErrContentType) || errors.Is(err, fileserver.ErrEmptyFileName) {
			return nil, nil, invalid(err)
		}
		return nil, nil, err
	}
	p, err := s.CreatePost(ctx, userID, chatID, fmt.Sprintf("%s\n%s", att.FileName, att.URL))
	if err != nil {
		return nil, nil, err
	}
	return p, att, nil
}

// publish failures are logged; the write has already succeeded and clients
// recover on their next fetch.
func (s *ChatService) publish(ctx context.Context, ev model.ChatEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		logger.Errorf("chat %d: publish %s event: %v", ev.ChatID, ev.Type, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.Events.WithLabelValues(string(ev.Type)).Inc()
	}
}
