package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/repository"
)

type markerKey struct {
	chatID, userID int64
}

// Store хранит чаты, сообщения, отметки о прочтении и пользователей в памяти
// и ведёт себя так же, как репозитории PostgreSQL. Используется в `serve`
// при store=memory и в тестах.
type Store struct {
	mu         sync.RWMutex
	chats      map[int64]model.Chat
	posts      map[int64]model.Post
	markers    map[markerKey]int64
	users      map[int64]model.UserSummary
	nextChatID int64
	nextPostID int64
	now        func() time.Time
}

func NewStore() *Store {
	return &Store{
		chats:   make(map[int64]model.Chat),
		posts:   make(map[int64]model.Post),
		markers: make(map[markerKey]int64),
		users:   make(map[int64]model.UserSummary),
		now:     time.Now,
	}
}

func (s *Store) Chats() *Chats     { return &Chats{s} }
func (s *Store) Posts() *Posts     { return &Posts{s} }
func (s *Store) Markers() *Markers { return &Markers{s} }
func (s *Store) Users() *Users     { return &Users{s} }

type Chats struct{ s *Store }

func (r *Chats) Create(ctx context.Context, c *model.Chat) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextChatID++
	c.ID = r.s.nextChatID
	c.CreatedDate = r.s.now().UTC()
	r.s.chats[c.ID] = *c
	return nil
}

func (r *Chats) GetByID(ctx context.Context, id int64) (*model.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *Chats) Find(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found *model.Chat
	for _, c := range r.s.chats {
		if !req.Matches(&c) {
			continue
		}
		if found == nil || c.ID < found.ID {
			c := c
			found = &c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *Chats) List(ctx context.Context) ([]model.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Chat, 0, len(r.s.chats))
	for _, c := range r.s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Chats) ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := make(map[int64]struct{})
	if c, ok := r.s.chats[chatID]; ok {
		seen[c.CreatedBy] = struct{}{}
	}
	for _, p := range r.s.posts {
		if p.ChatID == chatID {
			seen[p.AuthorID()] = struct{}{}
		}
	}
	for k := range r.s.markers {
		if k.chatID == chatID {
			seen[k.userID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type Posts struct{ s *Store }

func (r *Posts) Create(ctx context.Context, p *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextPostID++
	p.ID = r.s.nextPostID
	p.CreatedDate = r.s.now().UTC()
	r.s.posts[p.ID] = *p
	return nil
}

func (r *Posts) GetByID(ctx context.Context, id int64) (*model.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *Posts) Update(ctx context.Context, id int64, content string, updatedBy int64) (*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	editor, ok := r.s.users[updatedBy]
	if !ok {
		editor = model.UserSummary{ID: updatedBy}
	}
	now := r.s.now().UTC()
	p.Content = content
	p.UpdatedBy = &editor
	p.UpdatedDate = &now
	r.s.posts[id] = p
	return &p, nil
}

func (r *Posts) ListByChat(ctx context.Context, chatID int64) ([]model.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Post, 0, 16)
	for _, p := range r.s.posts {
		if p.ChatID == chatID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Posts) LastID(ctx context.Context, chatID int64) (*int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.lastPostIDLocked(chatID), nil
}

func (s *Store) lastPostIDLocked(chatID int64) *int64 {
	var last *int64
	for id, p := range s.posts {
		if p.ChatID != chatID {
			continue
		}
		if last == nil || id > *last {
			id := id
			last = &id
		}
	}
	return last
}

type Markers struct{ s *Store }

func (r *Markers) Get(ctx context.Context, chatID, userID int64) (*int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.markers[markerKey{chatID, userID}]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *Markers) Advance(ctx context.Context, chatID, userID, postID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := markerKey{chatID, userID}
	if cur, ok := r.s.markers[k]; ok && cur >= postID {
		return cur, nil
	}
	r.s.markers[k] = postID
	return postID, nil
}

func (r *Markers) CountUnread(ctx context.Context, userID int64) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for id := range r.s.chats {
		last := r.s.lastPostIDLocked(id)
		if last == nil {
			continue
		}
		marker, marked := r.s.markers[markerKey{id, userID}]
		if !marked || marker < *last {
			n++
		}
	}
	return n, nil
}

type Users struct{ s *Store }

func (r *Users) Upsert(ctx context.Context, u model.UserSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur := r.s.users[u.ID]
	cur.ID = u.ID
	if u.FirstName != "" {
		cur.FirstName = u.FirstName
	}
	if u.LastName != "" {
		cur.LastName = u.LastName
	}
	if u.Email != "" {
		cur.Email = u.Email
	}
	r.s.users[u.ID] = cur
	return nil
}

func (r *Users) GetByID(ctx context.Context, id int64) (*model.UserSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}
