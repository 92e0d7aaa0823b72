package chatclient

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/stream"
)

// fetchTimeout bounds the background user-info fetch behind a read status.
const fetchTimeout = 30 * time.Second

type readStatus struct {
	b           *stream.Behavior[bool]
	unsubscribe func()
}

// Service is the client's view of the chat backend: memoized chats,
// per-chat read-status streams and post feeds.
type Service struct {
	api    API
	push   Push
	userID int64

	creating singleflight.Group
	errs     *stream.Subject[error]

	mu       sync.Mutex
	chats    map[string]*model.Chat
	statuses map[int64]*readStatus
	feeds    map[int64]*PostFeed
	// marking holds one channel per mark-as-read still on its way to the
	// server; it is closed when the server has answered.
	marking map[chan struct{}]struct{}
}

// NewService serves userID, the logged-in user. push may be nil, in which
// case streams only change through fetches and local marks.
func NewService(api API, push Push, userID int64) *Service {
	return &Service{
		api:      api,
		push:     push,
		userID:   userID,
		errs:     stream.NewSubject[error](),
		chats:    make(map[string]*model.Chat),
		statuses: make(map[int64]*readStatus),
		feeds:    make(map[int64]*PostFeed),
		marking:  make(map[chan struct{}]struct{}),
	}
}

// Errors carries failures of background work, such as a rejected
// mark-as-read.
func (s *Service) Errors() stream.Stream[error] {
	return s.errs
}

// GetOrCreate returns the chat for req, creating it on the server on first
// use. Results are kept for the life of the service; concurrent callers
// with the same criteria share one request, and failures are not kept.
func (s *Service) GetOrCreate(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error) {
	req = req.Normalize()
	key := req.Key()
	s.mu.Lock()
	if c, ok := s.chats[key]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	v, err, _ := s.creating.Do(key, func() (any, error) {
		s.mu.Lock()
		c, ok := s.chats[key]
		s.mu.Unlock()
		if ok {
			return c, nil
		}
		c, err := s.api.GetOrCreate(ctx, req)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.chats[key] = c
		s.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Chat), nil
}

// ReadStatus is the chat's read state for the current user, true when read.
// The stream is created on first use: that triggers one user-info fetch and
// a push subscription. A failed fetch errors the stream and forgets it, so
// a later call starts over.
func (s *Service) ReadStatus(chat *model.Chat) *stream.Behavior[bool] {
	s.mu.Lock()
	if st, ok := s.statuses[chat.ID]; ok {
		s.mu.Unlock()
		return st.b
	}
	st := &readStatus{b: stream.NewBehavior[bool]()}
	s.statuses[chat.ID] = st
	s.mu.Unlock()

	if s.push != nil {
		unsub := s.push.Subscribe(chat.ID, func(ev model.ChatEvent) { s.onEvent(st, ev) })
		s.mu.Lock()
		st.unsubscribe = unsub
		s.mu.Unlock()
	}
	go s.fetchReadStatus(chat.ID, st)
	return st.b
}

func (s *Service) fetchReadStatus(chatID int64, st *readStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	info, err := s.api.UserInfo(ctx, chatID, s.userID)
	if err != nil {
		logger.Errorf("chatclient: read status of chat %d: %v", chatID, err)
		s.mu.Lock()
		if s.statuses[chatID] == st {
			delete(s.statuses, chatID)
		}
		unsub := st.unsubscribe
		s.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		st.b.Error(err)
		return
	}
	// A push event or a local mark that already set the value is newer
	// than this fetch.
	st.b.Init(info.IsRead())
}

// onEvent applies push events: a new post by someone else makes the chat
// unread; the current user's own read marker, from any tab or device,
// makes it read.
func (s *Service) onEvent(st *readStatus, ev model.ChatEvent) {
	switch ev.Type {
	case model.EventPost:
		if ev.Post == nil || ev.Post.UpdatedDate != nil {
			return
		}
		if ev.Post.AuthorID() != s.userID {
			st.b.Next(false)
		}
	case model.EventRead:
		if ev.Read != nil && ev.Read.UserID == s.userID {
			st.b.Next(true)
		}
	}
}

// CombineReadStatuses is true while every chat is read. It recomputes on
// each constituent change; an empty set is read. Duplicate chats count once.
func (s *Service) CombineReadStatuses(chats []*model.Chat) stream.Stream[bool] {
	chats = RemoveDuplicateChats(chats)
	inputs := make([]stream.Stream[bool], len(chats))
	for i, c := range chats {
		inputs[i] = s.ReadStatus(c)
	}
	return stream.AllTrue(inputs)
}

// MarkAsRead shows the chat as read at once and advances the marker on the
// server in the background. The returned channel yields the server result;
// a failure also goes to Errors. The local state is not rolled back.
func (s *Service) MarkAsRead(ctx context.Context, chat *model.Chat) <-chan error {
	inFlight := make(chan struct{})
	s.mu.Lock()
	s.marking[inFlight] = struct{}{}
	s.mu.Unlock()

	s.ReadStatus(chat).Next(true)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := s.api.MarkAsRead(ctx, chat.ID, 0)
		s.mu.Lock()
		delete(s.marking, inFlight)
		s.mu.Unlock()
		close(inFlight)
		if err != nil {
			logger.Errorf("chatclient: mark chat %d read: %v", chat.ID, err)
			s.errs.Next(err)
		}
		done <- err
	}()
	return done
}

// Posts returns the chat's live post feed, fetching existing posts the
// first time.
func (s *Service) Posts(ctx context.Context, chat *model.Chat) (*PostFeed, error) {
	s.mu.Lock()
	if f, ok := s.feeds[chat.ID]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	v, err, _ := s.creating.Do("feed:"+strconv.FormatInt(chat.ID, 10), func() (any, error) {
		f := newPostFeed(chat.ID)
		if s.push != nil {
			f.unsubscribe = s.push.Subscribe(chat.ID, func(ev model.ChatEvent) {
				if ev.Type == model.EventPost && ev.Post != nil {
					f.upsert(*ev.Post)
				}
			})
		}
		posts, err := s.api.Posts(ctx, chat.ID)
		if err != nil {
			f.close()
			return nil, err
		}
		for _, p := range posts {
			f.upsert(p)
		}
		s.mu.Lock()
		s.feeds[chat.ID] = f
		s.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PostFeed), nil
}

func (s *Service) feed(chatID int64) *PostFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[chatID]
}

// CreatePost adds a post to the chat. An open feed shows it without waiting
// for the push echo.
func (s *Service) CreatePost(ctx context.Context, chat *model.Chat, content string) (*model.Post, error) {
	p, err := s.api.CreatePost(ctx, chat.ID, content)
	if err != nil {
		return nil, err
	}
	if f := s.feed(chat.ID); f != nil {
		f.upsert(*p)
	}
	return p, nil
}

func (s *Service) UpdatePost(ctx context.Context, post *model.Post, content string) (*model.Post, error) {
	p, err := s.api.UpdatePost(ctx, post.ID, content)
	if err != nil {
		return nil, err
	}
	if f := s.feed(p.ChatID); f != nil {
		f.upsert(*p)
	}
	return p, nil
}

func (s *Service) Chats(ctx context.Context) ([]model.Chat, error) {
	return s.api.Chats(ctx)
}

// CandidateProspectChat looks the chat up without creating it; nil if the
// candidate has none.
func (s *Service) CandidateProspectChat(ctx context.Context, candidateID int64) (*model.Chat, error) {
	return s.api.CandidateProspectChat(ctx, candidateID)
}

// CheckUnread is how many chats the current user has not read. It first
// waits for marks already sent by MarkAsRead, so a chat just shown as read
// is not counted by a server that has not stored the mark yet.
func (s *Service) CheckUnread(ctx context.Context) (int, error) {
	s.mu.Lock()
	pending := make([]chan struct{}, 0, len(s.marking))
	for ch := range s.marking {
		pending = append(pending, ch)
	}
	s.mu.Unlock()
	for _, ch := range pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.api.CheckUnread(ctx)
}

// CleanUp is called on logout: it completes every read-status stream,
// forgets memoized chats and feeds, and closes the push connection.
func (s *Service) CleanUp() {
	s.mu.Lock()
	statuses := s.statuses
	feeds := s.feeds
	unsubs := make([]func(), 0, len(statuses))
	for _, st := range statuses {
		if st.unsubscribe != nil {
			unsubs = append(unsubs, st.unsubscribe)
		}
	}
	s.statuses = make(map[int64]*readStatus)
	s.feeds = make(map[int64]*PostFeed)
	s.chats = make(map[string]*model.Chat)
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, st := range statuses {
		st.b.Complete()
	}
	for _, f := range feeds {
		f.close()
	}
	if s.push != nil {
		if err := s.push.Close(); err != nil {
			logger.Errorf("chatclient: close push: %v", err)
		}
	}
}

// RemoveDuplicateChats keeps the first chat for each id.
func RemoveDuplicateChats(chats []*model.Chat) []*model.Chat {
	seen := make(map[int64]bool, len(chats))
	out := make([]*model.Chat, 0, len(chats))
	for _, c := range chats {
		if c == nil || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func ChatHeadingKey(t model.ChatType) string {
	return "CHAT_INFO.HEADING." + t.TranslationKey()
}

func ChatInfoParticipantsKey(t model.ChatType) string {
	return "CHAT_INFO.PARTICIPANTS." + t.TranslationKey()
}

func ChatInfoPurposeKey(t model.ChatType) string {
	return "CHAT_INFO.PURPOSE." + t.TranslationKey()
}
