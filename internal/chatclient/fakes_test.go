package chatclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/stream"
)

const me = int64(1)

var errBoom = errors.New("boom")

type fakeAPI struct {
	mu         sync.Mutex
	infos      map[int64]model.ChatUserInfo
	infoErr    map[int64]error
	infoGate   chan struct{}
	unread     int
	counted    map[int64]bool // chats in unread until marked read
	unreadErr  error
	markErr    error
	markGate   chan struct{}
	createGate chan struct{}
	createErr  error
	posts      map[int64][]model.Post

	createCalls atomic.Int32
	markCalls   atomic.Int32
	unreadCalls atomic.Int32
	nextID      atomic.Int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		infos:   make(map[int64]model.ChatUserInfo),
		infoErr: make(map[int64]error),
		posts:   make(map[int64][]model.Post),
		counted: make(map[int64]bool),
	}
}

func (f *fakeAPI) setRead(chatID int64, read bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := model.ChatUserInfo{LastPostID: model.ID(10)}
	if read {
		info.LastReadPostID = model.ID(10)
	}
	f.infos[chatID] = info
}

func (f *fakeAPI) GetOrCreate(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error) {
	f.createCalls.Add(1)
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.Chat{ID: f.nextID.Add(1), Type: req.Type, CandidateID: req.CandidateID}, nil
}

func (f *fakeAPI) Chats(ctx context.Context) ([]model.Chat, error) { return nil, nil }

func (f *fakeAPI) CandidateProspectChat(ctx context.Context, candidateID int64) (*model.Chat, error) {
	return nil, nil
}

func (f *fakeAPI) UserInfo(ctx context.Context, chatID, userID int64) (*model.ChatUserInfo, error) {
	f.mu.Lock()
	err := f.infoErr[chatID]
	info := f.infos[chatID]
	f.mu.Unlock()
	if f.infoGate != nil {
		<-f.infoGate
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (f *fakeAPI) MarkAsRead(ctx context.Context, chatID, postID int64) (*int64, error) {
	f.markCalls.Add(1)
	if f.markGate != nil {
		<-f.markGate
	}
	if f.markErr != nil {
		return nil, f.markErr
	}
	f.mu.Lock()
	if f.counted[chatID] {
		delete(f.counted, chatID)
		f.unread--
	}
	f.infos[chatID] = model.ChatUserInfo{LastPostID: model.ID(10), LastReadPostID: model.ID(10)}
	f.mu.Unlock()
	return model.ID(10), nil
}

func (f *fakeAPI) CheckUnread(ctx context.Context) (int, error) {
	f.unreadCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, f.unreadErr
}

func (f *fakeAPI) Posts(ctx context.Context, chatID int64) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Post(nil), f.posts[chatID]...), nil
}

func (f *fakeAPI) CreatePost(ctx context.Context, chatID int64, content string) (*model.Post, error) {
	return &model.Post{ID: f.nextID.Add(1) + 100, ChatID: chatID, Content: content, CreatedBy: &model.UserSummary{ID: me}}, nil
}

func (f *fakeAPI) UpdatePost(ctx context.Context, postID int64, content string) (*model.Post, error) {
	now := time.Now()
	return &model.Post{ID: postID, ChatID: 1, Content: content, UpdatedDate: &now}, nil
}

type eventHandler func(model.ChatEvent)

type fakePush struct {
	mu       sync.Mutex
	handlers map[int64][]*eventHandler
	closed   bool
}

func newFakePush() *fakePush {
	return &fakePush{handlers: make(map[int64][]*eventHandler)}
}

func (p *fakePush) Subscribe(chatID int64, h func(model.ChatEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	eh := eventHandler(h)
	hp := &eh
	p.handlers[chatID] = append(p.handlers[chatID], hp)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		hs := p.handlers[chatID]
		for i, v := range hs {
			if v == hp {
				p.handlers[chatID] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (p *fakePush) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePush) topics() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, hs := range p.handlers {
		if len(hs) > 0 {
			n++
		}
	}
	return n
}

func (p *fakePush) emit(ev model.ChatEvent) {
	p.mu.Lock()
	hs := append([]*eventHandler(nil), p.handlers[ev.ChatID]...)
	p.mu.Unlock()
	for _, h := range hs {
		(*h)(ev)
	}
}

func (p *fakePush) postBy(chatID, authorID int64) {
	p.emit(model.ChatEvent{
		Type:   model.EventPost,
		ChatID: chatID,
		Post:   &model.Post{ID: 99, ChatID: chatID, CreatedBy: &model.UserSummary{ID: authorID}},
	})
}

// readBy emits the backend's read-marker event for userID.
func (p *fakePush) readBy(chatID, userID int64) {
	p.emit(model.ChatEvent{
		Type:   model.EventRead,
		ChatID: chatID,
		Read:   &model.ReadPayload{UserID: userID, LastReadPostID: 10},
	})
}

func chat(id int64) *model.Chat {
	return &model.Chat{ID: id, Type: model.ChatTypeCandidateProspect}
}

func waitValue[T comparable](t *testing.T, b *stream.Behavior[T], want T) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := b.Value()
		return ok && v == want
	}, 2*time.Second, 5*time.Millisecond)
}

type boolRecorder struct {
	mu     sync.Mutex
	values []bool
	err    error
}

func (r *boolRecorder) observer() stream.Observer[bool] {
	return stream.Observer[bool]{
		Next: func(v bool) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
		},
		Error: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		},
	}
}

func (r *boolRecorder) last() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return false, false
	}
	return r.values[len(r.values)-1], true
}

func (r *boolRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

func (r *boolRecorder) error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
