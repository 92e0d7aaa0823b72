package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/stream"
)

// PostFeed is a chat's posts in creation order, kept current from the push
// topic: a post whose id is known replaces the old copy, any other is added.
type PostFeed struct {
	ChatID int64

	mu          sync.Mutex
	posts       []model.Post
	b           *stream.Behavior[[]model.Post]
	unsubscribe func()
}

func newPostFeed(chatID int64) *PostFeed {
	return &PostFeed{ChatID: chatID, b: stream.NewBehaviorWith[[]model.Post](nil)}
}

func (f *PostFeed) upsert(p model.Post) {
	f.mu.Lock()
	replaced := false
	for i := range f.posts {
		if f.posts[i].ID == p.ID {
			f.posts[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		f.posts = append(f.posts, p)
		sort.SliceStable(f.posts, func(i, j int) bool {
			if f.posts[i].CreatedDate.Equal(f.posts[j].CreatedDate) {
				return f.posts[i].ID < f.posts[j].ID
			}
			return f.posts[i].CreatedDate.Before(f.posts[j].CreatedDate)
		})
	}
	snapshot := append([]model.Post(nil), f.posts...)
	f.mu.Unlock()
	f.b.Next(snapshot)
}

func (f *PostFeed) close() {
	if f.unsubscribe != nil {
		f.unsubscribe()
	}
	f.b.Complete()
}

// Posts is a copy of the current posts.
func (f *PostFeed) Posts() []model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Post(nil), f.posts...)
}

// Days groups the current posts by calendar day in loc (UTC when nil).
func (f *PostFeed) Days(loc *time.Location) []model.DayGroup {
	return model.GroupByDay(f.Posts(), loc)
}

// Stream emits the full post list after every change.
func (f *PostFeed) Stream() stream.Stream[[]model.Post] {
	return f.b
}
