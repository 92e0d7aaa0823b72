package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/repository"
)

func TestChatsFindIgnoresIrrelevantIDs(t *testing.T) {
	ctx := context.Background()
	chats := NewStore().Chats()

	c := &model.Chat{Type: model.ChatTypeCandidateProspect, CandidateID: model.ID(7), CreatedBy: 1}
	require.NoError(t, chats.Create(ctx, c))
	assert.Equal(t, int64(1), c.ID)

	found, err := chats.Find(ctx, model.CreateChatRequest{
		Type:        model.ChatTypeCandidateProspect,
		CandidateID: model.ID(7),
		JobID:       model.ID(99),
	})
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	_, err = chats.Find(ctx, model.CreateChatRequest{Type: model.ChatTypeCandidateProspect, CandidateID: model.ID(8)})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMarkersNeverRegress(t *testing.T) {
	ctx := context.Background()
	markers := NewStore().Markers()

	v, err := markers.Advance(ctx, 1, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	v, err = markers.Advance(ctx, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	got, err := markers.Get(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), *got)

	got, err = markers.Get(ctx, 1, 3)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCountUnread(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	chats, posts, markers := s.Chats(), s.Posts(), s.Markers()

	mine := &model.Chat{Type: model.ChatTypeAllJobCandidates, JobID: model.ID(1), CreatedBy: 1}
	other := &model.Chat{Type: model.ChatTypeAllJobCandidates, JobID: model.ID(2), CreatedBy: 2}
	empty := &model.Chat{Type: model.ChatTypeAllJobCandidates, JobID: model.ID(3), CreatedBy: 1}
	for _, c := range []*model.Chat{mine, other, empty} {
		require.NoError(t, chats.Create(ctx, c))
	}

	p1 := &model.Post{ChatID: mine.ID, Content: "hi", CreatedBy: &model.UserSummary{ID: 2}}
	p2 := &model.Post{ChatID: other.ID, Content: "hi", CreatedBy: &model.UserSummary{ID: 2}}
	require.NoError(t, posts.Create(ctx, p1))
	require.NoError(t, posts.Create(ctx, p2))

	n, err := markers.CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "chats with posts and no marker are unread, whoever created them")

	_, err = markers.Advance(ctx, other.ID, 1, 0)
	require.NoError(t, err)
	n, _ = markers.CountUnread(ctx, 1)
	assert.Equal(t, 2, n, "marker behind the last post")

	_, _ = markers.Advance(ctx, mine.ID, 1, p1.ID)
	n, _ = markers.CountUnread(ctx, 1)
	assert.Equal(t, 1, n)
	_, _ = markers.Advance(ctx, other.ID, 1, p2.ID)
	n, _ = markers.CountUnread(ctx, 1)
	assert.Equal(t, 0, n)

	n, _ = markers.CountUnread(ctx, 3)
	assert.Equal(t, 2, n, "a user who never opened either chat")
}

func TestPostsUpdateRecordsEditor(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Users().Upsert(ctx, model.UserSummary{ID: 5, FirstName: "Ada"}))

	p := &model.Post{ChatID: 1, Content: "draft", CreatedBy: &model.UserSummary{ID: 5}}
	require.NoError(t, s.Posts().Create(ctx, p))

	updated, err := s.Posts().Update(ctx, p.ID, "final", 5)
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Content)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, "Ada", updated.UpdatedBy.FirstName)
	assert.NotNil(t, updated.UpdatedDate)

	_, err = s.Posts().Update(ctx, 404, "x", 5)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
