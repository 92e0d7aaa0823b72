package chatclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/stream"
)

func waitIndicator(t *testing.T, tr *ReadTracker, want Indicator) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Indicator() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestIndicatorGlyphs(t *testing.T) {
	assert.Equal(t, "", IndicatorRead.String())
	assert.Equal(t, "*", IndicatorUnread.String())
	assert.Equal(t, "?", IndicatorUnknown.String())
}

func TestTrackerMarkReadTriggersOneRecheck(t *testing.T) {
	svc, api, _ := newService(t)
	api.setRead(1, false)
	api.setRead(2, true)
	ancestor := stream.NewBehaviorWith(true)
	tr := NewReadTracker(svc, ancestor)
	defer tr.Close()

	assert.Equal(t, IndicatorUnknown, tr.Indicator())
	tr.SetVisible([]*model.Chat{chat(1), chat(2)})
	waitIndicator(t, tr, IndicatorUnread)
	v, _ := ancestor.Value()
	assert.False(t, v, "unread here makes the ancestor unread at once")

	<-svc.MarkAsRead(context.Background(), chat(1))
	assert.Equal(t, IndicatorRead, tr.Indicator())
	require.Eventually(t, func() bool {
		v, _ := ancestor.Value()
		return v
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), api.unreadCalls.Load())
}

func TestTrackerRecheckKeepsAncestorUnreadWhenOtherChatsAreUnread(t *testing.T) {
	svc, api, push := newService(t)
	api.setRead(1, true)
	api.unread = 2
	ancestor := stream.NewBehaviorWith(true)
	tr := NewReadTracker(svc, ancestor)
	defer tr.Close()

	tr.SetVisible([]*model.Chat{chat(1)})
	waitIndicator(t, tr, IndicatorRead)
	assert.Equal(t, int32(0), api.unreadCalls.Load(), "no recheck while the ancestor is read")

	push.postBy(1, 7)
	assert.Equal(t, IndicatorUnread, tr.Indicator())
	<-svc.MarkAsRead(context.Background(), chat(1))
	require.Eventually(t, func() bool { return api.unreadCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	tr.rechecks.Wait()
	v, _ := ancestor.Value()
	assert.False(t, v)
}

func TestTrackerRecheckErrorLeavesAncestor(t *testing.T) {
	svc, api, _ := newService(t)
	api.setRead(1, true)
	api.unreadErr = errBoom
	ancestor := stream.NewBehaviorWith(false)
	tr := NewReadTracker(svc, ancestor)
	defer tr.Close()

	tr.SetVisible([]*model.Chat{chat(1)})
	require.Eventually(t, func() bool { return tr.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, tr.Err(), errBoom)
	v, _ := ancestor.Value()
	assert.False(t, v)
}

func TestTrackerSetVisibleDropsOldSubscription(t *testing.T) {
	svc, api, push := newService(t)
	api.setRead(1, true)
	api.setRead(2, true)
	tr := NewReadTracker(svc, nil)
	defer tr.Close()

	tr.SetVisible([]*model.Chat{chat(1)})
	waitIndicator(t, tr, IndicatorRead)
	tr.SetVisible([]*model.Chat{chat(2)})
	waitIndicator(t, tr, IndicatorRead)

	push.postBy(1, 7)
	assert.Equal(t, IndicatorRead, tr.Indicator(), "old chat no longer drives the indicator")
	assert.Equal(t, 0, svc.ReadStatus(chat(1)).Observers())

	push.postBy(2, 7)
	assert.Equal(t, IndicatorUnread, tr.Indicator())
}

func TestTrackerErrorShowsUnknown(t *testing.T) {
	svc, api, _ := newService(t)
	api.infoErr[1] = errBoom
	tr := NewReadTracker(svc, nil)
	defer tr.Close()

	tr.SetVisible([]*model.Chat{chat(1)})
	require.Eventually(t, func() bool { return tr.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, IndicatorUnknown, tr.Indicator())
}

func TestTrackerEmptySetIsRead(t *testing.T) {
	svc, _, _ := newService(t)
	tr := NewReadTracker(svc, nil)
	defer tr.Close()
	tr.SetVisible(nil)
	assert.Equal(t, IndicatorRead, tr.Indicator())
}

func TestTrackerRefresh(t *testing.T) {
	svc, api, _ := newService(t)
	ancestor := stream.NewBehaviorWith(false)
	tr := NewReadTracker(svc, ancestor)
	defer tr.Close()

	require.NoError(t, tr.Refresh(context.Background()))
	v, _ := ancestor.Value()
	assert.True(t, v)
	assert.Equal(t, int32(1), api.unreadCalls.Load())
}

func TestTrackerRechecksOnlyWhenViewBecomesRead(t *testing.T) {
	svc, api, push := newService(t)
	api.setRead(1, false)
	api.setRead(2, true)
	api.unread = 3
	ancestor := stream.NewBehaviorWith(true)
	tr := NewReadTracker(svc, ancestor)
	defer tr.Close()

	tr.SetVisible([]*model.Chat{chat(1), chat(2)})
	waitIndicator(t, tr, IndicatorUnread)

	require.NoError(t, <-svc.MarkAsRead(context.Background(), chat(1)))
	require.Eventually(t, func() bool { return api.unreadCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	tr.rechecks.Wait()

	push.readBy(1, me)
	require.NoError(t, <-svc.MarkAsRead(context.Background(), chat(2)))
	tr.rechecks.Wait()
	assert.Equal(t, IndicatorRead, tr.Indicator())
	assert.Equal(t, int32(1), api.unreadCalls.Load(), "read echoes and re-marks of a read view do not recheck")
	v, _ := ancestor.Value()
	assert.False(t, v, "chats outside the view are still unread")

	push.postBy(2, 7)
	assert.Equal(t, IndicatorUnread, tr.Indicator())
	require.NoError(t, <-svc.MarkAsRead(context.Background(), chat(2)))
	require.Eventually(t, func() bool { return api.unreadCalls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestTrackerRecheckSeesMarkInFlight(t *testing.T) {
	svc, api, _ := newService(t)
	api.setRead(1, false)
	api.setRead(2, true)
	api.unread = 1
	api.counted[1] = true
	api.markGate = make(chan struct{})
	ancestor := stream.NewBehaviorWith(true)
	tr := NewReadTracker(svc, ancestor)
	defer tr.Close()

	tr.SetVisible([]*model.Chat{chat(1), chat(2)})
	waitIndicator(t, tr, IndicatorUnread)

	done := svc.MarkAsRead(context.Background(), chat(1))
	assert.Equal(t, IndicatorRead, tr.Indicator())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), api.unreadCalls.Load(), "count waits for the mark to be stored")

	close(api.markGate)
	require.NoError(t, <-done)
	require.Eventually(t, func() bool {
		v, _ := ancestor.Value()
		return v
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), api.unreadCalls.Load())
}
