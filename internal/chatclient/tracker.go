package chatclient

import (
	"context"
	"sync"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/stream"
)

// Indicator is what a view shows for a set of chats.
type Indicator int

const (
	IndicatorUnknown Indicator = iota
	IndicatorRead
	IndicatorUnread
)

// String is the glyph shown next to the view's title.
func (i Indicator) String() string {
	switch i {
	case IndicatorRead:
		return ""
	case IndicatorUnread:
		return "*"
	}
	return "?"
}

// ReadSource is the part of Service a ReadTracker uses.
type ReadSource interface {
	CombineReadStatuses(chats []*model.Chat) stream.Stream[bool]
	CheckUnread(ctx context.Context) (int, error)
}

// ReadTracker drives one view's unread indicator from the chats currently
// visible in it. With an ancestor attached it also keeps the ancestor's
// aggregate in step: unread here makes the ancestor unread at once, and
// read here asks the server whether anything outside the view is still
// unread.
type ReadTracker struct {
	src      ReadSource
	ancestor *stream.Behavior[bool]

	indicator *stream.Behavior[Indicator]
	ctx       context.Context
	cancel    context.CancelFunc

	mu         sync.Mutex
	sub        *stream.Subscription
	gen        int
	err        error
	rechecking bool
	rechecks   sync.WaitGroup

	// last is the previous composite value of the current subscription;
	// nil before its first emission.
	last *bool
}

// NewReadTracker tracks chats from src. ancestor may be nil.
func NewReadTracker(src ReadSource, ancestor *stream.Behavior[bool]) *ReadTracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReadTracker{
		src:       src,
		ancestor:  ancestor,
		indicator: stream.NewBehaviorWith(IndicatorUnknown),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetVisible replaces the tracked chats: the previous composite
// subscription is dropped before the new one starts.
func (t *ReadTracker) SetVisible(chats []*model.Chat) {
	t.mu.Lock()
	old := t.sub
	t.sub = nil
	t.gen++
	gen := t.gen
	t.last = nil
	t.mu.Unlock()
	old.Unsubscribe()

	t.indicator.Next(IndicatorUnknown)
	sub := t.src.CombineReadStatuses(chats).Subscribe(stream.Observer[bool]{
		Next:  func(read bool) { t.onStatus(gen, read) },
		Error: func(err error) { t.onError(gen, err) },
	})

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	t.sub = sub
	t.mu.Unlock()
}

func (t *ReadTracker) current(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen && t.ctx.Err() == nil
}

// observe records read as the subscription's latest value and reports
// whether it is current and whether it turned the view read. The first
// emission of a subscription counts as a change.
func (t *ReadTracker) observe(gen int, read bool) (current, becameRead bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.ctx.Err() != nil {
		return false, false
	}
	becameRead = read && (t.last == nil || !*t.last)
	t.last = &read
	return true, becameRead
}

func (t *ReadTracker) onStatus(gen int, read bool) {
	current, becameRead := t.observe(gen, read)
	if !current {
		return
	}
	if read {
		t.indicator.Next(IndicatorRead)
	} else {
		t.indicator.Next(IndicatorUnread)
	}
	if t.ancestor == nil {
		return
	}
	ancestorRead, known := t.ancestor.Value()
	switch {
	case !read && (!known || ancestorRead):
		t.ancestor.Next(false)
	case becameRead && known && !ancestorRead:
		t.startRecheck()
	}
}

func (t *ReadTracker) onError(gen int, err error) {
	if !t.current(gen) {
		return
	}
	logger.Errorf("chatclient: read status: %v", err)
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.indicator.Next(IndicatorUnknown)
}

// startRecheck runs one recheck unless one is already in flight.
func (t *ReadTracker) startRecheck() {
	t.mu.Lock()
	if t.rechecking {
		t.mu.Unlock()
		return
	}
	t.rechecking = true
	t.rechecks.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.rechecks.Done()
		err := t.recheck(t.ctx)
		t.mu.Lock()
		t.rechecking = false
		t.mu.Unlock()
		if err != nil && t.ctx.Err() == nil {
			logger.Errorf("chatclient: recheck unread chats: %v", err)
		}
	}()
}

// recheck asks the server for unread chats anywhere and publishes the
// answer on the ancestor.
func (t *ReadTracker) recheck(ctx context.Context) error {
	n, err := t.src.CheckUnread(ctx)
	if err != nil {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		return err
	}
	if t.ancestor != nil && ctx.Err() == nil {
		t.ancestor.Next(n == 0)
	}
	return nil
}

// Refresh rechecks the server on demand.
func (t *ReadTracker) Refresh(ctx context.Context) error {
	return t.recheck(ctx)
}

// Indicator is the current indicator.
func (t *ReadTracker) Indicator() Indicator {
	v, _ := t.indicator.Value()
	return v
}

// Indicators emits the indicator on every change, starting with the
// current one.
func (t *ReadTracker) Indicators() stream.Stream[Indicator] {
	return t.indicator
}

// Err is the last error seen by the tracker.
func (t *ReadTracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close unsubscribes and waits for a running recheck to finish.
func (t *ReadTracker) Close() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.gen++
	t.mu.Unlock()
	t.cancel()
	sub.Unsubscribe()
	t.rechecks.Wait()
	t.indicator.Complete()
}
