package push

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobchat/internal/storage/memory"
)

func sub(endpoint string) Subscription {
	var s Subscription
	s.Endpoint = endpoint
	s.Keys.P256dh = "p256"
	s.Keys.Auth = "auth"
	return s
}

func TestSubscribeKeepsNewestAndReplacesEndpoint(t *testing.T) {
	ctx := context.Background()
	n := NewNotifier(memory.New(), nil, "", nil)

	assert.ErrorIs(t, n.Subscribe(ctx, 1, Subscription{Endpoint: "x"}), ErrInvalidSubscription)

	for _, e := range []string{"a", "b", "c", "d", "e", "f", "b"} {
		require.NoError(t, n.Subscribe(ctx, 1, sub(e)))
	}
	subs, err := n.load(ctx, 1)
	require.NoError(t, err)
	var endpoints []string
	for _, s := range subs {
		endpoints = append(endpoints, s.Endpoint)
	}
	assert.Equal(t, []string{"c", "d", "e", "f", "b"}, endpoints)

	require.NoError(t, n.Unsubscribe(ctx, 1, "d"))
	subs, _ = n.load(ctx, 1)
	assert.Len(t, subs, 4)
}

func TestNotifyPrunesGoneSubscriptions(t *testing.T) {
	ctx := context.Background()
	n := NewNotifier(memory.New(), &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "ops@example.org", nil)
	require.NoError(t, n.Subscribe(ctx, 9, sub("https://push.example/live")))
	require.NoError(t, n.Subscribe(ctx, 9, sub("https://push.example/gone")))

	var mu sync.Mutex
	var payloads []string
	n.send = func(_ context.Context, payload []byte, s *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		mu.Lock()
		payloads = append(payloads, string(payload))
		mu.Unlock()
		status := http.StatusCreated
		if strings.HasSuffix(s.Endpoint, "gone") {
			status = http.StatusGone
		}
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
	}

	n.Notify(ctx, 9, Message{Title: "Ada", Body: "hello"})

	assert.Len(t, payloads, 2)
	assert.Contains(t, payloads[0], `"body":"hello"`)
	subs, err := n.load(ctx, 9)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/live", subs[0].Endpoint)
}

func TestEnsureVAPIDKeysGeneratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")
	first, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)

	second, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
