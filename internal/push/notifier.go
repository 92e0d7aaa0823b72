package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/metrics"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/storage"
)

const (
	keyPrefix       = "push:"
	maxSubsPerUser  = 5
	subscriptionTTL = 30 * 24 * time.Hour
	notifyTimeout   = 10 * time.Second
)

var ErrInvalidSubscription = errors.New("subscription needs endpoint, keys.p256dh and keys.auth")

// Subscription — то, что возвращает PushManager браузера.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// Message — JSON, который получает service worker.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Notifier хранит подписки браузеров по пользователям в KV и отправляет на
// них Web Push. Без VAPID-ключей подписки сохраняются, но ничего не шлётся.
type Notifier struct {
	kv      storage.KV
	vapid   *webpush.Options
	metrics *metrics.Metrics
	send    sendFunc
}

func NewNotifier(kv storage.KV, keys *VAPIDKeys, subscriber string, m *metrics.Metrics) *Notifier {
	n := &Notifier{kv: kv, metrics: m, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return n
}

// PublicKey отдаётся браузеру для PushManager.subscribe; пустой, если пуши
// отключены.
func (n *Notifier) PublicKey() string {
	if n.vapid == nil {
		return ""
	}
	return n.vapid.VAPIDPublicKey
}

func userKey(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

func (n *Notifier) load(ctx context.Context, userID int64) ([]Subscription, error) {
	raw, err := n.kv.Get(ctx, userKey(userID))
	if err != nil || raw == "" {
		return nil, err
	}
	var subs []Subscription
	if err := json.Unmarshal([]byte(raw), &subs); err != nil {
		return nil, fmt.Errorf("push: decode subscriptions: %w", err)
	}
	return subs, nil
}

func (n *Notifier) save(ctx context.Context, userID int64, subs []Subscription) error {
	if len(subs) == 0 {
		return n.kv.Delete(ctx, userKey(userID))
	}
	raw, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	return n.kv.Set(ctx, userKey(userID), string(raw), subscriptionTTL)
}

// Subscribe добавляет подписку (с тем же endpoint — заменяет) и хранит
// только несколько последних.
func (n *Notifier) Subscribe(ctx context.Context, userID int64, sub Subscription) error {
	if !sub.Valid() {
		return ErrInvalidSubscription
	}
	subs, err := n.load(ctx, userID)
	if err != nil {
		return err
	}
	subs = append(without(subs, sub.Endpoint), sub)
	if len(subs) > maxSubsPerUser {
		subs = subs[len(subs)-maxSubsPerUser:]
	}
	return n.save(ctx, userID, subs)
}

func (n *Notifier) Unsubscribe(ctx context.Context, userID int64, endpoint string) error {
	subs, err := n.load(ctx, userID)
	if err != nil {
		return err
	}
	return n.save(ctx, userID, without(subs, endpoint))
}

func without(subs []Subscription, endpoint string) []Subscription {
	kept := subs[:0:0]
	for _, s := range subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	return kept
}

// Notify отправляет msg на все подписки пользователя. Подписки, которые
// push-сервис считает удалёнными (404/410), удаляются.
func (n *Notifier) Notify(ctx context.Context, userID int64, msg Message) {
	if n.vapid == nil {
		return
	}
	subs, err := n.load(ctx, userID)
	if err != nil {
		logger.Errorf("push: load subscriptions for %d: %v", userID, err)
		return
	}
	payload, _ := json.Marshal(msg)
	var gone []string
	for i := range subs {
		sub := &subs[i]
		resp, err := n.send(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, n.vapid)
		if err != nil {
			n.count("error")
			logger.Errorf("push: send %s: %v", shorten(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			n.count("gone")
			gone = append(gone, sub.Endpoint)
			continue
		}
		n.count("sent")
	}
	for _, endpoint := range gone {
		subs = without(subs, endpoint)
	}
	if len(gone) > 0 {
		if err := n.save(ctx, userID, subs); err != nil {
			logger.Errorf("push: prune subscriptions for %d: %v", userID, err)
		}
	}
}

// NotifyPost в фоне уведомляет получателей о новом сообщении.
func (n *Notifier) NotifyPost(recipients []int64, chat *model.Chat, post *model.Post) {
	if n.vapid == nil || len(recipients) == 0 {
		return
	}
	msg := Message{
		Title: postTitle(chat, post),
		Body:  post.Content,
		Data: map[string]string{
			"chatId": strconv.FormatInt(chat.ID, 10),
			"postId": strconv.FormatInt(post.ID, 10),
		},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		for _, id := range recipients {
			n.Notify(ctx, id, msg)
		}
	}()
}

func postTitle(chat *model.Chat, post *model.Post) string {
	name := ""
	if post.CreatedBy != nil {
		name = strings.TrimSpace(post.CreatedBy.FirstName + " " + post.CreatedBy.LastName)
	}
	if name == "" {
		name = "New message"
	}
	if chat.Name != "" {
		return name + " in " + chat.Name
	}
	return name
}

func (n *Notifier) count(result string) {
	if n.metrics != nil {
		n.metrics.PushDeliveries.WithLabelValues(result).Inc()
	}
}

func shorten(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
