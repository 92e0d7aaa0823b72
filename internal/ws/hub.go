package ws

import (
	"context"
	"sync"
	"time"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/metrics"
	"github.com/jobchat/internal/model"
)

// ChatChecker проверяет, что чат существует; подписка на неизвестный чат
// отклоняется.
type ChatChecker interface {
	GetByID(ctx context.Context, id int64) (*model.Chat, error)
}

// Hub учитывает соединения и их подписки на чаты и рассылает события брокера
// подписчикам чата.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	topics   map[int64]map[*Client]struct{}
	maxConns int
	settings Settings
	chats    ChatChecker
	metrics  *metrics.Metrics

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(chats ChatChecker, maxConns int, settings Settings, m *metrics.Metrics) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		topics:     make(map[int64]map[*Client]struct{}),
		maxConns:   maxConns,
		settings:   settings.withDefaults(),
		chats:      chats,
		metrics:    m,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.topics = make(map[int64]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
	h.gauge(0)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%d", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.gauge(n)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for chatID := range c.topics {
		h.leaveLocked(c, chatID)
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.Close()
	h.gauge(n)
}

func (h *Hub) leaveLocked(c *Client, chatID int64) {
	delete(c.topics, chatID)
	subs := h.topics[chatID]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, chatID)
	}
}

func (h *Hub) gauge(n int) {
	if h.metrics != nil {
		h.metrics.WSConnections.Set(float64(n))
	}
}

// HandleMessage обрабатывает subscribe и unsubscribe.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case TypeSubscribe:
		h.subscribe(ctx, c, msg.ChatID)
	case TypeUnsubscribe:
		h.mu.Lock()
		h.leaveLocked(c, msg.ChatID)
		h.mu.Unlock()
	default:
		h.sendToClient(c, OutgoingMessage{Type: TypeError, Payload: "unknown message type"})
	}
}

func (h *Hub) subscribe(ctx context.Context, c *Client, chatID int64) {
	defer logger.DeferLogDuration("ws.subscribe", time.Now())()
	if chatID <= 0 {
		h.sendToClient(c, OutgoingMessage{Type: TypeError, Payload: "chatId required"})
		return
	}
	if h.chats != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := h.chats.GetByID(ctx, chatID); err != nil {
			h.sendToClient(c, OutgoingMessage{Type: TypeError, ChatID: chatID, Payload: "chat not found"})
			return
		}
	}
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	if h.topics[chatID] == nil {
		h.topics[chatID] = make(map[*Client]struct{})
	}
	h.topics[chatID][c] = struct{}{}
	c.topics[chatID] = struct{}{}
	h.mu.Unlock()
	h.sendToClient(c, OutgoingMessage{Type: TypeSubscribed, ChatID: chatID})
}

// Subscribers — число локальных соединений, подписанных на чат.
func (h *Hub) Subscribers(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[chatID])
}

// Broadcast доставляет событие брокера подписчикам чата. Не блокируется:
// медленные клиенты отключаются.
func (h *Hub) Broadcast(ev model.ChatEvent) {
	msg, ok := FromEvent(ev)
	if !ok {
		logger.Errorf("ws: dropping malformed %s event for chat %d", ev.Type, ev.ChatID)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.topics[ev.ChatID]))
	for c := range h.topics[ev.ChatID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		logger.Errorf("ws send buffer full, closing slow client user=%d", c.userID)
		if h.metrics != nil {
			h.metrics.WSDropped.Inc()
		}
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
