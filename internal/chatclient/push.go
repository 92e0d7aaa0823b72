package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
)

// Push delivers chat events per chat topic.
type Push interface {
	// Subscribe calls h for every event on the chat's topic until the
	// returned function is called.
	Subscribe(chatID int64, h func(model.ChatEvent)) (unsubscribe func())
	Close() error
}

type pushFrame struct {
	Type    string          `json:"type"`
	ChatID  int64           `json:"chatId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type handlerEntry struct {
	fn func(model.ChatEvent)
}

// PushConn is a WebSocket connection to the backend hub with one topic per
// chat. It reconnects with backoff and resubscribes every open topic.
type PushConn struct {
	url    string
	token  func(ctx context.Context) (string, error)
	dialer *websocket.Dialer

	// OnUnauthorized is called when the backend refuses the token.
	OnUnauthorized func()

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[int64][]*handlerEntry
	writeMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// PushURL derives the WebSocket URL from the REST base, e.g.
// http://host:8080/api/admin → ws://host:8080/jobchat/websocket.
func PushURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/jobchat/websocket"
	u.RawQuery = ""
	return u.String(), nil
}

// DialPush connects to wsURL, authenticating with the session token.
func DialPush(ctx context.Context, wsURL string, session *SessionStore) (*PushConn, error) {
	pctx, cancel := context.WithCancel(context.Background())
	p := &PushConn{
		url:      wsURL,
		token:    session.Token,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers: make(map[int64][]*handlerEntry),
		ctx:      pctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	conn, err := p.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	p.conn = conn
	go p.run(conn)
	return p, nil
}

func (p *PushConn) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	target := p.url
	if token != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "access_token=" + url.QueryEscape(token)
	}
	conn, resp, err := p.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			if p.OnUnauthorized != nil {
				p.OnUnauthorized()
			}
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return conn, nil
}

func (p *PushConn) run(conn *websocket.Conn) {
	defer close(p.done)
	backoff := 500 * time.Millisecond
	for {
		p.readLoop(conn)
		if p.ctx.Err() != nil {
			return
		}
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := p.dial(p.ctx)
			if err == nil {
				conn = next
				backoff = 500 * time.Millisecond
				break
			}
			if errors.Is(err, ErrUnauthorized) {
				return
			}
			logger.Errorf("chatclient: push reconnect: %v", err)
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
		p.mu.Lock()
		if p.ctx.Err() != nil {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.conn = conn
		topics := make([]int64, 0, len(p.handlers))
		for id := range p.handlers {
			topics = append(topics, id)
		}
		p.mu.Unlock()
		for _, id := range topics {
			p.send(pushFrame{Type: "subscribe", ChatID: id})
		}
		logger.Infof("chatclient: push reconnected, %d topics", len(topics))
	}
}

func (p *PushConn) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var f pushFrame
		if err := conn.ReadJSON(&f); err != nil {
			if p.ctx.Err() == nil {
				logger.Errorf("chatclient: push read: %v", err)
			}
			return
		}
		ev, ok := toEvent(f)
		if !ok {
			if f.Type == "error" {
				logger.Errorf("chatclient: push error for chat %d: %s", f.ChatID, string(f.Payload))
			}
			continue
		}
		p.mu.Lock()
		hs := append([]*handlerEntry(nil), p.handlers[ev.ChatID]...)
		p.mu.Unlock()
		for _, h := range hs {
			h.fn(ev)
		}
	}
}

func toEvent(f pushFrame) (model.ChatEvent, bool) {
	ev := model.ChatEvent{ChatID: f.ChatID}
	switch f.Type {
	case string(model.EventPost):
		var post model.Post
		if json.Unmarshal(f.Payload, &post) != nil {
			return ev, false
		}
		ev.Type, ev.Post = model.EventPost, &post
	case string(model.EventRead):
		var read model.ReadPayload
		if json.Unmarshal(f.Payload, &read) != nil {
			return ev, false
		}
		ev.Type, ev.Read = model.EventRead, &read
	default:
		return ev, false
	}
	return ev, true
}

func (p *PushConn) send(f pushFrame) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(f); err != nil {
		logger.Errorf("chatclient: push %s chat %d: %v", f.Type, f.ChatID, err)
	}
}

func (p *PushConn) Subscribe(chatID int64, h func(model.ChatEvent)) func() {
	entry := &handlerEntry{fn: h}
	p.mu.Lock()
	first := len(p.handlers[chatID]) == 0
	p.handlers[chatID] = append(p.handlers[chatID], entry)
	p.mu.Unlock()
	if first {
		p.send(pushFrame{Type: "subscribe", ChatID: chatID})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			hs := p.handlers[chatID]
			for i, e := range hs {
				if e == entry {
					hs = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			last := len(hs) == 0
			if last {
				delete(p.handlers, chatID)
			} else {
				p.handlers[chatID] = hs
			}
			p.mu.Unlock()
			if last && p.ctx.Err() == nil {
				p.send(pushFrame{Type: "unsubscribe", ChatID: chatID})
			}
		})
	}
}

// Close stops reconnecting and closes the connection.
func (p *PushConn) Close() error {
	p.cancel()
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		p.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		conn.Close()
	}
	<-p.done
	return nil
}
