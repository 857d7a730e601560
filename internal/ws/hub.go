package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/baatchit/internal/blob"
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
)

const defaultEventTimeout = 5 * time.Second

type eventHandler func(ctx context.Context, c *Client, payload json.RawMessage)

// Options: необязательные зависимости хаба. Nil-зависимость отключает соответствующую функцию
// (Push: без пушей, Limiter: без ограничения частоты, Blobs: голосовые и вложения отклоняются).
type Options struct {
	MaxConns int
	Timeout  time.Duration
	Blobs    blob.Store
	Push     PushNotifier
	Limiter  EventLimiter
}

type Hub struct {
	reg      *Registry
	st       Stores
	blobs    blob.Store
	push     PushNotifier
	limiter  EventLimiter
	calls    CallHandler
	maxConns int
	timeout  time.Duration
	handlers map[string]eventHandler

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(reg *Registry, st Stores, opts Options) *Hub {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultEventTimeout
	}
	h := &Hub{
		reg:        reg,
		st:         st,
		blobs:      opts.Blobs,
		push:       opts.Push,
		limiter:    opts.Limiter,
		maxConns:   opts.MaxConns,
		timeout:    opts.Timeout,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	h.handlers = map[string]eventHandler{
		EventMessage:        h.handleMessage,
		EventMessageSeen:    h.handleMessageSeen,
		EventUserTyping:     h.handleTyping,
		EventNewReaction:    h.handleNewReaction,
		EventDeleteReaction: h.handleDeleteReaction,
		EventMessageEdit:    h.handleEdit,
		EventMessageDelete:  h.handleDelete,
		EventPinMessage:     h.handlePin,
		EventUnpinMessage:   h.handleUnpin,
		EventVoteIn:         h.handleVoteIn,
		EventVoteOut:        h.handleVoteOut,
	}
	return h
}

// SetCallHandler подключает сигнализацию звонков. Вызывать до Run.
func (h *Hub) SetCallHandler(ch CallHandler) {
	h.calls = ch
}

func (h *Hub) Registry() *Registry { return h.reg }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.connect(ctx, c)
		case c := <-h.unregister:
			h.disconnect(ctx, c)
		}
	}
}

func (h *Hub) shutdown() {
	clients := h.reg.Clients()
	for _, c := range clients {
		h.reg.Unbind(c)
		c.Close()
	}
	for _, c := range clients {
		c.Wait()
	}
	metrics.WSConnections.Set(0)
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

// HandleMessage: диспетчер входящих событий. Паника или ошибка в обработчике не затрагивает соединение.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("ws handler panic type=%s user=%s: %v", msg.Type, c.userID, rec)
		}
	}()

	handler, ok := h.handlers[msg.Type]
	if ok && !h.allow(ctx, c) {
		metrics.WSRejected.WithLabelValues("rate_limit").Inc()
		h.sendError(c, "too many events")
		return
	}

	// Закрытие соединения не прерывает уже принятое событие: ограничивает только таймаут.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	switch {
	case ok:
		metrics.WSEvents.WithLabelValues(msg.Type).Inc()
		handler(ctx, c, msg.Payload)
	case h.calls != nil && h.calls.Handle(ctx, c.user, msg.Type, msg.Payload):
		metrics.WSEvents.WithLabelValues(msg.Type).Inc()
	default:
		metrics.WSEvents.WithLabelValues("unknown").Inc()
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) allow(ctx context.Context, c *Client) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws rate limit user=%s: %v", c.userID, err)
		return true
	}
	return ok
}

// decode разбирает payload; при ошибке отправителю уходит ERROR.
func (h *Hub) decode(c *Client, raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		h.sendError(c, "payload required")
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		h.sendError(c, "malformed payload")
		return false
	}
	return true
}

// SendTo: доставка события одному пользователю (для сигнализации звонков). false: пользователь офлайн.
func (h *Hub) SendTo(userID, event string, payload any) bool {
	return h.sendToUser(userID, OutgoingMessage{Type: event, Payload: payload})
}

func (h *Hub) IsOnline(userID string) bool {
	_, ok := h.reg.Resolve(userID)
	return ok
}
