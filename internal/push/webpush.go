package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/baatchit/internal/logger"
)

// WebPush отправляет уведомления напрямую в браузерные push-сервисы по VAPID.
type WebPush struct {
	opts *webpush.Options
}

func NewWebPush(keys *VAPIDKeys, subscriber string) *WebPush {
	return &WebPush{opts: &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             30,
	}}
}

// Send: token: JSON PushSubscription {endpoint, keys{p256dh, auth}}.
func (p *WebPush) Send(ctx context.Context, token, title, body string) error {
	defer logger.DeferLogDuration("push.WebPush.Send", time.Now())()
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		return fmt.Errorf("push: invalid subscription token")
	}
	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		return fmt.Errorf("push payload: %w", err)
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, p.opts)
	if err != nil {
		return fmt.Errorf("push send %s: %w", shortEndpoint(sub.Endpoint), err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("push send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
	}
	return nil
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}

// NotifyHandler: POST /api/notify для сервиса push. 410: подписка недействительна.
func NotifyHandler(sender Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NotifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			http.Error(w, "token required", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		err := sender.Send(ctx, req.Token, req.Title, req.Body)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, ErrGone):
			w.WriteHeader(http.StatusGone)
		default:
			logger.Errorf("notify: %v", err)
			http.Error(w, "push failed", http.StatusBadGateway)
		}
	}
}
