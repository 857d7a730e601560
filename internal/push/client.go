package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/baatchit/internal/logger"
)

// ErrGone: подписка браузера больше не действительна (Web Push 404/410); токен нужно забыть.
var ErrGone = errors.New("push: subscription gone")

// Sender доставляет одно уведомление на токен устройства.
type Sender interface {
	Send(ctx context.Context, token, title, body string) error
}

// NotifyRequest: тело POST /api/notify сервиса push. Token: JSON PushSubscription из браузера.
type NotifyRequest struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Client вызывает микросервис пуш-уведомлений. Если URL пустой: Send no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой: пуши отключены.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Enabled() bool { return c.baseURL != "" }

func (c *Client) Send(ctx context.Context, token, title, body string) error {
	if c.baseURL == "" {
		return nil
	}
	defer logger.DeferLogDuration("push.Client.Send", time.Now())()
	payload, err := json.Marshal(NotifyRequest{Token: token, Title: title, Body: body})
	if err != nil {
		return fmt.Errorf("push notify encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("push notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push notify: %w", err)
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusGone:
		return ErrGone
	}
	return fmt.Errorf("push notify: status %d", resp.StatusCode)
}
