package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, opts Options) (*Hub, *memDB, *memBlobs, *memPush) {
	t.Helper()
	db := newMemDB()
	blobs := newMemBlobs()
	push := &memPush{}
	if opts.Blobs == nil {
		opts.Blobs = blobs
	}
	if opts.Push == nil {
		opts.Push = push
	}
	return NewHub(NewRegistry(), db.stores(), opts), db, blobs, push
}

// connectUser эмулирует Register без сети: conn == nil, события читаются из c.send.
func connectUser(t *testing.T, h *Hub, db *memDB, id string) *Client {
	t.Helper()
	u, ok := db.users[id]
	require.True(t, ok, "unknown user %s", id)
	c := NewClient(h, nil, u.Summary(), 0)
	h.connect(context.Background(), c)
	return c
}

func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func types(msgs []OutgoingMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func emit(t *testing.T, h *Hub, c *Client, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	h.HandleMessage(context.Background(), c, IncomingMessage{Type: event, Payload: raw})
}

func requireError(t *testing.T, msgs []OutgoingMessage, text string) {
	t.Helper()
	require.Len(t, msgs, 1)
	require.Equal(t, EventError, msgs[0].Type)
	require.Equal(t, errorPayload{Message: text}, msgs[0].Payload)
}

// onlyMessage возвращает сохранённое сообщение, когда в БД оно единственное.
func onlyMessage(t *testing.T, db *memDB) string {
	t.Helper()
	require.Len(t, db.messages, 1)
	for id := range db.messages {
		return id
	}
	return ""
}
