package ws

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baatchit/internal/model"
)

// chatFixture: a, b онлайн; d офлайн с включёнными пушами; все в c1. c2 без a.
func chatFixture(t *testing.T) (*Hub, *memDB, *memBlobs, *memPush, *Client, *Client) {
	t.Helper()
	h, db, blobs, push := newTestHub(t, Options{})
	db.addUser("a", "alice")
	db.addUser("b", "bob").PushToken = "tok-b"
	db.addUser("d", "dave").PushToken = "tok-d"
	db.addChat("c1", "a", "b", "d")
	db.addChat("c2", "b", "d")
	ca := connectUser(t, h, db, "a")
	cb := connectUser(t, h, db, "b")
	drain(ca)
	drain(cb)
	return h, db, blobs, push, ca, cb
}

func TestMessage_DeliveredToRoomWithUnreadAndPush(t *testing.T) {
	h, db, _, push, ca, cb := chatFixture(t)

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "textMessageContent": " hi "})

	id := onlyMessage(t, db)
	assert.Equal(t, id, db.latest["c1"])
	assert.Equal(t, 1, db.unreadCount("b", "c1"))
	assert.Equal(t, 1, db.unreadCount("d", "c1"))
	assert.Equal(t, -1, db.unreadCount("a", "c1"), "sender gets no unread row")

	for _, c := range []*Client{ca, cb} {
		msgs := drain(c)
		require.Equal(t, []string{EventMessage, EventUnreadMessage}, types(msgs))
		p := msgs[0].Payload.(newMessagePayload)
		assert.True(t, p.IsNew)
		assert.Equal(t, id, p.ID)
		assert.Equal(t, "hi", *p.TextMessageContent)
		require.NotNil(t, p.Sender)
		assert.Equal(t, "alice", p.Sender.Username)

		u := msgs[1].Payload.(unreadMessagePayload)
		assert.Equal(t, "c1", u.ChatID)
		assert.Equal(t, "a", u.Sender.ID)
		assert.False(t, u.Message.Audio)
	}

	require.Len(t, push.calls, 1, "only offline members with a token get a push")
	assert.Equal(t, pushCall{"tok-d", "New message", "New message from alice"}, push.calls[0])
}

func TestMessage_SecondMessageIncrementsUnread(t *testing.T) {
	h, db, _, _, ca, _ := chatFixture(t)
	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "textMessageContent": "one"})
	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "url": "https://example.org"})

	assert.Equal(t, 2, db.unreadCount("b", "c1"))
	assert.Equal(t, db.latest["c1"], *db.unread[key("b", "|", "c1")].MessageID)
	assert.Equal(t, model.KindURL, db.messages[db.latest["c1"]].Kind)
}

func TestMessage_NonMemberGetsError(t *testing.T) {
	h, db, _, push, ca, cb := chatFixture(t)

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c2", "textMessageContent": "hi"})

	requireError(t, drain(ca), "not a member")
	assert.Empty(t, drain(cb))
	assert.Empty(t, db.messages)
	assert.Empty(t, push.calls)
}

func TestMessage_EmptyContentRejected(t *testing.T) {
	h, db, _, _, ca, _ := chatFixture(t)
	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "textMessageContent": "   "})
	requireError(t, drain(ca), "message content required")
	assert.Empty(t, db.messages)
}

func TestMessage_Classify(t *testing.T) {
	poll := &pollData{PollQuestion: "Lunch?", PollOptions: []string{"pizza", "soup"}}
	tests := []struct {
		name string
		in   messageIn
		want model.MessageKind
		ok   bool
	}{
		{"text", messageIn{TextMessageContent: "hi"}, model.KindText, true},
		{"url wins over text", messageIn{TextMessageContent: "look", URL: "https://x"}, model.KindURL, true},
		{"poll", messageIn{IsPollMessage: true, PollData: poll, TextMessageContent: "t"}, model.KindPoll, true},
		{"poll with one option falls back", messageIn{IsPollMessage: true, PollData: &pollData{PollQuestion: "q", PollOptions: []string{"x"}}, TextMessageContent: "t"}, model.KindText, true},
		{"audio first", messageIn{Audio: []byte{1}, EncryptedAudio: []byte{2}, URL: "u"}, model.KindAudio, true},
		{"encrypted audio", messageIn{EncryptedAudio: []byte{2}}, model.KindEncryptedAudio, true},
		{"nothing", messageIn{TextMessageContent: " "}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.in.classify()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessage_AudioUploadedAsWebm(t *testing.T) {
	h, db, blobs, _, ca, _ := chatFixture(t)

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "audio": []byte("voice-bytes")})

	id := onlyMessage(t, db)
	m := db.messages[id]
	assert.Equal(t, model.KindAudio, m.Kind)
	require.NotNil(t, m.AudioURL)
	require.NotNil(t, m.AudioPublicID)
	assert.True(t, strings.HasPrefix(*m.AudioPublicID, "group-audio/"))
	assert.True(t, strings.HasSuffix(*m.AudioPublicID, id+".webm"))
	assert.Equal(t, []byte("voice-bytes"), blobs.files[*m.AudioPublicID])

	msgs := drain(ca)
	require.Equal(t, []string{EventMessage, EventUnreadMessage}, types(msgs))
	assert.True(t, msgs[1].Payload.(unreadMessagePayload).Message.Audio)
}

func TestMessage_AudioUploadFailureSendsError(t *testing.T) {
	h, db, blobs, _, ca, cb := chatFixture(t)
	blobs.fail = true

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "encryptedAudio": []byte("x")})

	requireError(t, drain(ca), "failed to upload audio")
	assert.Empty(t, drain(cb))
	assert.Empty(t, db.messages)
}

func TestMessage_SaveFailureRemovesUploadedAudio(t *testing.T) {
	h, db, blobs, _, ca, _ := chatFixture(t)
	db.failSave = true

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "audio": []byte("x")})

	requireError(t, drain(ca), "failed to save message")
	require.Len(t, blobs.deleted, 1)
	assert.Empty(t, blobs.files)
}

func TestMessage_PollCreated(t *testing.T) {
	h, db, _, _, ca, _ := chatFixture(t)

	emit(t, h, ca, EventMessage, map[string]any{
		"chatId":        "c1",
		"isPollMessage": true,
		"pollData":      map[string]any{"pollQuestion": "Lunch?", "pollOptions": []string{"pizza", "soup"}, "isMultipleAnswers": true},
	})

	m := db.messages[onlyMessage(t, db)]
	assert.Equal(t, model.KindPoll, m.Kind)
	require.NotNil(t, m.PollID)
	poll := db.polls[*m.PollID]
	require.NotNil(t, poll)
	assert.Equal(t, "Lunch?", poll.Question)
	assert.True(t, poll.IsMultipleAnswers)

	msgs := drain(ca)
	require.NotEmpty(t, msgs)
	assert.NotNil(t, msgs[0].Payload.(newMessagePayload).Poll)
}

func TestSendAttachmentMessage(t *testing.T) {
	h, db, blobs, _, ca, cb := chatFixture(t)
	files := []FileUpload{
		{Name: "a.png", Body: bytes.NewReader([]byte("png"))},
		{Name: "b.pdf", Body: bytes.NewReader([]byte("pdf"))},
	}

	m, err := h.SendAttachmentMessage(context.Background(), ca.user, "c1", "see attached", files)
	require.NoError(t, err)

	assert.Equal(t, model.KindAttachments, m.Kind)
	assert.Len(t, m.Attachments, 2)
	assert.Len(t, blobs.files, 2)
	assert.Len(t, db.messages[m.ID].Attachments, 2)
	assert.Equal(t, 1, db.unreadCount("b", "c1"))

	msgs := drain(cb)
	require.Equal(t, []string{EventMessage, EventUnreadMessage}, types(msgs))
	assert.True(t, msgs[1].Payload.(unreadMessagePayload).Message.Attachments)
}

func TestSendAttachmentMessage_Rejects(t *testing.T) {
	h, db, blobs, _, ca, _ := chatFixture(t)
	file := func() FileUpload { return FileUpload{Name: "f.txt", Body: strings.NewReader("x")} }

	_, err := h.SendAttachmentMessage(context.Background(), ca.user, "c1", "", nil)
	assert.ErrorIs(t, err, ErrNoFiles)

	six := []FileUpload{file(), file(), file(), file(), file(), file()}
	_, err = h.SendAttachmentMessage(context.Background(), ca.user, "c1", "", six)
	assert.ErrorIs(t, err, ErrTooManyFiles)

	_, err = h.SendAttachmentMessage(context.Background(), ca.user, "c2", "", []FileUpload{file()})
	assert.ErrorIs(t, err, ErrNotMember)

	db.failSave = true
	_, err = h.SendAttachmentMessage(context.Background(), ca.user, "c1", "", []FileUpload{file(), file()})
	assert.Error(t, err)
	assert.Empty(t, blobs.files, "uploaded files are removed when the message is not saved")
	assert.Empty(t, db.messages)
}

func TestMessageSeen_ResetsCounterAndBroadcasts(t *testing.T) {
	h, db, _, _, ca, cb := chatFixture(t)

	emit(t, h, cb, EventMessageSeen, map[string]any{"chatId": "c1"})
	assert.Empty(t, drain(cb), "no unread row yet")

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "textMessageContent": "hi"})
	drain(ca)
	drain(cb)

	for i := 0; i < 2; i++ {
		emit(t, h, cb, EventMessageSeen, map[string]any{"chatId": "c1"})
		assert.Equal(t, 0, db.unreadCount("b", "c1"))
		msgs := drain(ca)
		require.Equal(t, []string{EventMessageSeen}, types(msgs))
		p := msgs[0].Payload.(seenPayload)
		assert.Equal(t, "b", p.User.ID)
		assert.Equal(t, "c1", p.ChatID)
		drain(cb)
	}
	assert.NotNil(t, db.unread[key("b", "|", "c1")].ReadAt)
}

func TestTyping_ExcludesSender(t *testing.T) {
	h, _, _, _, ca, cb := chatFixture(t)

	emit(t, h, ca, EventUserTyping, map[string]any{"chatId": "c1"})
	assert.Empty(t, drain(ca))
	assert.Equal(t, []OutgoingMessage{{Type: EventUserTyping, Payload: typingPayload{User: ca.user, ChatID: "c1"}}}, drain(cb))

	emit(t, h, ca, EventUserTyping, map[string]any{"chatId": "c2"})
	assert.Empty(t, drain(cb), "typing in a chat the sender is not in is dropped")
}

func TestMessage_ReplyMustStayInChat(t *testing.T) {
	h, db, _, _, ca, cb := chatFixture(t)
	db.addChat("secret", "b", "d")
	seedMessage(db, "s1", "secret", "b", model.KindText)
	seedMessage(db, "m1", "c1", "b", model.KindText)

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "textMessageContent": "re", "replyToMessageId": "s1"})
	requireError(t, drain(ca), "reply target not found")
	assert.Empty(t, drain(cb))

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "textMessageContent": "re", "replyToMessageId": "missing"})
	requireError(t, drain(ca), "reply target not found")
	assert.Len(t, db.messages, 2)

	emit(t, h, ca, EventMessage, map[string]any{"chatId": "c1", "textMessageContent": "re", "replyToMessageId": "m1"})
	assert.Equal(t, []string{EventMessage, EventUnreadMessage}, types(drain(cb)))
	require.Len(t, db.messages, 3)
	for _, m := range db.messages {
		if m.ID != "s1" && m.ID != "m1" {
			require.NotNil(t, m.ReplyToMessageID)
			assert.Equal(t, "m1", *m.ReplyToMessageID)
		}
	}
}

func TestMessage_SenderDisconnectDoesNotAbortDelivery(t *testing.T) {
	h, db, _, push, ca, cb := chatFixture(t)

	// Контекст соединения отправителя уже отменён (вкладка закрыта сразу после отправки).
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raw := []byte(`{"chatId":"c1","textMessageContent":"bye"}`)
	h.HandleMessage(ctx, ca, IncomingMessage{Type: EventMessage, Payload: raw})

	onlyMessage(t, db)
	assert.Equal(t, 1, db.unreadCount("b", "c1"))
	assert.Equal(t, 1, db.unreadCount("d", "c1"))
	assert.Equal(t, []string{EventMessage, EventUnreadMessage}, types(drain(cb)))
	assert.Len(t, push.calls, 1)
}
