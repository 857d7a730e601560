package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baatchit/internal/blob"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
)

// memDB: in-memory хранилище для тестов хаба.
type memDB struct {
	mu        sync.Mutex
	users     map[string]*model.User
	members   map[string][]string
	messages  map[string]*model.Message
	latest    map[string]string
	polls     map[string]*model.Poll
	votes     map[string]model.Vote
	reactions map[string]model.Reaction
	pins      []model.PinnedMessage
	unread    map[string]*model.UnreadMessage
	clock     time.Time
	failSave  bool
}

func newMemDB() *memDB {
	return &memDB{
		users:     make(map[string]*model.User),
		members:   make(map[string][]string),
		messages:  make(map[string]*model.Message),
		latest:    make(map[string]string),
		polls:     make(map[string]*model.Poll),
		votes:     make(map[string]model.Vote),
		reactions: make(map[string]model.Reaction),
		unread:    make(map[string]*model.UnreadMessage),
		clock:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (db *memDB) stores() Stores {
	return Stores{
		Users:     memUsers{db},
		Chats:     memChats{db},
		Messages:  memMessages{db},
		Reactions: memReactions{db},
		Pins:      memPins{db},
		Polls:     memPolls{db},
		Unread:    memUnread{db},
	}
}

func (db *memDB) addUser(id, name string) *model.User {
	u := &model.User{ID: id, Username: name, NotificationsEnabled: true}
	db.users[id] = u
	return u
}

func (db *memDB) addChat(id string, members ...string) {
	db.members[id] = members
}

// tick: монотонное время для упорядочивания закрепов.
func (db *memDB) tick() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

func key(parts ...any) string { return fmt.Sprint(parts...) }

type memUsers struct{ db *memDB }

func (s memUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s memUsers) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if u, ok := s.db.users[id]; ok {
		u.IsOnline = online
		u.LastSeen = at
	}
	return nil
}

type memChats struct{ db *memDB }

func (s memChats) GetUserChatIDs(ctx context.Context, userID string) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var ids []string
	for chatID, members := range s.db.members {
		for _, m := range members {
			if m == userID {
				ids = append(ids, chatID)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s memChats) GetMembers(ctx context.Context, chatID string) ([]model.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]model.User, 0, len(s.db.members[chatID]))
	for _, id := range s.db.members[chatID] {
		out = append(out, *s.db.users[id])
	}
	return out, nil
}

func (s memChats) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, m := range s.db.members[chatID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

type memMessages struct{ db *memDB }

func (s memMessages) Create(ctx context.Context, m *model.Message, poll *model.Poll, attachments []model.Attachment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failSave {
		return errors.New("db down")
	}
	if poll != nil {
		cp := *poll
		s.db.polls[poll.ID] = &cp
	}
	cp := *m
	cp.Attachments = attachments
	s.db.messages[m.ID] = &cp
	s.db.latest[m.ChatID] = m.ID
	return nil
}

func (s memMessages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s memMessages) GetProjection(ctx context.Context, id string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if u, ok := s.db.users[m.SenderID]; ok {
		sum := u.Summary()
		m.Sender = &sum
	}
	if m.PollID != nil {
		m.Poll = s.db.polls[*m.PollID]
	}
	return m, nil
}

func (s memMessages) UpdateText(ctx context.Context, id, text string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.messages[id]
	if !ok || m.Kind != model.KindText {
		return repository.ErrNotFound
	}
	m.TextMessageContent = &text
	m.IsEdited = true
	m.UpdatedAt = at
	return nil
}

func (s memMessages) DeleteCascade(ctx context.Context, id string) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var blobs []string
	if m.AudioPublicID != nil {
		blobs = append(blobs, *m.AudioPublicID)
	}
	for _, a := range m.Attachments {
		blobs = append(blobs, a.PublicID)
	}
	kept := s.db.pins[:0]
	for _, p := range s.db.pins {
		if p.MessageID != id {
			kept = append(kept, p)
		}
	}
	s.db.pins = kept
	for k, r := range s.db.reactions {
		if r.MessageID == id {
			delete(s.db.reactions, k)
		}
	}
	delete(s.db.messages, id)
	if s.db.latest[m.ChatID] == id {
		delete(s.db.latest, m.ChatID)
	}
	return blobs, nil
}

type memReactions struct{ db *memDB }

func (s memReactions) Create(ctx context.Context, r *model.Reaction) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := key(r.UserID, "|", r.MessageID)
	if _, ok := s.db.reactions[k]; ok {
		return false, nil
	}
	r.ID = uuid.New().String()
	s.db.reactions[k] = *r
	return true, nil
}

func (s memReactions) DeleteByUser(ctx context.Context, messageID, userID string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := key(userID, "|", messageID)
	if _, ok := s.db.reactions[k]; !ok {
		return 0, nil
	}
	delete(s.db.reactions, k)
	return 1, nil
}

type memPins struct{ db *memDB }

func (s memPins) Pin(ctx context.Context, p *model.PinnedMessage, limit int) (*model.PinnedMessage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var chatPins []model.PinnedMessage
	for _, pm := range s.db.pins {
		if pm.ChatID != p.ChatID {
			continue
		}
		if pm.MessageID == p.MessageID {
			return nil, repository.ErrAlreadyPinned
		}
		chatPins = append(chatPins, pm)
	}
	sort.Slice(chatPins, func(i, j int) bool { return chatPins[i].CreatedAt.Before(chatPins[j].CreatedAt) })
	var evicted *model.PinnedMessage
	if len(chatPins) >= limit {
		oldest := chatPins[0]
		evicted = &oldest
		kept := s.db.pins[:0]
		for _, pm := range s.db.pins {
			if pm.ID != oldest.ID {
				kept = append(kept, pm)
			}
		}
		s.db.pins = kept
		s.db.messages[oldest.MessageID].IsPinned = false
	}
	p.ID = uuid.New().String()
	p.CreatedAt = s.db.tick()
	s.db.pins = append(s.db.pins, *p)
	s.db.messages[p.MessageID].IsPinned = true
	return evicted, nil
}

func (s memPins) GetByID(ctx context.Context, id string) (*model.PinnedMessage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, pm := range s.db.pins {
		if pm.ID == id {
			cp := pm
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s memPins) Unpin(ctx context.Context, id string) (*model.PinnedMessage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i, pm := range s.db.pins {
		if pm.ID == id {
			s.db.pins = append(s.db.pins[:i], s.db.pins[i+1:]...)
			s.db.messages[pm.MessageID].IsPinned = false
			return &pm, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (db *memDB) chatPins(chatID string) []model.PinnedMessage {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.PinnedMessage
	for _, pm := range db.pins {
		if pm.ChatID == chatID {
			out = append(out, pm)
		}
	}
	return out
}

type memPolls struct{ db *memDB }

func (s memPolls) GetByID(ctx context.Context, id string) (*model.Poll, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.polls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s memPolls) AddVote(ctx context.Context, v *model.Vote) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := key(v.PollID, "|", v.UserID, "|", v.OptionIndex)
	if _, ok := s.db.votes[k]; ok {
		return false, nil
	}
	s.db.votes[k] = *v
	return true, nil
}

func (s memPolls) RemoveVote(ctx context.Context, pollID, userID string, idx int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := key(pollID, "|", userID, "|", idx)
	if _, ok := s.db.votes[k]; !ok {
		return false, nil
	}
	delete(s.db.votes, k)
	return true, nil
}

type memUnread struct{ db *memDB }

func (s memUnread) Increment(ctx context.Context, userID, chatID, messageID, senderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := key(userID, "|", chatID)
	u, ok := s.db.unread[k]
	if !ok {
		u = &model.UnreadMessage{UserID: userID, ChatID: chatID}
		s.db.unread[k] = u
	}
	u.Count++
	u.MessageID = &messageID
	u.SenderID = senderID
	return nil
}

func (s memUnread) MarkSeen(ctx context.Context, userID, chatID string, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.unread[key(userID, "|", chatID)]
	if !ok {
		return false, nil
	}
	u.Count = 0
	u.ReadAt = &at
	return true, nil
}

func (db *memDB) unreadCount(userID, chatID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.unread[key(userID, "|", chatID)]; ok {
		return u.Count
	}
	return -1
}

// memBlobs: blob.Store в памяти.
type memBlobs struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
	fail    bool
}

func newMemBlobs() *memBlobs { return &memBlobs{files: make(map[string][]byte)} }

func (b *memBlobs) Upload(ctx context.Context, folder, name string, r io.Reader) (blob.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return blob.Object{}, errors.New("blob store down")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return blob.Object{}, err
	}
	id := folder + "/" + uuid.New().String() + "-" + name
	b.files[id] = buf.Bytes()
	return blob.Object{URL: "/files/" + id, PublicID: id}, nil
}

func (b *memBlobs) Delete(ctx context.Context, publicID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, publicID)
	b.deleted = append(b.deleted, publicID)
	return nil
}

type pushCall struct{ token, title, body string }

type memPush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *memPush) Notify(token, title, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{token, title, body})
}
