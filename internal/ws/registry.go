package ws

import (
	"sort"
	"sync"
)

// Registry хранит единственное разделяемое состояние в памяти: пользователь -> активное соединение
// (не более одного; переподключение вытесняет прежнее) и комнаты чатов -> соединения.
// Комнаты являются производным кэшем и пересобираются при подключении.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*Client
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]*Client),
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]map[string]struct{}),
	}
}

// Bind привязывает соединение к пользователю и возвращает вытесненное (или nil).
// Вытесненное соединение убирается из всех комнат; закрывает его вызывающий, вне блокировки.
func (r *Registry) Bind(c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.users[c.userID]
	r.users[c.userID] = c
	if prev == c {
		return nil
	}
	if prev != nil {
		r.dropRoomsLocked(prev)
	}
	return prev
}

// Unbind удаляет запись пользователя только если она указывает на c; комнаты c очищаются всегда.
// true: запись удалена (пользователь стал офлайн).
func (r *Registry) Unbind(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropRoomsLocked(c)
	if r.users[c.userID] != c {
		return false
	}
	delete(r.users, c.userID)
	return true
}

func (r *Registry) Resolve(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.users[userID]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// OnlineUserIDs: отсортированный снимок.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// JoinRoom добавляет в комнату тех пользователей, у кого есть соединение; остальные пропускаются.
func (r *Registry) JoinRoom(userIDs []string, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range userIDs {
		if c, ok := r.users[uid]; ok {
			r.joinLocked(c, roomID)
		}
	}
}

// LeaveRoom убирает соединения пользователей из комнаты.
func (r *Registry) LeaveRoom(userIDs []string, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range userIDs {
		c, ok := r.users[uid]
		if !ok {
			continue
		}
		if members, ok := r.rooms[roomID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
		delete(r.joined[c], roomID)
	}
}

// joinClient подписывает конкретное соединение, если оно всё ещё привязано.
func (r *Registry) joinClient(c *Client, roomIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users[c.userID] != c {
		return
	}
	for _, id := range roomIDs {
		r.joinLocked(c, id)
	}
}

func (r *Registry) InRoom(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.users[userID]
	if !ok {
		return false
	}
	_, in := r.rooms[roomID][c]
	return in
}

// RoomClients: снимок соединений комнаты для рассылки без блокировки.
func (r *Registry) RoomClients(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.users))
	for _, c := range r.users {
		out = append(out, c)
	}
	return out
}

func (r *Registry) joinLocked(c *Client, roomID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[roomID] = members
	}
	members[c] = struct{}{}
	rooms, ok := r.joined[c]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[c] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (r *Registry) dropRoomsLocked(c *Client) {
	for roomID := range r.joined[c] {
		if members, ok := r.rooms[roomID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	delete(r.joined, c)
}
