package call

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
)

var testSDP = strings.Join([]string{
	"v=0",
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1",
	"s=-",
	"t=0 0",
	"m=audio 9 UDP/TLS/RTP/SAVPF 111",
	"c=IN IP4 0.0.0.0",
	"a=rtpmap:111 opus/48000/2",
	"",
}, "\r\n")

func offer() map[string]any  { return map[string]any{"type": "offer", "sdp": testSDP} }
func answer() map[string]any { return map[string]any{"type": "answer", "sdp": testSDP} }

type sent struct {
	to, event string
	payload   any
}

type fakeRelay struct {
	mu     sync.Mutex
	online map[string]bool
	out    []sent
}

func (r *fakeRelay) SendTo(userID, event string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online[userID] {
		return false
	}
	r.out = append(r.out, sent{userID, event, payload})
	return true
}

func (r *fakeRelay) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

// events возвращает и очищает события, отправленные пользователю.
func (r *fakeRelay) events(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	kept := r.out[:0]
	for _, s := range r.out {
		if s.to == userID {
			out = append(out, s.event)
		} else {
			kept = append(kept, s)
		}
	}
	r.out = kept
	return out
}

func (r *fakeRelay) last(userID, event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.out) - 1; i >= 0; i-- {
		if r.out[i].to == userID && r.out[i].event == event {
			return r.out[i].payload
		}
	}
	return nil
}

type memCalls struct {
	mu    sync.Mutex
	calls map[string]*model.CallHistory
}

func (m *memCalls) Create(ctx context.Context, c *model.CallHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.calls[c.ID] = &cp
	return nil
}

func (m *memCalls) GetByID(ctx context.Context, id string) (*model.CallHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCalls) Transition(ctx context.Context, id string, from, to model.CallState, endedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok || c.State != from {
		return false, nil
	}
	c.State = to
	if endedAt != nil {
		c.EndedAt = endedAt
		d := int(endedAt.Sub(c.StartedAt).Seconds())
		c.Duration = &d
	}
	return true, nil
}

func (m *memCalls) ListStale(ctx context.Context, before time.Time) ([]model.CallHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CallHistory
	for _, c := range m.calls {
		if (c.State == model.CallInitiated || c.State == model.CallRinging) && c.StartedAt.Before(before) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCalls) only(t *testing.T) *model.CallHistory {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.calls, 1)
	for _, c := range m.calls {
		return c
	}
	return nil
}

type memUsers map[string]*model.User

func (m memUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type pushCall struct{ token, title, body string }

type fakePush struct{ calls []pushCall }

func (p *fakePush) Notify(token, title, body string) {
	p.calls = append(p.calls, pushCall{token, title, body})
}

type fixture struct {
	svc   *Service
	relay *fakeRelay
	calls *memCalls
	push  *fakePush
	alice model.UserSummary
	bob   model.UserSummary
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memUsers{
		"a": {ID: "a", Username: "alice"},
		"b": {ID: "b", Username: "bob", NotificationsEnabled: true, PushToken: "tok-b"},
	}
	f := &fixture{
		relay: &fakeRelay{online: map[string]bool{"a": true, "b": true}},
		calls: &memCalls{calls: make(map[string]*model.CallHistory)},
		push:  &fakePush{},
		alice: users["a"].Summary(),
		bob:   users["b"].Summary(),
		clock: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.relay, f.calls, users, f.push)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) emit(t *testing.T, user model.UserSummary, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.True(t, f.svc.Handle(context.Background(), user, event, raw))
}

// ring: alice звонит bob, возвращает id звонка в состоянии RINGING.
func (f *fixture) ring(t *testing.T) string {
	t.Helper()
	f.emit(t, f.alice, EventCallUser, map[string]any{"calleeId": "b", "offer": offer()})
	c := f.calls.only(t)
	require.Equal(t, model.CallRinging, c.State)
	f.relay.events("a")
	f.relay.events("b")
	return c.ID
}

func TestHandle_IgnoresForeignEvents(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.svc.Handle(context.Background(), f.alice, "MESSAGE", json.RawMessage(`{}`)))
}

func TestCallUser_OnlineCalleeRings(t *testing.T) {
	f := newFixture(t)

	f.emit(t, f.alice, EventCallUser, map[string]any{"calleeId": "b", "offer": offer()})

	c := f.calls.only(t)
	assert.Equal(t, model.CallRinging, c.State)
	assert.Equal(t, "a", c.CallerID)
	assert.Equal(t, callIDPayload{CallHistoryID: c.ID}, f.relay.last("a", EventCallID))

	in, ok := f.relay.last("b", EventIncomingCall).(incomingCallPayload)
	require.True(t, ok)
	assert.Equal(t, f.alice, in.Caller)
	assert.Equal(t, c.ID, in.CallHistoryID)
	assert.Equal(t, testSDP, in.Offer.SDP)
	assert.Empty(t, f.push.calls)
}

func TestCallUser_OfflineCalleeMissedWithPush(t *testing.T) {
	f := newFixture(t)
	f.relay.online["b"] = false

	f.emit(t, f.alice, EventCallUser, map[string]any{"calleeId": "b", "offer": offer()})

	c := f.calls.only(t)
	assert.Equal(t, model.CallMissed, c.State)
	require.NotNil(t, c.EndedAt)
	assert.Equal(t, []string{EventCalleeOffline, EventCallEnd}, f.relay.events("a"))
	assert.Equal(t, []pushCall{{"tok-b", "Missed Call", "You have missed a call from alice"}}, f.push.calls)
}

func TestCallUser_InvalidInputEndsCall(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"self", map[string]any{"calleeId": "a", "offer": offer()}},
		{"unknown callee", map[string]any{"calleeId": "zed", "offer": offer()}},
		{"answer instead of offer", map[string]any{"calleeId": "b", "offer": answer()}},
		{"garbage sdp", map[string]any{"calleeId": "b", "offer": map[string]any{"type": "offer", "sdp": "hello"}}},
		{"no offer", map[string]any{"calleeId": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.emit(t, f.alice, EventCallUser, tt.payload)
			assert.Equal(t, []string{EventCallEnd}, f.relay.events("a"))
			assert.Empty(t, f.relay.events("b"))
			assert.Empty(t, f.calls.calls)
		})
	}
}

func TestCallAccepted_RelaysAnswerToCaller(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)

	f.emit(t, f.bob, EventCallAccepted, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})

	assert.Equal(t, model.CallAccepted, f.calls.only(t).State)
	p, ok := f.relay.last("a", EventCallAccepted).(callAcceptedPayload)
	require.True(t, ok)
	assert.Equal(t, "b", p.CalleeID)
	assert.Equal(t, id, p.CallHistoryID)
	assert.Empty(t, f.relay.events("b"), "answer goes to the caller only")
}

func TestCallAccepted_CallerOffline(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)
	f.relay.online["a"] = false

	f.emit(t, f.bob, EventCallAccepted, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})

	assert.Equal(t, model.CallMissed, f.calls.only(t).State)
	assert.Equal(t, []string{EventCallEnd, EventCallerOffline}, f.relay.events("b"))
}

func TestCallAccepted_ByCallerIsIgnored(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)

	f.emit(t, f.alice, EventCallAccepted, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})

	assert.Equal(t, model.CallRinging, f.calls.only(t).State)
	assert.Empty(t, f.relay.events("a"))
}

func TestCallRejected(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)

	f.emit(t, f.bob, EventCallRejected, map[string]any{"callHistoryId": id})

	assert.Equal(t, model.CallRejected, f.calls.only(t).State)
	assert.Equal(t, []string{EventCallRejected, EventCallEnd}, f.relay.events("a"))
	assert.Equal(t, []string{EventCallEnd}, f.relay.events("b"))
}

func TestCallEnd_AcceptedBecomesCompletedWithDuration(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)
	f.emit(t, f.bob, EventCallAccepted, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})
	f.relay.events("a")
	f.clock = f.clock.Add(90 * time.Second)

	f.emit(t, f.alice, EventCallEnd, map[string]any{"callHistoryId": id, "wasCallAccepted": false})

	c := f.calls.only(t)
	assert.Equal(t, model.CallCompleted, c.State)
	require.NotNil(t, c.Duration)
	assert.Equal(t, 90, *c.Duration)
	assert.Equal(t, []string{EventCallEnd}, f.relay.events("a"))
	assert.Equal(t, []string{EventCallEnd}, f.relay.events("b"))
}

func TestCallEnd_RingingBecomesMissedAndRepeatIsNoop(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)

	f.emit(t, f.alice, EventCallEnd, map[string]any{"callHistoryId": id, "wasCallAccepted": true})
	assert.Equal(t, model.CallMissed, f.calls.only(t).State)
	assert.Equal(t, []string{EventCallEnd}, f.relay.events("b"))

	f.emit(t, f.bob, EventCallEnd, map[string]any{"callHistoryId": id})
	assert.Empty(t, f.relay.events("a"))
	assert.Empty(t, f.relay.events("b"))
}

func TestCallEnd_NonParticipantIgnored(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)
	f.relay.online["m"] = true

	f.emit(t, model.UserSummary{ID: "m"}, EventCallEnd, map[string]any{"callHistoryId": id})

	assert.Equal(t, model.CallRinging, f.calls.only(t).State)
	assert.Empty(t, f.relay.events("a"))
}

func TestCalleeBusy(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)

	f.emit(t, f.bob, EventCalleeBusy, map[string]any{"callerId": "a"})

	assert.Equal(t, []string{EventCalleeBusy, EventCallEnd}, f.relay.events("a"))
	assert.Equal(t, model.CallRinging, f.calls.calls[id].State)
}

func TestIceCandidateRelay(t *testing.T) {
	f := newFixture(t)
	cand := map[string]any{"candidate": "candidate:1 1 UDP 2122252543 192.168.1.2 54321 typ host", "sdpMid": "0"}

	f.emit(t, f.alice, EventIceCandidate, map[string]any{"candidate": cand, "calleeId": "b"})

	p, ok := f.relay.last("b", EventIceCandidate).(icePayload)
	require.True(t, ok)
	assert.Equal(t, "a", p.CallerID)
	assert.Contains(t, p.Candidate.Candidate, "typ host")

	f.relay.online["b"] = false
	f.emit(t, f.alice, EventIceCandidate, map[string]any{"candidate": cand, "calleeId": "b"})
	assert.Empty(t, f.relay.events("a"))
}

func TestNegotiation(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)
	f.emit(t, f.bob, EventCallAccepted, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})
	f.relay.events("a")

	f.emit(t, f.alice, EventNegoNeeded, map[string]any{"offer": offer(), "calleeId": "b", "callHistoryId": id})
	p, ok := f.relay.last("b", EventNegoNeeded).(negoNeededPayload)
	require.True(t, ok)
	assert.Equal(t, "a", p.CallerID)
	assert.Equal(t, id, p.CallHistoryID)
	f.relay.events("b")

	f.emit(t, f.bob, EventNegoDone, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})
	final, ok := f.relay.last("a", EventNegoFinal).(negoFinalPayload)
	require.True(t, ok)
	assert.Equal(t, "b", final.CalleeID)
	assert.Equal(t, model.CallAccepted, f.calls.only(t).State)
}

func TestNegoNeeded_TargetOffline(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)
	f.emit(t, f.bob, EventCallAccepted, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})
	f.relay.events("a")
	f.relay.online["b"] = false

	f.emit(t, f.alice, EventNegoNeeded, map[string]any{"offer": offer(), "calleeId": "b", "callHistoryId": id})

	assert.Equal(t, model.CallMissed, f.calls.only(t).State)
	assert.Equal(t, []string{EventCalleeOffline, EventCallEnd}, f.relay.events("a"))
}

func TestNegoDone_TargetOffline(t *testing.T) {
	f := newFixture(t)
	id := f.ring(t)
	f.emit(t, f.bob, EventCallAccepted, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})
	f.relay.online["a"] = false

	f.emit(t, f.bob, EventNegoDone, map[string]any{"answer": answer(), "callerId": "a", "callHistoryId": id})

	assert.Equal(t, model.CallMissed, f.calls.only(t).State)
	assert.Equal(t, []string{EventCallEnd, EventCallerOffline}, f.relay.events("b"))
}
