package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
	"github.com/baatchit/internal/model"
)

// События звонков.
const (
	EventCallUser      = "CALL_USER"
	EventCallAccepted  = "CALL_ACCEPTED"
	EventCallRejected  = "CALL_REJECTED"
	EventCallEnd       = "CALL_END"
	EventCalleeBusy    = "CALLEE_BUSY"
	EventIceCandidate  = "ICE_CANDIDATE"
	EventNegoNeeded    = "NEGO_NEEDED"
	EventNegoDone      = "NEGO_DONE"
	EventCallID        = "CALL_ID"        // out
	EventIncomingCall  = "INCOMING_CALL"  // out
	EventCalleeOffline = "CALLEE_OFFLINE" // out
	EventCallerOffline = "CALLER_OFFLINE" // out
	EventNegoFinal     = "NEGO_FINAL"     // out
)

var (
	ErrBadSDP         = errors.New("call: invalid session description")
	ErrNotParticipant = errors.New("call: not a participant")
	errStale          = errors.New("call: state changed concurrently")
)

// Relay: доставка событий конкретному пользователю (WS-хаб).
type Relay interface {
	SendTo(userID, event string, payload any) bool
	IsOnline(userID string) bool
}

type Store interface {
	Create(ctx context.Context, c *model.CallHistory) error
	GetByID(ctx context.Context, id string) (*model.CallHistory, error)
	Transition(ctx context.Context, id string, from, to model.CallState, endedAt *time.Time) (bool, error)
	ListStale(ctx context.Context, before time.Time) ([]model.CallHistory, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type Notifier interface {
	Notify(token, title, body string)
}

type eventHandler func(ctx context.Context, user model.UserSummary, raw json.RawMessage) error

// Service реализует ws.CallHandler.
type Service struct {
	relay    Relay
	calls    Store
	users    UserLookup
	push     Notifier
	now      func() time.Time
	handlers map[string]eventHandler
}

// NewService: push может быть nil: тогда уведомления о пропущенных звонках не отправляются.
func NewService(relay Relay, calls Store, users UserLookup, push Notifier) *Service {
	s := &Service{relay: relay, calls: calls, users: users, push: push, now: time.Now}
	s.handlers = map[string]eventHandler{
		EventCallUser:     s.callUser,
		EventCallAccepted: s.callAccepted,
		EventCallRejected: s.callRejected,
		EventCallEnd:      s.callEnd,
		EventCalleeBusy:   s.calleeBusy,
		EventIceCandidate: s.iceCandidate,
		EventNegoNeeded:   s.negoNeeded,
		EventNegoDone:     s.negoDone,
	}
	return s
}

// Handle возвращает false для событий, не относящихся к звонкам. Ошибки только логируются.
func (s *Service) Handle(ctx context.Context, user model.UserSummary, event string, raw json.RawMessage) bool {
	h, ok := s.handlers[event]
	if !ok {
		return false
	}
	if err := h(ctx, user, raw); err != nil {
		logger.Errorf("call %s user=%s: %v", event, user.ID, err)
	}
	return true
}

// --- payloads ---

type callUserIn struct {
	CalleeID string                     `json:"calleeId"`
	Offer    *webrtc.SessionDescription `json:"offer"`
}

type callAcceptedIn struct {
	Answer        *webrtc.SessionDescription `json:"answer"`
	CallerID      string                     `json:"callerId"`
	CallHistoryID string                     `json:"callHistoryId"`
}

type callRefIn struct {
	CallHistoryID   string `json:"callHistoryId"`
	WasCallAccepted bool   `json:"wasCallAccepted"`
}

type calleeBusyIn struct {
	CallerID string `json:"callerId"`
}

type iceIn struct {
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
	CalleeID  string                   `json:"calleeId"`
}

type negoNeededIn struct {
	Offer         *webrtc.SessionDescription `json:"offer"`
	CalleeID      string                     `json:"calleeId"`
	CallHistoryID string                     `json:"callHistoryId"`
}

type negoDoneIn struct {
	Answer        *webrtc.SessionDescription `json:"answer"`
	CallerID      string                     `json:"callerId"`
	CallHistoryID string                     `json:"callHistoryId"`
}

type callIDPayload struct {
	CallHistoryID string `json:"callHistoryId"`
}

type callEndPayload struct {
	CallHistoryID string `json:"callHistoryId,omitempty"`
}

type incomingCallPayload struct {
	Caller        model.UserSummary          `json:"caller"`
	Offer         *webrtc.SessionDescription `json:"offer"`
	CallHistoryID string                     `json:"callHistoryId"`
}

type calleeOfflinePayload struct {
	CalleeID string `json:"calleeId"`
}

type callerOfflinePayload struct {
	CallerID string `json:"callerId"`
}

type callAcceptedPayload struct {
	CalleeID      string                     `json:"calleeId"`
	Answer        *webrtc.SessionDescription `json:"answer"`
	CallHistoryID string                     `json:"callHistoryId"`
}

type callRejectedPayload struct {
	CallHistoryID string `json:"callHistoryId"`
	CalleeID      string `json:"calleeId"`
}

type calleeBusyPayload struct {
	CalleeID string `json:"calleeId"`
}

type icePayload struct {
	CallerID  string                   `json:"callerId"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

type negoNeededPayload struct {
	Offer         *webrtc.SessionDescription `json:"offer"`
	CallerID      string                     `json:"callerId"`
	CallHistoryID string                     `json:"callHistoryId"`
}

type negoFinalPayload struct {
	Answer   *webrtc.SessionDescription `json:"answer"`
	CalleeID string                     `json:"calleeId"`
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("payload required")
	}
	return json.Unmarshal(raw, v)
}

// validSDP проверяет тип и разбирает SDP.
func validSDP(sd *webrtc.SessionDescription, want webrtc.SDPType) error {
	if sd == nil || sd.Type != want {
		return ErrBadSDP
	}
	if _, err := sd.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSDP, err)
	}
	return nil
}

// --- handlers ---

func (s *Service) callUser(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	defer logger.DeferLogDuration("call.callUser", time.Now())()
	end := func() { s.relay.SendTo(user.ID, EventCallEnd, callEndPayload{}) }

	var p callUserIn
	if err := decode(raw, &p); err != nil {
		end()
		return err
	}
	if p.CalleeID == "" || p.CalleeID == user.ID {
		end()
		return errors.New("invalid callee")
	}
	if err := validSDP(p.Offer, webrtc.SDPTypeOffer); err != nil {
		end()
		return err
	}
	callee, err := s.users.GetByID(ctx, p.CalleeID)
	if err != nil {
		end()
		return err
	}

	now := s.now().UTC()
	c := &model.CallHistory{
		ID:        uuid.New().String(),
		CallerID:  user.ID,
		CalleeID:  callee.ID,
		State:     model.CallInitiated,
		StartedAt: now,
	}
	if !s.relay.IsOnline(callee.ID) {
		zero := 0
		c.State, c.EndedAt, c.Duration = model.CallMissed, &now, &zero
		if err := s.calls.Create(ctx, c); err != nil {
			end()
			return err
		}
		metrics.CallTransitions.WithLabelValues(string(model.CallMissed)).Inc()
		s.missed(user, callee, c.ID)
		return nil
	}

	if err := s.calls.Create(ctx, c); err != nil {
		end()
		return err
	}
	metrics.CallTransitions.WithLabelValues(string(model.CallInitiated)).Inc()
	s.relay.SendTo(user.ID, EventCallID, callIDPayload{CallHistoryID: c.ID})
	delivered := s.relay.SendTo(callee.ID, EventIncomingCall, incomingCallPayload{
		Caller:        user,
		Offer:         p.Offer,
		CallHistoryID: c.ID,
	})
	if !delivered {
		// callee отключился между проверкой и отправкой
		if err := s.transition(ctx, c, model.CallMissed); err != nil {
			return err
		}
		s.missed(user, callee, c.ID)
		return nil
	}
	return s.transition(ctx, c, model.CallRinging)
}

// missed: CALLEE_OFFLINE и CALL_END звонящему, пуш вызываемому.
func (s *Service) missed(caller model.UserSummary, callee *model.User, callID string) {
	s.relay.SendTo(caller.ID, EventCalleeOffline, calleeOfflinePayload{CalleeID: callee.ID})
	s.relay.SendTo(caller.ID, EventCallEnd, callEndPayload{CallHistoryID: callID})
	if s.push != nil && callee.CanReceivePush() {
		s.push.Notify(callee.PushToken, "Missed Call", "You have missed a call from "+caller.Username)
	}
}

func (s *Service) callAccepted(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	var p callAcceptedIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := validSDP(p.Answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	c, err := s.load(ctx, p.CallHistoryID, user.ID)
	if err != nil {
		return err
	}
	if c.CalleeID != user.ID {
		return ErrNotParticipant
	}
	if !s.relay.IsOnline(c.CallerID) {
		if err := s.transition(ctx, c, model.CallMissed); err != nil {
			return err
		}
		s.relay.SendTo(user.ID, EventCallEnd, callEndPayload{CallHistoryID: c.ID})
		s.relay.SendTo(user.ID, EventCallerOffline, callerOfflinePayload{CallerID: c.CallerID})
		return nil
	}
	if err := s.transition(ctx, c, model.CallAccepted); err != nil {
		return err
	}
	s.relay.SendTo(c.CallerID, EventCallAccepted, callAcceptedPayload{
		CalleeID:      user.ID,
		Answer:        p.Answer,
		CallHistoryID: c.ID,
	})
	return nil
}

func (s *Service) callRejected(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	var p callRefIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	c, err := s.load(ctx, p.CallHistoryID, user.ID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, c, model.CallRejected); err != nil {
		return err
	}
	s.relay.SendTo(c.CallerID, EventCallRejected, callRejectedPayload{CallHistoryID: c.ID, CalleeID: c.CalleeID})
	s.relay.SendTo(c.CallerID, EventCallEnd, callEndPayload{CallHistoryID: c.ID})
	s.relay.SendTo(c.CalleeID, EventCallEnd, callEndPayload{CallHistoryID: c.ID})
	return nil
}

// callEnd: исход определяется сохранённым состоянием, а не флагом wasCallAccepted клиента.
func (s *Service) callEnd(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	var p callRefIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	c, err := s.load(ctx, p.CallHistoryID, user.ID)
	if err != nil {
		return err
	}
	if err := s.finish(ctx, c); err != nil {
		return err
	}
	s.notifyEnd(c)
	return nil
}

func (s *Service) calleeBusy(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	var p calleeBusyIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.CallerID == "" {
		return errors.New("callerId required")
	}
	s.relay.SendTo(p.CallerID, EventCalleeBusy, calleeBusyPayload{CalleeID: user.ID})
	s.relay.SendTo(p.CallerID, EventCallEnd, callEndPayload{})
	return nil
}

// iceCandidate пересылается как есть; офлайн-получатель: тихий drop.
func (s *Service) iceCandidate(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	var p iceIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.Candidate == nil || p.CalleeID == "" {
		return errors.New("candidate and calleeId required")
	}
	s.relay.SendTo(p.CalleeID, EventIceCandidate, icePayload{CallerID: user.ID, Candidate: p.Candidate})
	return nil
}

func (s *Service) negoNeeded(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	var p negoNeededIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := validSDP(p.Offer, webrtc.SDPTypeOffer); err != nil {
		return err
	}
	c, err := s.load(ctx, p.CallHistoryID, user.ID)
	if err != nil {
		return err
	}
	target := c.Peer(user.ID)
	if !s.relay.IsOnline(target) {
		if err := s.transition(ctx, c, model.CallMissed); err != nil {
			return err
		}
		s.relay.SendTo(user.ID, EventCalleeOffline, calleeOfflinePayload{CalleeID: target})
		s.relay.SendTo(user.ID, EventCallEnd, callEndPayload{CallHistoryID: c.ID})
		return nil
	}
	s.relay.SendTo(target, EventNegoNeeded, negoNeededPayload{Offer: p.Offer, CallerID: user.ID, CallHistoryID: c.ID})
	return nil
}

func (s *Service) negoDone(ctx context.Context, user model.UserSummary, raw json.RawMessage) error {
	var p negoDoneIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := validSDP(p.Answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	c, err := s.load(ctx, p.CallHistoryID, user.ID)
	if err != nil {
		return err
	}
	target := c.Peer(user.ID)
	if !s.relay.IsOnline(target) {
		if err := s.transition(ctx, c, model.CallMissed); err != nil {
			return err
		}
		s.relay.SendTo(user.ID, EventCallEnd, callEndPayload{CallHistoryID: c.ID})
		s.relay.SendTo(user.ID, EventCallerOffline, callerOfflinePayload{CallerID: target})
		return nil
	}
	s.relay.SendTo(target, EventNegoFinal, negoFinalPayload{Answer: p.Answer, CalleeID: user.ID})
	return nil
}

// --- state ---

// load возвращает звонок, если userID: его участник.
func (s *Service) load(ctx context.Context, callID, userID string) (*model.CallHistory, error) {
	if callID == "" {
		return nil, errors.New("callHistoryId required")
	}
	c, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// finish: ACCEPTED -> COMPLETED, INITIATED/RINGING -> MISSED.
func (s *Service) finish(ctx context.Context, c *model.CallHistory) error {
	to := model.CallMissed
	if c.State == model.CallAccepted {
		to = model.CallCompleted
	}
	return s.transition(ctx, c, to)
}

func (s *Service) notifyEnd(c *model.CallHistory) {
	out := callEndPayload{CallHistoryID: c.ID}
	s.relay.SendTo(c.CallerID, EventCallEnd, out)
	s.relay.SendTo(c.CalleeID, EventCallEnd, out)
}

// transition: CAS в хранилище; переход в терминальное состояние фиксирует endedAt.
func (s *Service) transition(ctx context.Context, c *model.CallHistory, to State) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, to)
	}
	var endedAt *time.Time
	if IsTerminal(to) {
		t := s.now().UTC()
		endedAt = &t
	}
	ok, err := s.calls.Transition(ctx, c.ID, c.State, to, endedAt)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", errStale, c.ID)
	}
	metrics.CallTransitions.WithLabelValues(string(to)).Inc()
	c.State = to
	c.EndedAt = endedAt
	return nil
}
