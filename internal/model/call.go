package model

import "time"

// CallState: состояние звонка. Терминальные: REJECTED, MISSED, COMPLETED.
type CallState string

const (
	CallInitiated CallState = "INITIATED"
	CallRinging   CallState = "RINGING"
	CallAccepted  CallState = "ACCEPTED"
	CallRejected  CallState = "REJECTED"
	CallMissed    CallState = "MISSED"
	CallCompleted CallState = "COMPLETED"
)

type CallHistory struct {
	ID        string     `json:"id"`
	CallerID  string     `json:"callerId"`
	CalleeID  string     `json:"calleeId"`
	State     CallState  `json:"state"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Duration  *int       `json:"duration,omitempty"`
}

// IsParticipant: userID является звонящим или вызываемым.
func (c *CallHistory) IsParticipant(userID string) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// Peer возвращает второго участника звонка.
func (c *CallHistory) Peer(userID string) string {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}
