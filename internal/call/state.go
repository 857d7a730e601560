// Package call: сигнализация WebRTC-звонков один-на-один поверх WS-хаба
// и история звонков с явной машиной состояний.
package call

import (
	"errors"

	"github.com/baatchit/internal/model"
)

type State = model.CallState

var ErrInvalidTransition = errors.New("call: invalid state transition")

// REJECTED, MISSED и COMPLETED: терминальные.
var transitions = map[State][]State{
	model.CallInitiated: {model.CallRinging, model.CallAccepted, model.CallRejected, model.CallMissed},
	model.CallRinging:   {model.CallAccepted, model.CallRejected, model.CallMissed},
	model.CallAccepted:  {model.CallCompleted, model.CallMissed},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s State) bool {
	return len(transitions[s]) == 0
}
