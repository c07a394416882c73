package bot

import (
	"errors"
	"fmt"

	"doubtdesk/bot/internal/session"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists every edge of the conversation. /start always re-enters
// at StateStart, and /cancel may leave any state for StateEnd.
var transitions = map[session.State][]session.State{
	session.StateStart:        {session.StateAuthDecision, session.StateLoggedIn},
	session.StateAuthDecision: {session.StateAuthDecision, session.StateLoginPhone, session.StateSignupName},
	session.StateLoginPhone:   {session.StateLoginPin, session.StateAuthDecision, session.StateEnd},
	session.StateLoginPin:     {session.StateLoggedIn, session.StateLoginPin, session.StateEnd},
	session.StateSignupName:   {session.StateSignupPhone},
	session.StateSignupPhone:  {session.StateSignupClass, session.StateEnd},
	session.StateSignupClass:  {session.StateSignupExams},
	session.StateSignupExams:  {session.StateSignupExams, session.StateSignupPin},
	session.StateSignupPin:    {session.StateLoggedIn, session.StateSignupPin, session.StateEnd},
	session.StateLoggedIn:     {session.StateLoggedIn, session.StateStart},
	session.StateEnd:          {},
}

// CanTransition reports whether the conversation may move from one state to another.
func CanTransition(from, to session.State) bool {
	if to == session.StateEnd {
		_, known := transitions[from]
		return known
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to session.State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
