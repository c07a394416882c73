// Package session holds per-identity conversation state and its storage backends.
package session

import (
	"context"
	"time"
)

// State is the position of a conversation in the bot's state machine.
type State string

const (
	StateStart        State = "start"
	StateAuthDecision State = "auth_decision"
	StateLoginPhone   State = "login_phone"
	StateLoginPin     State = "login_pin"
	StateSignupName   State = "signup_name"
	StateSignupPhone  State = "signup_phone"
	StateSignupClass  State = "signup_class"
	StateSignupExams  State = "signup_exams"
	StateSignupPin    State = "signup_pin"
	StateLoggedIn     State = "logged_in"
	StateEnd          State = "end"
)

// Candidate is the account row matched by phone during login, kept until the PIN is checked.
type Candidate struct {
	Phone         string `json:"phone"`
	OwnerIdentity string `json:"owner_identity"`
	Name          string `json:"name"`
	PinHash       string `json:"pin_hash"`
}

// Session is the persisted conversation state of one chat identity.
// Phone is set only once login or signup has completed.
type Session struct {
	State          State      `json:"state"`
	SignupName     string     `json:"signup_name,omitempty"`
	SignupPhone    string     `json:"signup_phone,omitempty"`
	SignupClass    string     `json:"signup_class,omitempty"`
	SelectedExams  []string   `json:"selected_exams,omitempty"`
	LoginCandidate *Candidate `json:"login_candidate,omitempty"`
	PinAttempts    int        `json:"pin_attempts,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Entry pairs an identity with its stored session.
type Entry struct {
	Identity string
	Session  Session
}

// Store persists sessions across process restarts.
type Store interface {
	// Get returns the stored session, or a fresh one if the identity is unseen.
	Get(ctx context.Context, identity string) (Session, error)
	Put(ctx context.Context, identity string, s Session) error
	All(ctx context.Context) ([]Entry, error)
}

func New() Session {
	return Session{State: StateStart}
}

// Authenticated reports whether the session completed login or signup.
func (s Session) Authenticated() bool {
	return s.Phone != ""
}

// Pristine reports whether there is nothing left to cancel.
func (s Session) Pristine() bool {
	if s.State != StateStart && s.State != StateEnd {
		return false
	}
	return s.Phone == "" && s.SignupName == "" && s.SignupPhone == "" && s.SignupClass == "" &&
		len(s.SelectedExams) == 0 && s.LoginCandidate == nil && s.PinAttempts == 0
}

// ClearTransient drops everything collected by the login and signup flows.
func (s *Session) ClearTransient() {
	s.SignupName = ""
	s.SignupPhone = ""
	s.SignupClass = ""
	s.SelectedExams = nil
	s.LoginCandidate = nil
	s.PinAttempts = 0
}

// Reset clears every field and moves the session to the given state.
func (s *Session) Reset(state State) {
	*s = Session{State: state}
}

// HasExam reports whether tag is in the current multi-select.
func (s Session) HasExam(tag string) bool {
	for _, selected := range s.SelectedExams {
		if selected == tag {
			return true
		}
	}
	return false
}

// ToggleExam adds tag to the selection, or removes it if already present.
func (s *Session) ToggleExam(tag string) {
	next := make([]string, 0, len(s.SelectedExams)+1)
	removed := false
	for _, selected := range s.SelectedExams {
		if selected == tag {
			removed = true
			continue
		}
		next = append(next, selected)
	}
	if !removed {
		next = append(next, tag)
	}
	if len(next) == 0 {
		next = nil
	}
	s.SelectedExams = next
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s Session) Clone() Session {
	out := s
	if s.SelectedExams != nil {
		out.SelectedExams = append([]string(nil), s.SelectedExams...)
	}
	if s.LoginCandidate != nil {
		candidate := *s.LoginCandidate
		out.LoginCandidate = &candidate
	}
	return out
}
