package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"doubtdesk/bot/internal/session"
	"doubtdesk/bot/internal/store"
)

const (
	defaultMaxPinAttempts = 5
	maxNameLength         = 100
	maxClassLength        = 20
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	pinPattern   = regexp.MustCompile(`^[0-9]{4}$`)
)

type Config struct {
	SupportPhone   string
	MaxPinAttempts int
	// TempDir holds downloaded photos until they are uploaded. Empty uses the OS default.
	TempDir string
}

// Deps are the collaborators a Machine drives. Notifier and Indexer are optional.
type Deps struct {
	Sessions  session.Store
	Accounts  Accounts
	Doubts    Doubts
	Blacklist Blacklist
	Uploader  Uploader
	Photos    PhotoFetcher
	Notifier  Notifier
	Indexer   Indexer
}

// Machine maps (session, event) to (next session, replies). Events for one
// identity must be delivered serially; different identities may run in parallel.
type Machine struct {
	cfg       Config
	sessions  session.Store
	accounts  Accounts
	blacklist Blacklist
	gate      *Gate
	recorder  *Recorder
	notifier  Notifier
	pinCost   int
	now       func() time.Time
}

func NewMachine(cfg Config, deps Deps) *Machine {
	if cfg.MaxPinAttempts <= 0 {
		cfg.MaxPinAttempts = defaultMaxPinAttempts
	}
	m := &Machine{
		cfg:       cfg,
		sessions:  deps.Sessions,
		accounts:  deps.Accounts,
		blacklist: deps.Blacklist,
		gate:      NewGate(deps.Sessions, deps.Blacklist),
		notifier:  deps.Notifier,
		pinCost:   bcrypt.DefaultCost,
		now:       time.Now,
	}
	m.recorder = NewRecorder(RecorderDeps{
		Accounts: deps.Accounts,
		Doubts:   deps.Doubts,
		Uploader: deps.Uploader,
		Photos:   deps.Photos,
		Indexer:  deps.Indexer,
		Notifier: deps.Notifier,
		TempDir:  cfg.TempDir,
	})
	return m
}

// Handle processes one event and returns the replies to send, in order.
func (m *Machine) Handle(ctx context.Context, ev Event) []Reply {
	ev.Identity = strings.TrimSpace(ev.Identity)
	if ev.Identity == "" {
		return nil
	}
	current, err := m.sessions.Get(ctx, ev.Identity)
	if err != nil {
		log.Printf("bot: load session %s: %v", ev.Identity, err)
		return say(ev.Identity, msgTryLater)
	}

	if ev.Kind == EventCommand {
		return m.onCommand(ctx, ev, current)
	}

	switch current.State {
	case session.StateAuthDecision:
		return m.onAuthDecision(ctx, ev, current)
	case session.StateLoginPhone:
		return m.onLoginPhone(ctx, ev, current)
	case session.StateLoginPin:
		return m.onLoginPin(ctx, ev, current)
	case session.StateSignupName:
		return m.onSignupName(ctx, ev, current)
	case session.StateSignupPhone:
		return m.onSignupPhone(ctx, ev, current)
	case session.StateSignupClass:
		return m.onSignupClass(ctx, ev, current)
	case session.StateSignupExams:
		return m.onSignupExams(ctx, ev, current)
	case session.StateSignupPin:
		return m.onSignupPin(ctx, ev, current)
	case session.StateLoggedIn:
		return m.onLoggedIn(ctx, ev, current)
	default:
		if ev.Kind == EventButton {
			return say(ev.Identity, msgStaleButton)
		}
		return say(ev.Identity, msgUseStart)
	}
}

// commit persists next after checking the edge from -> next.State.
func (m *Machine) commit(ctx context.Context, identity string, from session.State, next session.Session) error {
	if err := checkTransition(from, next.State); err != nil {
		return err
	}
	if err := m.sessions.Put(ctx, identity, next); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// commitOr persists next and returns replies, or a failure reply if the write failed.
func (m *Machine) commitOr(ctx context.Context, identity string, from session.State, next session.Session, replies []Reply) []Reply {
	if err := m.commit(ctx, identity, from, next); err != nil {
		log.Printf("bot: %s %s -> %s: %v", identity, from, next.State, err)
		if errors.Is(err, ErrInvalidTransition) {
			return say(identity, msgGenericFailure)
		}
		return say(identity, msgTryLater)
	}
	return replies
}

func (m *Machine) onCommand(ctx context.Context, ev Event, current session.Session) []Reply {
	switch strings.ToLower(strings.TrimSpace(ev.Payload)) {
	case "start":
		return m.start(ctx, ev.Identity, current)
	case "cancel":
		return m.cancel(ctx, ev.Identity, current)
	case "logout":
		return m.logout(ctx, ev.Identity, current)
	default:
		return say(ev.Identity, msgUnknownCommand)
	}
}

// start re-enters the conversation at StateStart.
func (m *Machine) start(ctx context.Context, identity string, current session.Session) []Reply {
	access, err := m.gate.Check(ctx, identity, &current)
	if err != nil {
		log.Printf("bot: start %s: %v", identity, err)
		return say(identity, msgTryLater)
	}

	switch access {
	case AccessAuthenticated:
		next := current.Clone()
		next.ClearTransient()
		next.State = session.StateLoggedIn
		return m.commitOr(ctx, identity, session.StateStart, next, say(identity, msgWelcomeBack))
	case AccessBlacklisted:
		next := session.New()
		next.State = session.StateAuthDecision
		replies := []Reply{
			{Identity: identity, Text: m.msgRevoked()},
			menu(identity, msgWelcome),
		}
		return m.commitOr(ctx, identity, session.StateStart, next, replies)
	default:
		next := session.New()
		next.State = session.StateAuthDecision
		return m.commitOr(ctx, identity, session.StateStart, next, []Reply{menu(identity, msgWelcome)})
	}
}

func (m *Machine) cancel(ctx context.Context, identity string, current session.Session) []Reply {
	if current.Pristine() {
		return say(identity, msgNothingToCancel)
	}
	next := session.Session{}
	next.Reset(session.StateEnd)
	return m.commitOr(ctx, identity, current.State, next, say(identity, msgCancelled))
}

func (m *Machine) logout(ctx context.Context, identity string, current session.Session) []Reply {
	if !current.Authenticated() {
		return say(identity, msgNotLoggedIn)
	}
	return m.commitOr(ctx, identity, current.State, session.New(), say(identity, msgLoggedOut))
}

func (m *Machine) onAuthDecision(ctx context.Context, ev Event, current session.Session) []Reply {
	if ev.Kind != EventButton {
		return []Reply{menu(ev.Identity, msgChooseOption)}
	}
	next := current.Clone()
	next.ClearTransient()
	switch ev.Payload {
	case tokenLogin:
		next.State = session.StateLoginPhone
		return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgAskLoginPhone))
	case tokenSignup:
		next.State = session.StateSignupName
		return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgAskName))
	default:
		return []Reply{menu(ev.Identity, msgChooseOption)}
	}
}

func (m *Machine) onLoginPhone(ctx context.Context, ev Event, current session.Session) []Reply {
	if ev.Kind != EventText {
		return say(ev.Identity, msgAskLoginPhone)
	}
	phone, ok := normalizePhone(ev.Payload)
	if !ok {
		return say(ev.Identity, msgInvalidPhone)
	}

	account, found, err := m.accounts.FindAccountByPhone(ctx, phone)
	if err != nil {
		log.Printf("bot: login lookup for %s: %v", ev.Identity, err)
		return say(ev.Identity, msgTryLater)
	}
	if !found {
		next := current.Clone()
		next.ClearTransient()
		next.State = session.StateAuthDecision
		return m.commitOr(ctx, ev.Identity, current.State, next, []Reply{menu(ev.Identity, msgPhoneNotFound)})
	}

	revoked, err := m.blacklist.IsBlacklisted(ctx, phone)
	if err != nil {
		log.Printf("bot: login blacklist check for %s: %v", ev.Identity, err)
		return say(ev.Identity, msgTryLater)
	}
	if revoked {
		next := session.Session{}
		next.Reset(session.StateEnd)
		return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, m.msgRevoked()))
	}

	next := current.Clone()
	next.ClearTransient()
	next.State = session.StateLoginPin
	next.LoginCandidate = &session.Candidate{
		Phone:         account.Phone,
		OwnerIdentity: account.OwnerIdentity,
		Name:          account.Name,
		PinHash:       account.PinHash,
	}
	return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgAskPin))
}

func (m *Machine) onLoginPin(ctx context.Context, ev Event, current session.Session) []Reply {
	if ev.Kind != EventText {
		return say(ev.Identity, msgAskPin)
	}
	pin := strings.TrimSpace(ev.Payload)
	if !pinPattern.MatchString(pin) {
		return say(ev.Identity, msgPinFormat)
	}

	candidate := current.LoginCandidate
	if candidate == nil {
		next := session.Session{}
		next.Reset(session.StateEnd)
		return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgUseStart))
	}

	if bcrypt.CompareHashAndPassword([]byte(candidate.PinHash), []byte(pin)) != nil {
		next := current.Clone()
		next.PinAttempts++
		if next.PinAttempts >= m.cfg.MaxPinAttempts {
			next.Reset(session.StateEnd)
			return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgTooManyAttempts))
		}
		left := m.cfg.MaxPinAttempts - next.PinAttempts
		return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, fmt.Sprintf(msgWrongPinTemplate, left)))
	}

	if candidate.OwnerIdentity != ev.Identity {
		log.Printf("bot: login for %s rejected: phone owned by another identity", ev.Identity)
		next := session.Session{}
		next.Reset(session.StateEnd)
		return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgAccessDenied))
	}

	next := current.Clone()
	next.ClearTransient()
	next.Phone = candidate.Phone
	next.State = session.StateLoggedIn
	return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, fmt.Sprintf(msgLoggedIn, candidate.Name)))
}

func (m *Machine) onSignupName(ctx context.Context, ev Event, current session.Session) []Reply {
	name := strings.TrimSpace(ev.Payload)
	if ev.Kind != EventText || name == "" {
		return say(ev.Identity, msgEmptyName)
	}
	name = truncate(name, maxNameLength)

	next := current.Clone()
	next.SignupName = name
	next.State = session.StateSignupPhone
	return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, fmt.Sprintf(msgAskSignupPhone, name)))
}

func (m *Machine) onSignupPhone(ctx context.Context, ev Event, current session.Session) []Reply {
	if ev.Kind != EventText {
		return say(ev.Identity, fmt.Sprintf(msgAskSignupPhone, current.SignupName))
	}
	phone, ok := normalizePhone(ev.Payload)
	if !ok {
		return say(ev.Identity, msgInvalidPhone)
	}

	_, found, err := m.accounts.FindAccountByPhone(ctx, phone)
	if err != nil {
		log.Printf("bot: signup lookup for %s: %v", ev.Identity, err)
		return say(ev.Identity, msgTryLater)
	}
	if found {
		next := session.Session{}
		next.Reset(session.StateEnd)
		return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgAlreadyExists))
	}

	next := current.Clone()
	next.SignupPhone = phone
	next.State = session.StateSignupClass
	return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, msgAskClass))
}

func (m *Machine) onSignupClass(ctx context.Context, ev Event, current session.Session) []Reply {
	class := strings.TrimSpace(ev.Payload)
	if ev.Kind != EventText || class == "" {
		return say(ev.Identity, msgEmptyClass)
	}

	next := current.Clone()
	next.SignupClass = truncate(class, maxClassLength)
	next.SelectedExams = nil
	next.State = session.StateSignupExams
	reply := Reply{Identity: ev.Identity, Text: msgChooseExams, Keyboard: examKeyboard(next)}
	return m.commitOr(ctx, ev.Identity, current.State, next, []Reply{reply})
}

func (m *Machine) onSignupExams(ctx context.Context, ev Event, current session.Session) []Reply {
	if ev.Kind != EventButton {
		return []Reply{{Identity: ev.Identity, Text: msgChooseExams, Keyboard: examKeyboard(current)}}
	}

	if ev.Payload == tokenExamDone {
		next := current.Clone()
		next.State = session.StateSignupPin
		replies := make([]Reply, 0, 2)
		if ev.MessageRef != 0 {
			replies = append(replies, Reply{
				Identity: ev.Identity,
				Text:     fmt.Sprintf(msgExamsChosen, examSummary(next.SelectedExams)),
				EditRef:  ev.MessageRef,
			})
		}
		replies = append(replies, Reply{Identity: ev.Identity, Text: msgAskNewPin})
		return m.commitOr(ctx, ev.Identity, current.State, next, replies)
	}

	tag, ok := strings.CutPrefix(ev.Payload, tokenExamPfx)
	if !ok || !isExam(tag) {
		return []Reply{{Identity: ev.Identity, Text: msgChooseExams, Keyboard: examKeyboard(current)}}
	}

	next := current.Clone()
	next.ToggleExam(tag)
	reply := Reply{Identity: ev.Identity, Text: msgChooseExams, Keyboard: examKeyboard(next), EditRef: ev.MessageRef}
	return m.commitOr(ctx, ev.Identity, current.State, next, []Reply{reply})
}

func (m *Machine) onSignupPin(ctx context.Context, ev Event, current session.Session) []Reply {
	if ev.Kind != EventText {
		return say(ev.Identity, msgAskNewPin)
	}
	pin := strings.TrimSpace(ev.Payload)
	if !pinPattern.MatchString(pin) {
		return say(ev.Identity, msgPinFormat)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), m.pinCost)
	if err != nil {
		log.Printf("bot: hash pin for %s: %v", ev.Identity, err)
		return say(ev.Identity, msgGenericFailure)
	}

	account := store.Account{
		Phone:         current.SignupPhone,
		OwnerIdentity: ev.Identity,
		Name:          current.SignupName,
		Class:         current.SignupClass,
		ExamTags:      orderedExams(current.SelectedExams),
		PinHash:       string(hash),
		CreatedAt:     m.now().UTC(),
	}
	err = m.accounts.InsertAccount(ctx, account)
	if errors.Is(err, store.ErrAccountExists) {
		return m.resumeSignup(ctx, ev.Identity, pin, current)
	}
	if err != nil {
		log.Printf("bot: signup insert for %s: %v", ev.Identity, err)
		return say(ev.Identity, msgTryLater)
	}

	if m.notifier != nil {
		m.notifier.Notify(fmt.Sprintf("New signup: %s (%s), class %s, exams %s",
			account.Name, account.Phone, account.Class, examSummary(account.ExamTags)))
	}

	next := current.Clone()
	next.ClearTransient()
	next.Phone = account.Phone
	next.State = session.StateLoggedIn
	return m.commitOr(ctx, ev.Identity, current.State, next, say(ev.Identity, fmt.Sprintf(msgSignupComplete, account.Name)))
}

// resumeSignup handles a signup whose account row already exists. When this
// identity created the row with the same PIN (an earlier attempt whose session
// write failed) the signup completes; any other owner ends the flow.
func (m *Machine) resumeSignup(ctx context.Context, identity, pin string, current session.Session) []Reply {
	existing, found, err := m.accounts.FindAccountByPhone(ctx, current.SignupPhone)
	if err != nil {
		log.Printf("bot: signup lookup for %s: %v", identity, err)
		return say(identity, msgTryLater)
	}
	if !found || existing.OwnerIdentity != identity ||
		bcrypt.CompareHashAndPassword([]byte(existing.PinHash), []byte(pin)) != nil {
		next := session.Session{}
		next.Reset(session.StateEnd)
		return m.commitOr(ctx, identity, current.State, next, say(identity, msgAlreadyExists))
	}

	next := current.Clone()
	next.ClearTransient()
	next.Phone = existing.Phone
	next.State = session.StateLoggedIn
	return m.commitOr(ctx, identity, current.State, next, say(identity, fmt.Sprintf(msgSignupComplete, existing.Name)))
}

func (m *Machine) onLoggedIn(ctx context.Context, ev Event, current session.Session) []Reply {
	var payload Payload
	switch ev.Kind {
	case EventText:
		payload = Payload{Text: ev.Payload}
	case EventPhoto:
		payload = Payload{Text: ev.Payload, PhotoFileID: ev.FileID}
	default:
		return say(ev.Identity, msgSendDoubt)
	}
	if payload.PhotoFileID == "" && strings.TrimSpace(payload.Text) == "" {
		return say(ev.Identity, msgSendDoubt)
	}

	access, err := m.gate.Check(ctx, ev.Identity, &current)
	if err != nil {
		log.Printf("bot: gate for %s: %v", ev.Identity, err)
		return say(ev.Identity, msgTryLater)
	}
	switch access {
	case AccessBlacklisted:
		return say(ev.Identity, m.msgRevoked())
	case AccessAnonymous:
		return say(ev.Identity, msgUseStart)
	}

	_, err = m.recorder.Record(ctx, ev.Identity, current.Phone, payload)
	if errors.Is(err, ErrAccountMissing) {
		log.Printf("bot: account for %s vanished, clearing session", ev.Identity)
		return m.commitOr(ctx, ev.Identity, current.State, session.New(), say(ev.Identity, msgAccountMissing))
	}
	if err != nil {
		log.Printf("bot: record doubt for %s: %v", ev.Identity, err)
		return say(ev.Identity, msgRecordFailed)
	}

	if payload.PhotoFileID != "" {
		return say(ev.Identity, msgImageRecorded)
	}
	return say(ev.Identity, msgTextRecorded)
}

// normalizePhone canonicalizes the phone and validates the result.
func normalizePhone(raw string) (string, bool) {
	phone := store.NormalizePhone(raw)
	return phone, phonePattern.MatchString(phone)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
