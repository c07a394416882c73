package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"doubtdesk/bot/internal/session"
	"doubtdesk/bot/internal/store"
)

type fakeAccounts struct {
	mu        sync.Mutex
	rows      map[string]store.Account
	findErr   error
	insertErr error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{rows: map[string]store.Account{}}
}

func (f *fakeAccounts) FindAccountByPhone(_ context.Context, phone string) (store.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return store.Account{}, false, f.findErr
	}
	account, ok := f.rows[phone]
	return account, ok, nil
}

func (f *fakeAccounts) InsertAccount(_ context.Context, account store.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, exists := f.rows[account.Phone]; exists {
		return store.ErrAccountExists
	}
	f.rows[account.Phone] = account
	return nil
}

func (f *fakeAccounts) get(phone string) (store.Account, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.rows[phone]
	return account, ok
}

func (f *fakeAccounts) remove(phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, phone)
}

type fakeDoubts struct {
	mu   sync.Mutex
	rows []store.Doubt
	err  error
}

func (f *fakeDoubts) InsertDoubt(_ context.Context, doubt store.Doubt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, doubt)
	return nil
}

func (f *fakeDoubts) all() []store.Doubt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Doubt(nil), f.rows...)
}

type fakeBlacklist struct {
	mu     sync.Mutex
	phones map[string]bool
	err    error
}

func (f *fakeBlacklist) IsBlacklisted(_ context.Context, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.phones[phone], nil
}

func (f *fakeBlacklist) add(phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phones == nil {
		f.phones = map[string]bool{}
	}
	f.phones[phone] = true
}

type fakePhotos struct {
	data []byte
	err  error
}

func (f *fakePhotos) FetchPhoto(_ context.Context, _ string, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write(f.data)
	return err
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, filePath, objectName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[objectName] = data
	return "https://files.example.test/doubts-bucket/" + objectName, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
}

func (f *fakeIndexer) IndexDoubt(doubt store.Doubt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doubt.ID)
}

// recordingStore logs every state change so tests can replay them against the transition table.
type recordingStore struct {
	session.Store
	mu    sync.Mutex
	edges []string
	fail  error
	// failNext fails the next write into that state once.
	failNext session.State
}

func (r *recordingStore) Put(ctx context.Context, identity string, s session.Session) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	if r.failNext != "" && r.failNext == s.State {
		r.failNext = ""
		r.mu.Unlock()
		return errors.New("redis: connection reset")
	}
	r.mu.Unlock()
	prev, err := r.Store.Get(ctx, identity)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.edges = append(r.edges, fmt.Sprintf("%s->%s", prev.State, s.State))
	r.mu.Unlock()
	return r.Store.Put(ctx, identity, s)
}

type harness struct {
	machine   *Machine
	sessions  *recordingStore
	accounts  *fakeAccounts
	doubts    *fakeDoubts
	blacklist *fakeBlacklist
	photos    *fakePhotos
	uploader  *fakeUploader
	notifier  *fakeNotifier
	indexer   *fakeIndexer
	tempDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sessions:  &recordingStore{Store: session.NewMemoryStore()},
		accounts:  newFakeAccounts(),
		doubts:    &fakeDoubts{},
		blacklist: &fakeBlacklist{},
		photos:    &fakePhotos{data: []byte("jpeg-bytes")},
		uploader:  &fakeUploader{},
		notifier:  &fakeNotifier{},
		indexer:   &fakeIndexer{},
		tempDir:   t.TempDir(),
	}
	h.machine = NewMachine(Config{SupportPhone: "+91 90000 00000", TempDir: h.tempDir}, Deps{
		Sessions:  h.sessions,
		Accounts:  h.accounts,
		Doubts:    h.doubts,
		Blacklist: h.blacklist,
		Uploader:  h.uploader,
		Photos:    h.photos,
		Notifier:  h.notifier,
		Indexer:   h.indexer,
	})
	h.machine.pinCost = bcrypt.MinCost
	return h
}

func (h *harness) send(identity string, kind EventKind, payload string) []Reply {
	return h.machine.Handle(context.Background(), Event{Identity: identity, Kind: kind, Payload: payload})
}

func (h *harness) press(identity, token string, messageRef int) []Reply {
	return h.machine.Handle(context.Background(), Event{Identity: identity, Kind: EventButton, Payload: token, MessageRef: messageRef})
}

func (h *harness) session(t *testing.T, identity string) session.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), identity)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

// seedAccount registers phone for owner with the given PIN.
func (h *harness) seedAccount(t *testing.T, phone, owner, name, pin string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	h.accounts.rows[phone] = store.Account{
		Phone:         phone,
		OwnerIdentity: owner,
		Name:          name,
		Class:         "12",
		ExamTags:      []string{"JEE"},
		PinHash:       string(hash),
	}
}

// loggedIn stores an authenticated session directly.
func (h *harness) loggedIn(t *testing.T, identity, phone string) {
	t.Helper()
	s := session.New()
	s.State = session.StateLoggedIn
	s.Phone = phone
	if err := h.sessions.Store.Put(context.Background(), identity, s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func lastText(replies []Reply) string {
	if len(replies) == 0 {
		return ""
	}
	return replies[len(replies)-1].Text
}
