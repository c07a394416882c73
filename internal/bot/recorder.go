package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"doubtdesk/bot/internal/store"
)

// ErrAccountMissing means the logged-in phone no longer has an account row.
var ErrAccountMissing = errors.New("account not found")

// Payload is the content of one doubt. At least one field is set.
type Payload struct {
	Text        string
	PhotoFileID string
}

type RecorderDeps struct {
	Accounts Accounts
	Doubts   Doubts
	Uploader Uploader
	Photos   PhotoFetcher
	Indexer  Indexer
	Notifier Notifier
	TempDir  string
}

// Recorder turns a payload into a persisted doubt row.
type Recorder struct {
	accounts Accounts
	doubts   Doubts
	uploader Uploader
	photos   PhotoFetcher
	indexer  Indexer
	notifier Notifier
	tempDir  string
	now      func() time.Time
}

func NewRecorder(deps RecorderDeps) *Recorder {
	return &Recorder{
		accounts: deps.Accounts,
		doubts:   deps.Doubts,
		uploader: deps.Uploader,
		photos:   deps.Photos,
		indexer:  deps.Indexer,
		notifier: deps.Notifier,
		tempDir:  deps.TempDir,
		now:      time.Now,
	}
}

// Record looks up the account fresh, uploads any photo, and appends the doubt.
func (r *Recorder) Record(ctx context.Context, identity, phone string, payload Payload) (store.Doubt, error) {
	account, found, err := r.accounts.FindAccountByPhone(ctx, phone)
	if err != nil {
		return store.Doubt{}, fmt.Errorf("lookup account: %w", err)
	}
	if !found {
		return store.Doubt{}, ErrAccountMissing
	}

	attachment := store.Empty
	if payload.PhotoFileID != "" {
		url, err := r.uploadPhoto(ctx, identity, payload.PhotoFileID)
		if err != nil {
			return store.Doubt{}, err
		}
		attachment = url
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		text = store.Empty
	}

	doubt := store.Doubt{
		ID:            uuid.NewString(),
		CreatedAt:     r.now().UTC(),
		Name:          account.Name,
		Phone:         account.Phone,
		Identity:      identity,
		TextBody:      text,
		AttachmentURL: attachment,
		Status:        store.StatusPending,
		Contact:       ContactRef(identity),
	}
	if err := r.doubts.InsertDoubt(ctx, doubt); err != nil {
		return store.Doubt{}, fmt.Errorf("append doubt: %w", err)
	}
	if r.indexer != nil {
		r.indexer.IndexDoubt(doubt)
	}
	if r.notifier != nil {
		r.notifier.Notify(fmt.Sprintf("New doubt from %s (%s)\n%s\n%s", doubt.Name, doubt.Phone, doubt.TextBody, doubt.AttachmentURL))
	}
	log.Printf("bot: recorded doubt %s for %s", doubt.ID, identity)
	return doubt, nil
}

// uploadPhoto stages the photo in a temp file that is removed on every path.
func (r *Recorder) uploadPhoto(ctx context.Context, identity, fileID string) (string, error) {
	tmp, err := os.CreateTemp(r.tempDir, "doubt-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := r.photos.FetchPhoto(ctx, fileID, tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	objectName := path.Join("doubts", identity, uuid.NewString()+".jpg")
	url, err := r.uploader.Upload(ctx, tmp.Name(), objectName)
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return url, nil
}

// ContactRef is a deep link that opens a chat with the identity.
func ContactRef(identity string) string {
	return "tg://user?id=" + identity
}
