// Package bot implements the doubt desk conversation: the login and signup
// flows, the blacklist gate, and recording of submitted doubts.
package bot

import (
	"context"
	"io"

	"doubtdesk/bot/internal/store"
)

type EventKind string

const (
	EventCommand EventKind = "command"
	EventText    EventKind = "text"
	EventPhoto   EventKind = "photo"
	EventButton  EventKind = "button"
)

// Event is one inbound message from a chat identity.
type Event struct {
	Identity string
	Kind     EventKind
	// Payload is the command name without the slash, the message text,
	// the photo caption, or the button token, depending on Kind.
	Payload string
	// FileID references the largest photo size for EventPhoto.
	FileID string
	// MessageRef is the message carrying the pressed button for EventButton.
	MessageRef int
}

type Button struct {
	Label string
	Token string
}

// Keyboard is an ordered list of button rows.
type Keyboard [][]Button

// Reply is one outbound message. A non-zero EditRef replaces that message in place.
type Reply struct {
	Identity string
	Text     string
	Keyboard Keyboard
	EditRef  int
}

// Accounts is the registered-user table.
type Accounts interface {
	// FindAccountByPhone reports found=false for a missing row and a non-nil
	// error only when the store could not answer.
	FindAccountByPhone(ctx context.Context, phone string) (store.Account, bool, error)
	InsertAccount(ctx context.Context, account store.Account) error
}

type Doubts interface {
	InsertDoubt(ctx context.Context, doubt store.Doubt) error
}

type Blacklist interface {
	IsBlacklisted(ctx context.Context, phone string) (bool, error)
}

// Uploader stores a local file and returns a durable URL for it.
type Uploader interface {
	Upload(ctx context.Context, filePath, objectName string) (string, error)
}

// PhotoFetcher copies the bytes of a transport-hosted photo into w.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, fileID string, w io.Writer) error
}

// Notifier delivers admin alerts. Implementations must not block and must log their own failures.
type Notifier interface {
	Notify(message string)
}

// Indexer receives recorded doubts for search. Fire-and-forget.
type Indexer interface {
	IndexDoubt(doubt store.Doubt)
}

func say(identity string, text string) []Reply {
	return []Reply{{Identity: identity, Text: text}}
}
