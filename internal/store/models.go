package store

import (
	"errors"
	"time"
)

const (
	StatusPending = "Pending"
	// Placeholder written for a missing text body or attachment.
	Empty = "-"
)

var ErrAccountExists = errors.New("account already exists")

// Account is a registered user. Rows are never updated after signup.
type Account struct {
	Phone         string
	OwnerIdentity string
	Name          string
	Class         string
	ExamTags      []string
	PinHash       string
	CreatedAt     time.Time
}

// Doubt is one submitted question. Rows are append-only.
type Doubt struct {
	ID            string
	CreatedAt     time.Time
	Name          string
	Phone         string
	Identity      string
	TextBody      string
	AttachmentURL string
	Status        string
	Contact       string
}
