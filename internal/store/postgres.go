package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindAccountByPhone matches the phone exactly. The boolean is false when no
// row exists; err is only set when the lookup itself failed.
func (s *PostgresStore) FindAccountByPhone(ctx context.Context, phone string) (Account, bool, error) {
	const query = `
		SELECT phone, owner_identity, name, class, exam_tags, pin_hash, created_at
		FROM accounts
		WHERE phone = $1
	`
	var (
		account Account
		tags    string
	)
	err := s.db.QueryRowContext(ctx, query, phone).Scan(
		&account.Phone,
		&account.OwnerIdentity,
		&account.Name,
		&account.Class,
		&tags,
		&account.PinHash,
		&account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, fmt.Errorf("lookup account: %w", err)
	}
	account.ExamTags = SplitTags(tags)
	return account, true, nil
}

// InsertAccount returns ErrAccountExists when the phone is already registered,
// including when a concurrent signup won the race.
func (s *PostgresStore) InsertAccount(ctx context.Context, account Account) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (phone, owner_identity, name, class, exam_tags, pin_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO NOTHING
	`, account.Phone, account.OwnerIdentity, account.Name, account.Class, JoinTags(account.ExamTags), account.PinHash, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if inserted == 0 {
		return ErrAccountExists
	}
	return nil
}

func (s *PostgresStore) InsertDoubt(ctx context.Context, doubt Doubt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doubts (id, created_at, name, phone, identity, text_body, attachment_url, status, contact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, doubt.ID, doubt.CreatedAt, doubt.Name, doubt.Phone, doubt.Identity, doubt.TextBody, doubt.AttachmentURL, doubt.Status, doubt.Contact)
	if err != nil {
		return fmt.Errorf("insert doubt: %w", err)
	}
	return nil
}

// ListBlacklistedPhones returns every revoked phone in insertion order.
func (s *PostgresStore) ListBlacklistedPhones(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phone FROM blacklist ORDER BY added_at, phone`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	phones := make([]string, 0)
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("scan blacklist: %w", err)
		}
		phones = append(phones, phone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blacklist: %w", err)
	}
	return phones, nil
}

// ListDoubts returns the newest doubts first.
func (s *PostgresStore) ListDoubts(ctx context.Context, limit int) ([]Doubt, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, name, phone, identity, text_body, attachment_url, status, contact
		FROM doubts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list doubts: %w", err)
	}
	defer rows.Close()

	items := make([]Doubt, 0)
	for rows.Next() {
		var item Doubt
		if err := rows.Scan(&item.ID, &item.CreatedAt, &item.Name, &item.Phone, &item.Identity, &item.TextBody, &item.AttachmentURL, &item.Status, &item.Contact); err != nil {
			return nil, fmt.Errorf("scan doubt: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate doubts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// JoinTags serializes exam tags the way the accounts table stores them.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func SplitTags(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
