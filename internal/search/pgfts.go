package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher over the doubts table's generated tsvector.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches plainto_tsquery against doubts.fts, ranked by ts_rank and
// then recency. An empty query lists the newest doubts.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	rank := "0::real"
	snippet := "d.text_body"
	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, text)
		tsQuery := fmt.Sprintf("plainto_tsquery('simple', $%d)", len(args))
		where = append(where, "d.fts @@ "+tsQuery)
		rank = fmt.Sprintf("ts_rank(d.fts, %s)", tsQuery)
		snippet = fmt.Sprintf("ts_headline('simple', d.text_body, %s, 'MaxFragments=1,MaxWords=30')", tsQuery)
	}
	if q.Status != "" {
		args = append(args, q.Status)
		where = append(where, fmt.Sprintf("d.status = $%d", len(args)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM doubts d %s", whereSQL)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id::text, d.name, d.phone, %s AS snippet, d.attachment_url, d.status, d.contact, d.created_at
		FROM doubts d
		%s
		ORDER BY %s DESC, d.created_at DESC
		LIMIT %d OFFSET %d`, snippet, whereSQL, rank, limit, offset)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r         Result
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Snippet, &r.AttachmentURL, &r.Status, &r.Contact, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every doubt for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DoubtRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, name, phone, text_body, attachment_url, status, contact, created_at
		FROM doubts
	`)
	if err != nil {
		return nil, fmt.Errorf("load doubts: %w", err)
	}
	defer rows.Close()

	records := make([]DoubtRecord, 0)
	for rows.Next() {
		var (
			r         DoubtRecord
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Text, &r.AttachmentURL, &r.Status, &r.Contact, &createdAt); err != nil {
			return nil, fmt.Errorf("scan doubt: %w", err)
		}
		r.CreatedAt = createdAt.Unix()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate doubts: %w", err)
	}
	return records, nil
}
