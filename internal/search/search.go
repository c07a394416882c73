package search

import (
	"context"
	"time"

	"doubtdesk/bot/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Snippet       string `json:"snippet"`
	AttachmentURL string `json:"attachmentUrl"`
	Status        string `json:"status"`
	Contact       string `json:"contact"`
	CreatedAt     string `json:"createdAt"`
}

// Query describes a search request. An empty Text lists the newest doubts.
type Query struct {
	Text   string
	Status string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a search backend that also accepts documents.
type Index interface {
	Searcher
	IndexDoubts(records []DoubtRecord) error
}

// DoubtRecord is the data we index for a doubt.
type DoubtRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Text          string `json:"text"`
	AttachmentURL string `json:"attachmentUrl"`
	Status        string `json:"status"`
	Contact       string `json:"contact"`
	CreatedAt     int64  `json:"createdAt"`
}

func RecordFromDoubt(d store.Doubt) DoubtRecord {
	return DoubtRecord{
		ID:            d.ID,
		Name:          d.Name,
		Phone:         d.Phone,
		Text:          d.TextBody,
		AttachmentURL: d.AttachmentURL,
		Status:        d.Status,
		Contact:       d.Contact,
		CreatedAt:     d.CreatedAt.Unix(),
	}
}

func (r DoubtRecord) result() Result {
	return Result{
		ID:            r.ID,
		Name:          r.Name,
		Phone:         r.Phone,
		Snippet:       r.Text,
		AttachmentURL: r.AttachmentURL,
		Status:        r.Status,
		Contact:       r.Contact,
		CreatedAt:     formatUnix(r.CreatedAt),
	}
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
