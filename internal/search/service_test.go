package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"doubtdesk/bot/internal/store"
)

type fakeIndex struct {
	mu       sync.Mutex
	healthy  bool
	results  []Result
	err      error
	indexed  []DoubtRecord
	indexErr error
	done     chan struct{}
}

func (f *fakeIndex) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexDoubts(records []DoubtRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, records...)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return f.indexErr
}

type fakeFallback struct {
	results []Result
	err     error
	calls   int
}

func (f *fakeFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeFallback) Healthy() bool { return true }

type fakeLoader struct {
	records []DoubtRecord
	err     error
}

func (f *fakeLoader) LoadAllRecords(ctx context.Context) ([]DoubtRecord, error) {
	return f.records, f.err
}

func TestSearchPrefersHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, results: []Result{{ID: "m1"}}}
	fallback := &fakeFallback{results: []Result{{ID: "p1"}}}
	svc := NewService(index, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "entropy"})
	if resp.Backend != "meilisearch" || len(resp.Results) != 1 || resp.Results[0].ID != "m1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback should not be used, got %d calls", fallback.calls)
	}
}

func TestSearchFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		index Index
	}{
		{name: "no index", index: nil},
		{name: "unhealthy index", index: &fakeIndex{healthy: false}},
		{name: "index error", index: &fakeIndex{healthy: true, err: errors.New("timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeFallback{results: []Result{{ID: "p1"}}}
			svc := NewService(tt.index, fallback, nil)
			resp := svc.Search(context.Background(), Query{Text: "entropy"})
			if resp.Backend != "pgfts" || len(resp.Results) != 1 || resp.Results[0].ID != "p1" {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestSearchFallbackErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, &fakeFallback{err: errors.New("db down")}, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Errorf("expected empty non-nil results, got %+v", resp)
	}
}

func TestIndexDoubtIsAsync(t *testing.T) {
	index := &fakeIndex{healthy: true, done: make(chan struct{}, 1)}
	svc := NewService(index, nil, nil)

	svc.IndexDoubt(store.Doubt{
		ID:        "d1",
		Name:      "Asha",
		TextBody:  "why?",
		CreatedAt: time.Unix(1700000000, 0),
	})
	select {
	case <-index.done:
	case <-time.After(time.Second):
		t.Fatal("doubt was not indexed")
	}
	index.mu.Lock()
	defer index.mu.Unlock()
	if len(index.indexed) != 1 || index.indexed[0].Text != "why?" || index.indexed[0].CreatedAt != 1700000000 {
		t.Errorf("unexpected indexed records %+v", index.indexed)
	}
}

func TestIndexDoubtSkipsUnhealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: false}
	NewService(index, nil, nil).IndexDoubt(store.Doubt{ID: "d1"})
	if len(index.indexed) != 0 {
		t.Error("unhealthy index must not receive documents")
	}
}

func TestReindexAllFromPG(t *testing.T) {
	index := &fakeIndex{healthy: true}
	loader := &fakeLoader{records: []DoubtRecord{{ID: "a"}, {ID: "b"}}}
	NewService(index, nil, loader).ReindexAllFromPG(context.Background())
	if len(index.indexed) != 2 {
		t.Errorf("expected 2 reindexed records, got %d", len(index.indexed))
	}

	index = &fakeIndex{healthy: true}
	NewService(index, nil, &fakeLoader{err: errors.New("boom")}).ReindexAllFromPG(context.Background())
	if len(index.indexed) != 0 {
		t.Error("failed load must not index anything")
	}
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":            json.RawMessage(`"d1"`),
		"name":          json.RawMessage(`"Asha"`),
		"phone":         json.RawMessage(`"9000000001"`),
		"text":          json.RawMessage(`"what is entropy"`),
		"attachmentUrl": json.RawMessage(`"-"`),
		"status":        json.RawMessage(`"Pending"`),
		"contact":       json.RawMessage(`"tg://user?id=42"`),
		"createdAt":     json.RawMessage(`1700000000`),
		"_formatted":    json.RawMessage(`{"text":"what is <mark>entropy</mark>","createdAt":"1700000000"}`),
	}

	r := hitToResult(hit)
	if r.ID != "d1" || r.Name != "Asha" || r.Phone != "9000000001" || r.Status != "Pending" {
		t.Errorf("unexpected result %+v", r)
	}
	if r.Snippet != "what is <mark>entropy</mark>" {
		t.Errorf("snippet = %q", r.Snippet)
	}
	if r.CreatedAt != "2023-11-14T22:13:20Z" {
		t.Errorf("createdAt = %q", r.CreatedAt)
	}
}
