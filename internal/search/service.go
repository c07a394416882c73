package search

import (
	"context"
	"log"

	"doubtdesk/bot/internal/store"
)

// RecordLoader supplies every doubt for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]DoubtRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
	loader   RecordLoader
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, fallback Searcher, loader RecordLoader) *Service {
	return &Service{index: index, fallback: fallback, loader: loader}
}

// Search tries the index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "pgfts"}
}

// IndexDoubt indexes a recorded doubt (fire-and-forget to Meilisearch).
func (s *Service) IndexDoubt(doubt store.Doubt) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	record := RecordFromDoubt(doubt)
	go func() {
		if err := s.index.IndexDoubts([]DoubtRecord{record}); err != nil {
			log.Printf("search: index doubt %s: %v", record.ID, err)
		}
	}()
}

// ReindexAllFromPG pushes every stored doubt into Meilisearch. Run at startup.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.index.IndexDoubts(records); err != nil {
		log.Printf("search: reindex doubts: %v", err)
		return
	}
	log.Printf("search: reindexed %d doubts", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
