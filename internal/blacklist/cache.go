// Package blacklist caches the set of revoked phone numbers.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"doubtdesk/bot/internal/store"
)

var ErrUnavailable = errors.New("blacklist unavailable")

// Source lists the currently revoked phones.
type Source interface {
	ListBlacklistedPhones(ctx context.Context) ([]string, error)
}

type Config struct {
	// TTL is how long a fetched set is served before refreshing.
	TTL time.Duration
	// FetchTimeout bounds a single call to the source.
	FetchTimeout time.Duration
	// MaxWait bounds how long a caller waits on a refresh when a stale set exists.
	MaxWait time.Duration
}

// Stats are counters for diagnostics.
type Stats struct {
	Hits      int64     `json:"hits"`
	Refreshes int64     `json:"refreshes"`
	Failures  int64     `json:"failures"`
	StaleUses int64     `json:"staleUses"`
	Size      int       `json:"size"`
	LoadedAt  time.Time `json:"loadedAt"`
}

// Cache serves IsBlacklisted from a process-wide snapshot. Expired snapshots are
// refreshed synchronously; concurrent refreshes share one fetch. When a refresh
// fails the last good snapshot keeps being served; with no snapshot at all the
// lookup fails.
type Cache struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	maxWait      time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	phones   map[string]struct{}
	loadedAt time.Time
	loaded   bool

	group singleflight.Group

	hits      atomic.Int64
	refreshes atomic.Int64
	failures  atomic.Int64
	staleUses atomic.Int64
}

func New(source Source, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 2 * time.Second
	}
	return &Cache{
		source:       source,
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		maxWait:      cfg.MaxWait,
		now:          time.Now,
	}
}

// IsBlacklisted reports whether phone has been revoked.
func (c *Cache) IsBlacklisted(ctx context.Context, phone string) (bool, error) {
	phone = normalize(phone)

	c.mu.RLock()
	phones, loadedAt, loaded := c.phones, c.loadedAt, c.loaded
	c.mu.RUnlock()

	if loaded && c.now().Sub(loadedAt) < c.ttl {
		c.hits.Add(1)
		return contains(phones, phone), nil
	}

	fresh, err := c.refresh(ctx, loaded)
	if err == nil {
		return contains(fresh, phone), nil
	}
	if !loaded {
		return false, err
	}

	c.staleUses.Add(1)
	if age := c.now().Sub(loadedAt); age > 3*c.ttl {
		log.Printf("blacklist: serving stale set, age %s exceeds %s: %v", age.Round(time.Second), 3*c.ttl, err)
	}
	return contains(phones, phone), nil
}

// Refresh forces a fetch, for warming the cache at startup.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx, false)
	return err
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size, loadedAt := len(c.phones), c.loadedAt
	c.mu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Refreshes: c.refreshes.Load(),
		Failures:  c.failures.Load(),
		StaleUses: c.staleUses.Load(),
		Size:      size,
		LoadedAt:  loadedAt,
	}
}

func (c *Cache) refresh(ctx context.Context, haveStale bool) (map[string]struct{}, error) {
	// The fetch is detached from the caller so one cancelled request does
	// not fail the refresh for everyone sharing it.
	ch := c.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()

		list, err := c.source.ListBlacklistedPhones(fetchCtx)
		if err != nil {
			c.failures.Add(1)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		phones := make(map[string]struct{}, len(list))
		for _, phone := range list {
			if phone = normalize(phone); phone != "" {
				phones[phone] = struct{}{}
			}
		}

		c.mu.Lock()
		c.phones = phones
		c.loadedAt = c.now()
		c.loaded = true
		c.mu.Unlock()
		c.refreshes.Add(1)
		return phones, nil
	})

	var timeout <-chan time.Time
	if haveStale {
		timer := time.NewTimer(c.maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]struct{}), nil
	case <-timeout:
		return nil, fmt.Errorf("%w: refresh still running after %s", ErrUnavailable, c.maxWait)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

func contains(phones map[string]struct{}, phone string) bool {
	_, ok := phones[phone]
	return ok
}

func normalize(phone string) string {
	return store.NormalizePhone(phone)
}
