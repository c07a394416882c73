package blacklist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	mu     sync.Mutex
	phones []string
	err    error
	calls  atomic.Int64
	gate   chan struct{}
}

func (f *fakeSource) ListBlacklistedPhones(ctx context.Context) ([]string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.phones...), nil
}

func (f *fakeSource) set(phones []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phones = phones
	f.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(source Source) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := New(source, Config{TTL: 300 * time.Second, MaxWait: 50 * time.Millisecond})
	cache.now = clock.Now
	return cache, clock
}

func TestIsBlacklistedCachesWithinTTL(t *testing.T) {
	source := &fakeSource{phones: []string{"9625060017", " 7217684362 "}}
	cache, clock := newTestCache(source)
	ctx := context.Background()

	for _, tc := range []struct {
		phone string
		want  bool
	}{
		{"9625060017", true},
		{"7217684362", true},
		{"9000000001", false},
	} {
		got, err := cache.IsBlacklisted(ctx, tc.phone)
		if err != nil {
			t.Fatalf("IsBlacklisted(%s) error: %v", tc.phone, err)
		}
		if got != tc.want {
			t.Errorf("IsBlacklisted(%s) = %v, want %v", tc.phone, got, tc.want)
		}
	}

	clock.Advance(299 * time.Second)
	if _, err := cache.IsBlacklisted(ctx, "9625060017"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := source.calls.Load(); calls != 1 {
		t.Errorf("expected 1 fetch within TTL, got %d", calls)
	}
}

func TestIsBlacklistedMatchesFormattedEntries(t *testing.T) {
	source := &fakeSource{phones: []string{"96250 60017", "(721) 768-4362", "+91-90000-00001"}}
	cache, _ := newTestCache(source)
	ctx := context.Background()

	tests := []struct {
		phone string
		want  bool
	}{
		{"9625060017", true},
		{"962-506-0017", true},
		{"7217684362", true},
		{"+919000000001", true},
		{"9000000002", false},
	}
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			got, err := cache.IsBlacklisted(ctx, tt.phone)
			if err != nil {
				t.Fatalf("IsBlacklisted: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsBlacklisted(%q) = %v, want %v", tt.phone, got, tt.want)
			}
		})
	}
}

func TestIsBlacklistedRefreshesAfterTTL(t *testing.T) {
	source := &fakeSource{phones: []string{"9625060017"}}
	cache, clock := newTestCache(source)
	ctx := context.Background()

	if got, _ := cache.IsBlacklisted(ctx, "9000000001"); got {
		t.Fatal("expected not blacklisted before revocation")
	}

	source.set([]string{"9625060017", "9000000001"}, nil)
	clock.Advance(301 * time.Second)

	got, err := cache.IsBlacklisted(ctx, "9000000001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("expected revocation to be visible after TTL")
	}
	if calls := source.calls.Load(); calls != 2 {
		t.Errorf("expected 2 fetches, got %d", calls)
	}
}

func TestIsBlacklistedServesStaleOnFailure(t *testing.T) {
	source := &fakeSource{phones: []string{"9625060017"}}
	cache, clock := newTestCache(source)
	ctx := context.Background()

	if _, err := cache.IsBlacklisted(ctx, "9625060017"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	source.set(nil, errors.New("sheet quota exceeded"))
	clock.Advance(time.Hour)

	got, err := cache.IsBlacklisted(ctx, "9625060017")
	if err != nil {
		t.Fatalf("expected stale set to be served, got error: %v", err)
	}
	if !got {
		t.Error("stale set must still report the revoked phone")
	}
	stats := cache.Stats()
	if stats.StaleUses != 1 || stats.Failures != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestIsBlacklistedFailsClosedWithoutSnapshot(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	cache, _ := newTestCache(source)

	_, err := cache.IsBlacklisted(context.Background(), "9625060017")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConcurrentRefreshesCollapse(t *testing.T) {
	source := &fakeSource{phones: []string{"9625060017"}, gate: make(chan struct{})}
	cache, _ := newTestCache(source)
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.IsBlacklisted(ctx, "9625060017")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- got
		}()
	}

	// let every caller join the in-flight fetch
	deadline := time.Now().Add(time.Second)
	for source.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(source.gate)
	wg.Wait()
	close(results)

	for got := range results {
		if !got {
			t.Error("expected every caller to see the revoked phone")
		}
	}
	if calls := source.calls.Load(); calls != 1 {
		t.Errorf("expected a single fetch, got %d", calls)
	}
}

func TestSlowRefreshBoundedWhenStale(t *testing.T) {
	source := &fakeSource{phones: []string{"9625060017"}}
	cache, clock := newTestCache(source)
	ctx := context.Background()

	if _, err := cache.IsBlacklisted(ctx, "9625060017"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	source.gate = make(chan struct{})
	defer close(source.gate)
	clock.Advance(301 * time.Second)

	started := time.Now()
	got, err := cache.IsBlacklisted(ctx, "9625060017")
	if err != nil {
		t.Fatalf("expected stale answer, got error: %v", err)
	}
	if !got {
		t.Error("expected stale set to report the revoked phone")
	}
	if waited := time.Since(started); waited > time.Second {
		t.Errorf("caller waited %s on a slow refresh", waited)
	}
}
