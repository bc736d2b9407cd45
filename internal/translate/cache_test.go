package translate

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"pdf-translator/internal/retry"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := NewCache(openTestDB(t))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if _, ok := cache.Get("tr", "en", "merhaba"); ok {
		t.Error("unexpected hit on empty cache")
	}

	cache.Put("tr", "en", "merhaba", "hello")
	got, ok := cache.Get("tr", "en", "merhaba")
	if !ok || got != "hello" {
		t.Errorf("Get = %q, %v", got, ok)
	}

	// Direction matters.
	if _, ok := cache.Get("en", "tr", "merhaba"); ok {
		t.Error("reverse direction must miss")
	}
}

func TestCacheKeyStability(t *testing.T) {
	a := CacheKey("tr", "en", "metin")
	b := CacheKey("tr", "en", "metin")
	c := CacheKey("tr", "en", "başka")
	if a != b {
		t.Error("same input must produce the same key")
	}
	if a == c {
		t.Error("different text must produce different keys")
	}
}

func TestCachePrune(t *testing.T) {
	db := openTestDB(t)
	cache, err := NewCache(db)
	if err != nil {
		t.Fatal(err)
	}

	cache.Put("tr", "en", "eski", "old")
	// Backdate the entry past the retention window.
	if _, err := db.Exec(
		`UPDATE translation_cache SET created_at = ?`,
		time.Now().UTC().Add(-48*time.Hour),
	); err != nil {
		t.Fatal(err)
	}
	cache.Put("tr", "en", "yeni", "new")

	n, err := cache.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if _, ok := cache.Get("tr", "en", "eski"); ok {
		t.Error("expired entry survived prune")
	}
	if _, ok := cache.Get("tr", "en", "yeni"); !ok {
		t.Error("fresh entry lost in prune")
	}
}

func TestBatcherUsesCache(t *testing.T) {
	cache, err := NewCache(openTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	provider := &echoProvider{name: "echo"}
	b := NewBatcher(BatcherConfig{
		Primary: provider,
		Cache:   cache,
		Policy:  retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})
	pair := testPair(t)

	first := blockSet("bir", "iki")
	if _, err := b.TranslateBlocks(context.Background(), first, pair); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := provider.calls

	// Second run with the same texts must be served from the cache.
	second := blockSet("bir", "iki")
	stats, err := b.TranslateBlocks(context.Background(), second, pair)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FromCache != 2 {
		t.Errorf("FromCache = %d, want 2", stats.FromCache)
	}
	if provider.calls != callsAfterFirst {
		t.Errorf("provider called again despite cache: %d -> %d", callsAfterFirst, provider.calls)
	}
	if second[0].Translated != "TX:bir" {
		t.Errorf("cached translation = %q", second[0].Translated)
	}
}
