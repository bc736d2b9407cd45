package translate

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// Cache stores finished block translations keyed by the source text and
// language pair. It makes crash recovery cheap: a restarted job re-reads
// finished blocks instead of paying for them again.
type Cache struct {
	db *sql.DB
}

// NewCache creates a Cache on the given database and ensures its schema.
func NewCache(db *sql.DB) (*Cache, error) {
	c := &Cache{db: db}
	if err := c.initSchema(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS translation_cache (
			cache_key   TEXT PRIMARY KEY,
			source_lang TEXT NOT NULL,
			target_lang TEXT NOT NULL,
			translated  TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to create translation cache schema", err)
	}
	return nil
}

// CacheKey derives the lookup key for one block of source text.
func CacheKey(sourceLang, targetLang, text string) string {
	sum := sha256.Sum256([]byte(sourceLang + "|" + targetLang + "|" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached translation, or "" and false on a miss.
func (c *Cache) Get(sourceLang, targetLang, text string) (string, bool) {
	var translated string
	err := c.db.QueryRow(
		`SELECT translated FROM translation_cache WHERE cache_key = ?`,
		CacheKey(sourceLang, targetLang, text),
	).Scan(&translated)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn("translation cache lookup failed", logger.Err(err))
		}
		return "", false
	}
	return translated, true
}

// Put stores a translation. Failures are logged and swallowed; the cache
// is an optimization, not a source of truth.
func (c *Cache) Put(sourceLang, targetLang, text, translated string) {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO translation_cache
		 (cache_key, source_lang, target_lang, translated, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		CacheKey(sourceLang, targetLang, text), sourceLang, targetLang, translated, time.Now().UTC(),
	)
	if err != nil {
		logger.Warn("translation cache write failed", logger.Err(err))
	}
}

// Prune deletes entries older than the retention window and returns the
// number removed.
func (c *Cache) Prune(olderThan time.Duration) (int64, error) {
	res, err := c.db.Exec(
		`DELETE FROM translation_cache WHERE created_at < ?`,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to prune translation cache", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
