package job

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdf-translator/internal/types"
)

// Job is one translation job.
type Job struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Status     Status `json:"status"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	PageCount  int    `json:"page_count"`
	Cost       int64  `json:"cost"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Per-job warning counters for non-fatal degradations.
	OCRWarnings       int `json:"ocr_warnings"`
	TranslateWarnings int `json:"translate_warnings"`
	ClippedWarnings   int `json:"clipped_warnings"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DefaultRetention is how long a job's artifact stays valid, counted from
// job creation.
const DefaultRetention = 24 * time.Hour

// Page modes and statuses recorded per processed page.
const (
	PageModeText = "text"
	PageModeOCR  = "ocr"

	PageStatusOK        = "ok"
	PageStatusOCRFailed = "ocr_failed"
)

// PageRecord is the persisted trace of one processed page.
type PageRecord struct {
	JobID     string `json:"job_id"`
	Number    int    `json:"number"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	CharCount int    `json:"char_count"`
}

// Store persists jobs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the Store and ensures its schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			status          TEXT NOT NULL,
			source_lang     TEXT NOT NULL,
			target_lang     TEXT NOT NULL,
			page_count      INTEGER NOT NULL DEFAULT 0,
			cost            INTEGER NOT NULL DEFAULT 0,
			error_code      TEXT NOT NULL DEFAULT '',
			error_message   TEXT NOT NULL DEFAULT '',
			ocr_warnings    INTEGER NOT NULL DEFAULT 0,
			trans_warnings  INTEGER NOT NULL DEFAULT 0,
			clip_warnings   INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL,
			expires_at      TIMESTAMP NOT NULL,
			completed_at    TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS job_pages (
			job_id      TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			mode        TEXT NOT NULL,
			status      TEXT NOT NULL,
			char_count  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (job_id, page_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs (user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return types.NewAppError(types.ErrStorage, "failed to create job schema", err)
		}
	}
	return nil
}

// Create inserts a new job in StatusCreated. The artifact expiry clock
// starts here, at creation, not at completion.
func (s *Store) Create(j *Job) error {
	now := time.Now().UTC()
	j.Status = StatusCreated
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.ExpiresAt.IsZero() {
		j.ExpiresAt = now.Add(DefaultRetention)
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, user_id, status, source_lang, target_lang, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.Status, j.SourceLang, j.TargetLang, j.CreatedAt, j.UpdatedAt, j.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to create job", err)
	}
	return nil
}

const jobColumns = `id, user_id, status, source_lang, target_lang, page_count, cost,
	error_code, error_message, ocr_warnings, trans_warnings, clip_warnings,
	created_at, updated_at, expires_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var completedAt sql.NullTime
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.SourceLang, &j.TargetLang,
		&j.PageCount, &j.Cost, &j.ErrorCode, &j.ErrorMessage,
		&j.OCRWarnings, &j.TranslateWarnings, &j.ClippedWarnings,
		&j.CreatedAt, &j.UpdatedAt, &j.ExpiresAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// Get returns a job by id.
func (s *Store) Get(id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewAppError(types.ErrNotFound, "job not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to read job", err)
	}
	return j, nil
}

// Transition moves a job to the next status, enforcing the transition
// table. Invalid transitions are rejected.
func (s *Store) Transition(id string, next Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to begin transition", err)
	}
	defer tx.Rollback()

	if err := s.TransitionTx(tx, id, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to commit transition", err)
	}
	return nil
}

// TransitionTx is Transition inside the caller's transaction, so a status
// change can commit atomically with a ledger debit.
func (s *Store) TransitionTx(tx *sql.Tx, id string, next Status) error {
	var current Status
	err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewAppError(types.ErrNotFound, "job not found", err)
	}
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to read job status", err)
	}

	if !current.CanTransition(next) {
		return types.NewAppErrorWithDetails(types.ErrInternal, "invalid status transition",
			fmt.Sprintf("%s -> %s", current, next), nil)
	}

	now := time.Now().UTC()
	if next == StatusCompleted {
		_, err = tx.Exec(`UPDATE jobs SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			next, now, now, id)
	} else {
		_, err = tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, next, now, id)
	}
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to update job status", err)
	}
	return nil
}

// SetPageCountAndCost records the validated document size.
func (s *Store) SetPageCountAndCost(id string, pages int, cost int64) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET page_count = ?, cost = ?, updated_at = ? WHERE id = ?`,
		pages, cost, time.Now().UTC(), id,
	)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to set job pages", err)
	}
	return nil
}

// SetWarnings stores the per-job warning counters.
func (s *Store) SetWarnings(id string, ocr, translated, clipped int) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET ocr_warnings = ?, trans_warnings = ?, clip_warnings = ?, updated_at = ?
		 WHERE id = ?`,
		ocr, translated, clipped, time.Now().UTC(), id,
	)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to set job warnings", err)
	}
	return nil
}

// RecordPage upserts the per-page trace row for a processed page.
func (s *Store) RecordPage(jobID string, number int, mode, status string, charCount int) error {
	_, err := s.db.Exec(
		`INSERT INTO job_pages (job_id, page_number, mode, status, char_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, page_number)
		 DO UPDATE SET mode = excluded.mode, status = excluded.status, char_count = excluded.char_count`,
		jobID, number, mode, status, charCount,
	)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to record job page", err)
	}
	return nil
}

// Pages returns the per-page records of a job in page order.
func (s *Store) Pages(jobID string) ([]*PageRecord, error) {
	rows, err := s.db.Query(
		`SELECT job_id, page_number, mode, status, char_count
		 FROM job_pages WHERE job_id = ? ORDER BY page_number`,
		jobID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to list job pages", err)
	}
	defer rows.Close()

	var pages []*PageRecord
	for rows.Next() {
		var p PageRecord
		if err := rows.Scan(&p.JobID, &p.Number, &p.Mode, &p.Status, &p.CharCount); err != nil {
			return nil, types.NewAppError(types.ErrStorage, "failed to scan job page", err)
		}
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

// Fail moves a job to StatusFailed with its error classification. Jobs
// already terminal are left untouched.
func (s *Store) Fail(id string, code types.ErrorCode, message string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to begin fail", err)
	}
	defer tx.Rollback()

	var current Status
	err = tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewAppError(types.ErrNotFound, "job not found", err)
	}
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to read job status", err)
	}
	if current.Terminal() {
		return nil
	}

	_, err = tx.Exec(
		`UPDATE jobs SET status = ?, error_code = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, string(code), message, time.Now().UTC(), id,
	)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to mark job failed", err)
	}
	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to commit fail", err)
	}
	return nil
}

// MarkExpired moves a completed job to StatusExpired.
func (s *Store) MarkExpired(id string) error {
	return s.Transition(id, StatusExpired)
}

// ListActive returns ids of jobs in non-terminal states, oldest first.
// Used to resume work after a restart.
func (s *Store) ListActive() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM jobs WHERE status NOT IN (?, ?, ?) ORDER BY created_at`,
		StatusCompleted, StatusFailed, StatusExpired,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to list active jobs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrStorage, "failed to scan job id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExpired returns completed jobs whose expiry timestamp, fixed at
// creation, has passed as of asOf.
func (s *Store) ListExpired(asOf time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM jobs WHERE status = ? AND expires_at <= ?`,
		StatusCompleted, asOf,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to list expired jobs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrStorage, "failed to scan job id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByUser returns a user's jobs, newest first.
func (s *Store) ListByUser(userID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to list jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrStorage, "failed to scan job", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountByStatus returns job counts grouped by status.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to count jobs", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, types.NewAppError(types.ErrStorage, "failed to scan count", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// DB exposes the underlying handle for transactions spanning the job
// store and the credit ledger.
func (s *Store) DB() *sql.DB {
	return s.db
}
