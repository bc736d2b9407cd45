// Package ledger tracks user credits. A debit reserves credits for a
// running job; completion captures the reservation, failure releases it.
// Every movement is a ledger row keyed by job id, so replays after a
// crash or a retried request never charge twice.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// Entry kinds.
const (
	KindGrant   = "grant"
	KindDebit   = "debit"
	KindCapture = "capture"
	KindRefund  = "refund"
)

// Entry is one ledger row. Amount is always positive; Kind determines the
// direction.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	JobID     string    `json:"job_id,omitempty"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Ledger manages credit accounts.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates the Ledger and ensures its schema.
func NewLedger(db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id  TEXT PRIMARY KEY,
			balance  INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			reserved INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS credit_ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			job_id     TEXT,
			kind       TEXT NOT NULL,
			amount     INTEGER NOT NULL CHECK (amount > 0),
			created_at TIMESTAMP NOT NULL,
			UNIQUE (job_id, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON credit_ledger (user_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return types.NewAppError(types.ErrStorage, "failed to create ledger schema", err)
		}
	}
	return nil
}

// Grant adds credits to a user, creating the account if needed.
func (l *Ledger) Grant(userID string, amount int64) error {
	if amount <= 0 {
		return types.NewAppError(types.ErrInternal, "grant amount must be positive", nil)
	}
	tx, err := l.db.Begin()
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to begin grant", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO accounts (user_id, balance) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET balance = balance + ?`,
		userID, amount, amount,
	); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to apply grant", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO credit_ledger (user_id, job_id, kind, amount, created_at)
		 VALUES (?, NULL, ?, ?, ?)`,
		userID, KindGrant, amount, time.Now().UTC(),
	); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to record grant", err)
	}
	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to commit grant", err)
	}
	logger.Info("credits granted", logger.String("userID", userID), logger.Int64("amount", amount))
	return nil
}

// Balance returns a user's available balance. Unknown users have balance 0.
func (l *Ledger) Balance(userID string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to read balance", err)
	}
	return balance, nil
}

// Reserved returns the credits currently held for a user's running jobs.
func (l *Ledger) Reserved(userID string) (int64, error) {
	var reserved int64
	err := l.db.QueryRow(`SELECT reserved FROM accounts WHERE user_id = ?`, userID).Scan(&reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to read reserved credits", err)
	}
	return reserved, nil
}

// DebitTx reserves amount for a job inside the caller's transaction,
// letting the caller commit the debit together with a job state change.
// The credits move from available to reserved; Capture burns them on
// completion, Refund releases them on failure. A repeated call for the
// same job id is a no-op.
func (l *Ledger) DebitTx(tx *sql.Tx, userID, jobID string, amount int64) error {
	return l.debit(tx, userID, jobID, amount)
}

// Debit is DebitTx in its own transaction.
func (l *Ledger) Debit(userID, jobID string, amount int64) error {
	tx, err := l.db.Begin()
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to begin debit", err)
	}
	defer tx.Rollback()
	if err := l.debit(tx, userID, jobID, amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to commit debit", err)
	}
	return nil
}

func (l *Ledger) debit(q querier, userID, jobID string, amount int64) error {
	if amount <= 0 {
		return types.NewAppError(types.ErrInternal, "debit amount must be positive", nil)
	}

	var existing int64
	err := q.QueryRow(
		`SELECT amount FROM credit_ledger WHERE job_id = ? AND kind = ?`,
		jobID, KindDebit,
	).Scan(&existing)
	if err == nil {
		logger.Debug("debit already applied", logger.String("jobID", jobID))
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.NewAppError(types.ErrStorage, "failed to check debit", err)
	}

	res, err := q.Exec(
		`UPDATE accounts SET balance = balance - ?, reserved = reserved + ?
		 WHERE user_id = ? AND balance >= ?`,
		amount, amount, userID, amount,
	)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to apply debit", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewAppErrorWithDetails(types.ErrInsufficientCredits,
			"insufficient credits", fmt.Sprintf("need %d", amount), nil)
	}

	if _, err := q.Exec(
		`INSERT INTO credit_ledger (user_id, job_id, kind, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, jobID, KindDebit, amount, time.Now().UTC(),
	); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to record debit", err)
	}

	logger.Info("credits debited",
		logger.String("userID", userID),
		logger.String("jobID", jobID),
		logger.Int64("amount", amount))
	return nil
}

// CaptureTx burns a job's reserved credits inside the caller's
// transaction, so the burn commits atomically with the move to Completed.
// The amount is read from the debit row; a job already captured is a
// no-op, a job never debited is an error.
func (l *Ledger) CaptureTx(tx *sql.Tx, userID, jobID string) error {
	var reserved int64
	err := tx.QueryRow(
		`SELECT amount FROM credit_ledger WHERE job_id = ? AND kind = ?`,
		jobID, KindDebit,
	).Scan(&reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewAppError(types.ErrInternal, "capture without a prior debit", nil)
	}
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to read debit for capture", err)
	}

	err = tx.QueryRow(
		`SELECT amount FROM credit_ledger WHERE job_id = ? AND kind = ?`,
		jobID, KindCapture,
	).Scan(new(int64))
	if err == nil {
		logger.Debug("capture already applied", logger.String("jobID", jobID))
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.NewAppError(types.ErrStorage, "failed to check capture", err)
	}

	res, err := tx.Exec(
		`UPDATE accounts SET reserved = reserved - ? WHERE user_id = ? AND reserved >= ?`,
		reserved, userID, reserved,
	)
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to apply capture", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewAppError(types.ErrInternal, "reserved credits below capture amount", nil)
	}

	if _, err := tx.Exec(
		`INSERT INTO credit_ledger (user_id, job_id, kind, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, jobID, KindCapture, reserved, time.Now().UTC(),
	); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to record capture", err)
	}

	logger.Info("credits captured",
		logger.String("userID", userID),
		logger.String("jobID", jobID),
		logger.Int64("amount", reserved))
	return nil
}

// Refund releases a failed job's reserved credits back to its user. The
// amount is read from the debit row, so the caller cannot refund more
// than was charged. Jobs never debited, already refunded, or already
// captured are no-ops; the refunded amount is returned.
func (l *Ledger) Refund(userID, jobID string) (int64, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to begin refund", err)
	}
	defer tx.Rollback()

	var debited int64
	err = tx.QueryRow(
		`SELECT amount FROM credit_ledger WHERE job_id = ? AND kind = ?`,
		jobID, KindDebit,
	).Scan(&debited)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to read debit for refund", err)
	}

	err = tx.QueryRow(
		`SELECT amount FROM credit_ledger WHERE job_id = ? AND kind IN (?, ?)`,
		jobID, KindRefund, KindCapture,
	).Scan(new(int64))
	if err == nil {
		logger.Debug("refund skipped, job already settled", logger.String("jobID", jobID))
		return 0, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, types.NewAppError(types.ErrStorage, "failed to check refund", err)
	}

	res, err := tx.Exec(
		`UPDATE accounts SET reserved = reserved - ?, balance = balance + ?
		 WHERE user_id = ? AND reserved >= ?`,
		debited, debited, userID, debited,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to apply refund", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, types.NewAppError(types.ErrInternal, "reserved credits below refund amount", nil)
	}
	if _, err := tx.Exec(
		`INSERT INTO credit_ledger (user_id, job_id, kind, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, jobID, KindRefund, debited, time.Now().UTC(),
	); err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to record refund", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, types.NewAppError(types.ErrStorage, "failed to commit refund", err)
	}

	logger.Info("credits refunded",
		logger.String("userID", userID),
		logger.String("jobID", jobID),
		logger.Int64("amount", debited))
	return debited, nil
}

// History returns the most recent ledger entries for a user, newest first.
func (l *Ledger) History(userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		`SELECT id, user_id, COALESCE(job_id, ''), kind, amount, created_at
		 FROM credit_ledger WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to read ledger history", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.Kind, &e.Amount, &e.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrStorage, "failed to scan ledger entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrStorage, "failed to iterate ledger history", err)
	}
	return entries, nil
}

// DB exposes the underlying handle for callers that need to run a debit
// inside a larger transaction.
func (l *Ledger) DB() *sql.DB {
	return l.db
}
