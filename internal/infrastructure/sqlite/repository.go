package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/imthegoodboy/Paylink/internal/application"
	"github.com/imthegoodboy/Paylink/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository is the single-node store backend. Same contracts as the
// MySQL backend; amounts are kept as text since SQLite has no exact
// wide-decimal type.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent inserts.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash TEXT NOT NULL UNIQUE,
			payer TEXT NOT NULL,
			receiver TEXT NOT NULL,
			token TEXT NOT NULL,
			amount TEXT NOT NULL,
			slug TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			occurred_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS payments_slug_idx ON payments (slug, id)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			slug TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			state_key TEXT PRIMARY KEY,
			state_value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) InsertIfAbsent(ctx context.Context, payment domain.Payment) (bool, error) {
	if _, err := application.ParseAmount(payment.Amount); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `INSERT INTO payments (tx_hash, payer, receiver, token, amount, slug, memo, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO NOTHING`,
		payment.TxHash, payment.Payer, payment.Receiver, payment.Token, payment.Amount, payment.Slug, payment.Memo, payment.OccurredAt)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *Repository) ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > application.MaxListLimit {
		limit = application.DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `SELECT tx_hash, payer, receiver, token, amount, slug, memo, occurred_at
		FROM payments WHERE slug = ? ORDER BY id DESC LIMIT ?`, slug, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.TxHash, &p.Payer, &p.Receiver, &p.Token, &p.Amount, &p.Slug, &p.Memo, &p.OccurredAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *Repository) Summarize(ctx context.Context, slug string, now time.Time) (domain.SlugSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT tx_hash, amount, occurred_at FROM payments WHERE slug = ?`, slug)
	if err != nil {
		return domain.SlugSummary{}, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.TxHash, &p.Amount, &p.OccurredAt); err != nil {
			return domain.SlugSummary{}, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return domain.SlugSummary{}, err
	}
	return application.Summarize(payments, now)
}

func (r *Repository) AccountBySlug(ctx context.Context, slug string) (domain.Account, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var account domain.Account
	err := r.db.QueryRowContext(ctx, `SELECT slug, wallet_address, display_name FROM accounts WHERE slug = ?`, slug).
		Scan(&account.Slug, &account.WalletAddress, &account.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	return account, true, nil
}

// UpsertAccount exists for seeding and tests; account lifecycle is
// otherwise owned upstream.
func (r *Repository) UpsertAccount(ctx context.Context, account domain.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (slug, wallet_address, display_name) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET wallet_address = excluded.wallet_address, display_name = excluded.display_name`,
		account.Slug, account.WalletAddress, account.DisplayName)
	return err
}

const cursorKey = "watcher:last_block"

func (r *Repository) LastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, cursorKey).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var block uint64
	if _, err := fmt.Sscanf(value, "%d", &block); err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (r *Repository) SetLastProcessedBlock(ctx context.Context, block uint64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON CONFLICT(state_key) DO UPDATE SET state_value = excluded.state_value`, cursorKey, fmt.Sprintf("%d", block))
	return err
}

func (r *Repository) ClearLastProcessedBlock(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM state WHERE state_key = ?`, cursorKey)
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
