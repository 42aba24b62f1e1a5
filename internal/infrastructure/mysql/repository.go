package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/imthegoodboy/Paylink/internal/application"
	"github.com/imthegoodboy/Paylink/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			tx_hash VARCHAR(66) NOT NULL,
			payer VARCHAR(42) NOT NULL,
			receiver VARCHAR(42) NOT NULL,
			token VARCHAR(42) NOT NULL,
			amount DECIMAL(65,0) NOT NULL,
			slug VARCHAR(128) NOT NULL,
			memo VARCHAR(512) NOT NULL DEFAULT '',
			occurred_at BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY payments_tx_unique (tx_hash),
			KEY payments_slug_idx (slug, id)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			slug VARCHAR(128) NOT NULL,
			wallet_address VARCHAR(42) NOT NULL,
			display_name VARCHAR(128) NOT NULL DEFAULT '',
			PRIMARY KEY (slug)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			state_key VARCHAR(64) NOT NULL,
			state_value VARCHAR(64) NOT NULL,
			PRIMARY KEY (state_key)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertIfAbsent relies on the tx_hash uniqueness constraint: when two
// writers race on the same hash, one row wins and the other sees an
// affected count of zero, never an error.
func (r *Repository) InsertIfAbsent(ctx context.Context, payment domain.Payment) (bool, error) {
	if _, err := application.ParseAmount(payment.Amount); err != nil {
		return false, err
	}
	ctx, span := startDBSpan(ctx, "mysql.InsertIfAbsent",
		attribute.String("tx.hash", payment.TxHash),
		attribute.String("slug", payment.Slug),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO payments (tx_hash, payer, receiver, token, amount, slug, memo, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.TxHash, payment.Payer, payment.Receiver, payment.Token, payment.Amount, payment.Slug, payment.Memo, payment.OccurredAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("payment.inserted", affected > 0))
	return affected > 0, nil
}

func (r *Repository) ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Payment, error) {
	ctx, span := startDBSpan(ctx, "mysql.ListBySlug", attribute.String("slug", slug))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > application.MaxListLimit {
		limit = application.DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `SELECT tx_hash, payer, receiver, token, amount, slug, memo, occurred_at
		FROM payments WHERE slug = ? ORDER BY id DESC LIMIT ?`, slug, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.TxHash, &p.Payer, &p.Receiver, &p.Token, &p.Amount, &p.Slug, &p.Memo, &p.OccurredAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return payments, nil
}

// Summarize recomputes from raw rows each call. The interface boundary
// allows a counter table maintained alongside InsertIfAbsent to replace
// this without changing readers.
func (r *Repository) Summarize(ctx context.Context, slug string, now time.Time) (domain.SlugSummary, error) {
	ctx, span := startDBSpan(ctx, "mysql.Summarize", attribute.String("slug", slug))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT tx_hash, amount, occurred_at FROM payments WHERE slug = ?`, slug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.SlugSummary{}, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.TxHash, &p.Amount, &p.OccurredAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return domain.SlugSummary{}, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
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
	ctx, span := startDBSpan(ctx, "mysql.SetLastProcessedBlock",
		attribute.Int64("block.number", int64(block)),
	)
	defer span.End()
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = VALUES(state_value)`, cursorKey, fmt.Sprintf("%d", block))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Repository) ClearLastProcessedBlock(ctx context.Context) error {
	ctx, span := startDBSpan(ctx, "mysql.ClearLastProcessedBlock")
	defer span.End()
	_, err := r.db.ExecContext(ctx, `DELETE FROM state WHERE state_key = ?`, cursorKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("paylink/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
