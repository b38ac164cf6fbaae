// Package store is the PostgreSQL persistence layer for accounts, orders and
// payment cards.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL,
			password TEXT NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(id),
			product_details TEXT NOT NULL,
			screenshot_path TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id BIGSERIAL PRIMARY KEY,
			card_name TEXT NOT NULL,
			card_number TEXT NOT NULL,
			card_expiry TEXT NOT NULL,
			card_cvv TEXT NOT NULL,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: running migration: %w", err)
		}
	}
	s.log.Info("Schema migration completed.")
	return nil
}

// AddAccount inserts a freshly registered account in pending state.
func (s *Store) AddAccount(ctx context.Context, email, password string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (email, password) VALUES ($1, $2) RETURNING id`,
		email, password,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: inserting account: %w", err)
	}
	return id, nil
}

// MarkVerified flips an account to verified after the operator confirms the
// verification email.
func (s *Store) MarkVerified(ctx context.Context, accountID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET verified = TRUE, status = $2 WHERE id = $1`,
		accountID, string(schemas.AccountVerified),
	)
	if err != nil {
		return fmt.Errorf("store: marking account verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %d", ErrNotFound, accountID)
	}
	return nil
}

// ListAccounts returns all accounts, newest first.
func (s *Store) ListAccounts(ctx context.Context) ([]schemas.AccountRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, password, verified, status, created_at
		 FROM accounts ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListUnusedVerifiedAccounts returns verified accounts with no order attached,
// the only accounts eligible to start an order run.
func (s *Store) ListUnusedVerifiedAccounts(ctx context.Context) ([]schemas.AccountRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.email, a.password, a.verified, a.status, a.created_at
		 FROM accounts a
		 LEFT JOIN orders o ON o.account_id = a.id
		 WHERE a.verified = TRUE AND o.id IS NULL
		 ORDER BY a.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing unused verified accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func scanAccounts(rows pgx.Rows) ([]schemas.AccountRecord, error) {
	var accounts []schemas.AccountRecord
	for rows.Next() {
		var a schemas.AccountRecord
		var status string
		if err := rows.Scan(&a.ID, &a.Email, &a.Password, &a.Verified, &status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning account row: %w", err)
		}
		a.Status = schemas.AccountStatus(status)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating account rows: %w", err)
	}
	return accounts, nil
}

// CreateOrder records a new order run at submission time.
func (s *Store) CreateOrder(ctx context.Context, accountID int64, productDetails string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO orders (account_id, product_details) VALUES ($1, $2) RETURNING id`,
		accountID, productDetails,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: inserting order: %w", err)
	}
	return id, nil
}

// MarkOrderComplete stores the proof screenshot and flips the order status.
func (s *Store) MarkOrderComplete(ctx context.Context, orderID int64, artifactPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET screenshot_path = $2, status = 'completed' WHERE id = $1`,
		orderID, artifactPath,
	)
	if err != nil {
		return fmt.Errorf("store: completing order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	return nil
}

// AddCard stores a payment instrument. The first card ever added becomes the
// default automatically so an order can always resolve an instrument.
func (s *Store) AddCard(ctx context.Context, card schemas.PaymentCard) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cards (card_name, card_number, card_expiry, card_cvv, is_default)
		 SELECT $1, $2, $3, $4, NOT EXISTS (SELECT 1 FROM cards)
		 RETURNING id`,
		card.Name, card.Number, card.Expiry, card.CVV,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: inserting card: %w", err)
	}
	return id, nil
}

// ListCards returns all stored cards, default first.
func (s *Store) ListCards(ctx context.Context) ([]schemas.PaymentCard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, card_name, card_number, card_expiry, card_cvv, is_default, created_at
		 FROM cards ORDER BY is_default DESC, created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing cards: %w", err)
	}
	defer rows.Close()

	var cards []schemas.PaymentCard
	for rows.Next() {
		var c schemas.PaymentCard
		if err := rows.Scan(&c.ID, &c.Name, &c.Number, &c.Expiry, &c.CVV, &c.IsDefault, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning card row: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating card rows: %w", err)
	}
	return cards, nil
}

// GetDefaultCard returns the single default card, or ErrNotFound when none is
// configured.
func (s *Store) GetDefaultCard(ctx context.Context) (schemas.PaymentCard, error) {
	var c schemas.PaymentCard
	err := s.pool.QueryRow(ctx,
		`SELECT id, card_name, card_number, card_expiry, card_cvv, is_default, created_at
		 FROM cards WHERE is_default = TRUE`,
	).Scan(&c.ID, &c.Name, &c.Number, &c.Expiry, &c.CVV, &c.IsDefault, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.PaymentCard{}, fmt.Errorf("%w: no default card", ErrNotFound)
		}
		return schemas.PaymentCard{}, fmt.Errorf("store: fetching default card: %w", err)
	}
	return c, nil
}

// SetDefaultCard promotes a card to default. Clearing the previous default and
// setting the new one happen in one transaction so there is never more, or
// less, than one default visible.
func (s *Store) SetDefaultCard(ctx context.Context, cardID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `UPDATE cards SET is_default = FALSE WHERE is_default = TRUE`); err != nil {
		return fmt.Errorf("store: clearing previous default: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE cards SET is_default = TRUE WHERE id = $1`, cardID)
	if err != nil {
		return fmt.Errorf("store: setting default card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: card %d", ErrNotFound, cardID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: committing default card change: %w", err)
	}
	return nil
}

// DeleteCard removes a stored card.
func (s *Store) DeleteCard(ctx context.Context, cardID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cards WHERE id = $1`, cardID)
	if err != nil {
		return fmt.Errorf("store: deleting card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: card %d", ErrNotFound, cardID)
	}
	return nil
}
