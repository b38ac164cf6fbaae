package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	s, err := New(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return s, mock
}

func TestNewPingFailure(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	_, err = New(context.Background(), mock, zap.NewNop())
	assert.Error(t, err)
}

func TestAddAccount(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO accounts (email, password) VALUES ($1, $2) RETURNING id`)).
		WithArgs("a@example.com", "S3cret!pw").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := s.AddAccount(context.Background(), "a@example.com", "S3cret!pw")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkVerified(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET verified = TRUE, status = $2 WHERE id = $1`)).
		WithArgs(int64(42), "verified").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkVerified(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkVerifiedUnknownAccount(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET verified = TRUE`)).
		WithArgs(int64(99), "verified").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkVerified(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUnusedVerifiedAccounts(t *testing.T) {
	s, mock := newTestStore(t)

	created := time.Now()
	mock.ExpectQuery(`LEFT JOIN orders o ON o.account_id = a.id`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password", "verified", "status", "created_at"}).
			AddRow(int64(1), "a@example.com", "pw", true, "verified", created))

	accounts, err := s.ListUnusedVerifiedAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "a@example.com", accounts[0].Email)
	assert.Equal(t, schemas.AccountVerified, accounts[0].Status)
	assert.True(t, accounts[0].Verified)
}

func TestAddCardFirstBecomesDefault(t *testing.T) {
	s, mock := newTestStore(t)

	// The insert derives is_default from whether any card exists yet; the
	// query shape is the contract.
	mock.ExpectQuery(regexp.QuoteMeta(`NOT EXISTS (SELECT 1 FROM cards)`)).
		WithArgs("Holder", "4111111111111111", "11/27", "123").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	id, err := s.AddCard(context.Background(), schemas.PaymentCard{
		Name: "Holder", Number: "4111111111111111", Expiry: "11/27", CVV: "123",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDefaultCardNotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`WHERE is_default = TRUE`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "card_name", "card_number", "card_expiry", "card_cvv", "is_default", "created_at"}))

	_, err := s.GetDefaultCard(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetDefaultCardTransactional(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE cards SET is_default = FALSE WHERE is_default = TRUE`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE cards SET is_default = TRUE WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetDefaultCard(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDefaultCardUnknownIDRollsBack(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE cards SET is_default = FALSE`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE cards SET is_default = TRUE WHERE id = $1`)).
		WithArgs(int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SetDefaultCard(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOrderComplete(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET screenshot_path = $2, status = 'completed' WHERE id = $1`)).
		WithArgs(int64(3), "/tmp/artifacts/order_a_1.png").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkOrderComplete(context.Background(), 3, "/tmp/artifacts/order_a_1.png"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCardUnknownID(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM cards WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteCard(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}
