package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &SQLStore{sqlQuerier: sqlQuerier{run: db, d: &postgresDialect}, db: db}, mock
}

func TestPostgres_GetDeal(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+dealColumns+` FROM deals WHERE id = $1`)).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "state", "stress_mode", "is_draft", "created_at", "updated_at",
		}).AddRow("d-1", "Riverside", "UnderReview", "SM0", false, now, now))

	got, err := s.GetDeal(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, "Riverside", got.Name)
	assert.Equal(t, "UnderReview", string(got.State))
	assert.False(t, got.IsDraft)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithDealTxLocksRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM deals WHERE id = $1 FOR UPDATE`)).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectCommit()

	err := s.WithDealTx(context.Background(), "d-1", func(q Querier) error { return nil })
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithDealTxUnknownDeal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM deals WHERE id = $1 FOR UPDATE`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.WithDealTx(context.Background(), "missing", func(q Querier) error {
		t.Fatal("fn must not run when the deal row is absent")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithDealTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM deals WHERE id = $1 FOR UPDATE`)).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectRollback()

	err := s.WithDealTx(context.Background(), "d-1", func(q Querier) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UniqueViolationMapsToDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	deal := newTestDeal("dup")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO deals`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateDeal(context.Background(), deal)
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}
