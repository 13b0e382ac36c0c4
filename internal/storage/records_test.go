package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/postgres"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(postgres.NewFromDB(db)), mock
}

func sampleRecord() financial.StructuredRecord {
	return financial.StructuredRecord{
		Company:  "Apple Inc.",
		Metric:   "revenue",
		Value:    90_000_000_000,
		Currency: "USD",
		Period:   "2024-Q1",
		RawText:  "Apple reported revenue of $90B in Q1 2024",
		Metadata: map[string]any{
			financial.MetaRequestID:        "req-1",
			financial.MetaOriginalValueRaw: "$90B",
		},
	}
}

func TestStoreInsertsRecord(t *testing.T) {
	s, mock := newStore(t)
	r := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO financial_records")).
		WithArgs("req-1", r.Company, r.Metric, r.Value, r.Currency, r.Period, r.RawText, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	id, err := s.Store(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWithoutRequestID(t *testing.T) {
	s, mock := newStore(t)
	r := sampleRecord()
	r.Metadata = nil

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO financial_records")).
		WithArgs(nil, r.Company, r.Metric, r.Value, r.Currency, r.Period, r.RawText, "{}").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	id, err := s.Store(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		sentinel  error
	}{
		{"connection failure", &pq.Error{Code: "08006"}, true, apperrors.ErrStorageUnavailable},
		{"too many connections", &pq.Error{Code: "53300"}, true, apperrors.ErrStorageUnavailable},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true, apperrors.ErrStorageUnavailable},
		{"connection reset", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, true, apperrors.ErrStorageUnavailable},
		{"unexpected eof", io.ErrUnexpectedEOF, true, apperrors.ErrStorageUnavailable},
		{"invalid text", &pq.Error{Code: "22P02"}, false, apperrors.ErrValidation},
		{"not null violation", &pq.Error{Code: "23502"}, false, apperrors.ErrValidation},
		{"unknown", errors.New("syntax error"), false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newStore(t)
			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO financial_records")).WillReturnError(tt.err)
			mock.ExpectRollback()

			_, err := s.Store(context.Background(), sampleRecord())
			require.Error(t, err)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.Equal(t, tt.transient, apperrors.IsTransient(err))
		})
	}
}

func TestStoreBeginFailureIsTransient(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08003"})

	_, err := s.Store(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS financial_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS financial_records_request_id_idx")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
