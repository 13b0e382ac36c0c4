// Package storage persists StructuredRecords to PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS financial_records (
	id          BIGSERIAL PRIMARY KEY,
	request_id  TEXT,
	company     TEXT NOT NULL,
	metric      TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	currency    TEXT NOT NULL,
	period      TEXT NOT NULL,
	raw_text    TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS financial_records_request_id_idx ON financial_records (request_id)`,
}

const insertRecord = `INSERT INTO financial_records
	(request_id, company, metric, value, currency, period, raw_text, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

// Store writes records to the financial_records table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "storage"),
	}
}

// EnsureSchema creates the records table and its index if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classify(fmt.Errorf("creating financial_records schema: %w", err))
	}
	return nil
}

// Store inserts record and returns its id. Connectivity problems are
// ErrStorageUnavailable; rejected data is ErrValidation.
func (s *Store) Store(ctx context.Context, record financial.StructuredRecord) (string, error) {
	meta := record.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, fmt.Errorf("encoding metadata: %w", err))
	}

	var id int64
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, insertRecord,
			requestID(meta),
			record.Company,
			record.Metric,
			record.Value,
			record.Currency,
			record.Period,
			record.RawText,
			string(metaJSON),
		).Scan(&id)
	})
	if err != nil {
		return "", classify(fmt.Errorf("inserting financial record: %w", err))
	}
	s.logger.Debug("record stored", "id", id, "company", record.Company, "metric", record.Metric)
	return strconv.FormatInt(id, 10), nil
}

func requestID(meta map[string]any) sql.NullString {
	id, _ := meta[financial.MetaRequestID].(string)
	if id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: id, Valid: true}
}

// classify tags err with the storage sentinel matching its cause.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57", "58":
			return apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
		case "22", "23":
			return apperrors.Wrap(apperrors.ErrValidation, err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
	}
	return err
}
