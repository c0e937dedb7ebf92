package dataflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coronasafe/care-abdm/pkg/domain"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

// PostgresStore persists data-flow sessions. Schema:
//
//	CREATE TABLE data_flow_requests (
//	    transaction_id TEXT PRIMARY KEY,
//	    artefact_id    TEXT NOT NULL,
//	    status         TEXT NOT NULL,
//	    status_reason  TEXT NOT NULL DEFAULT '',
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL,
//	    deadline       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX data_flow_requests_artefact_idx ON data_flow_requests (artefact_id);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveRequest(ctx context.Context, request *DataFlowRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO data_flow_requests
		    (transaction_id, artefact_id, status, status_reason, created_at, updated_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO UPDATE SET
		    status        = EXCLUDED.status,
		    status_reason = EXCLUDED.status_reason,
		    updated_at    = EXCLUDED.updated_at`,
		request.TransactionID.String(),
		request.ArtefactID.String(),
		string(request.Status),
		request.StatusReason,
		request.CreatedAt,
		request.UpdatedAt,
		request.Deadline,
	)
	if err != nil {
		return fmt.Errorf("upsert data_flow_requests: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRequest(ctx context.Context, id domain.TransactionID) (*DataFlowRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT transaction_id, artefact_id, status, status_reason, created_at, updated_at, deadline
		FROM data_flow_requests
		WHERE transaction_id = $1`,
		id.String(),
	)
	return scanRequest(row)
}

func (s *PostgresStore) FindActiveByArtefact(ctx context.Context, id domain.ArtefactID) (*DataFlowRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT transaction_id, artefact_id, status, status_reason, created_at, updated_at, deadline
		FROM data_flow_requests
		WHERE artefact_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1`,
		id.String(),
		string(SessionRequested),
		string(SessionAcknowledged),
	)
	return scanRequest(row)
}

func scanRequest(row pgx.Row) (*DataFlowRequest, error) {
	var (
		request    DataFlowRequest
		txnID      string
		artefactID string
		status     string
	)
	err := row.Scan(
		&txnID,
		&artefactID,
		&status,
		&request.StatusReason,
		&request.CreatedAt,
		&request.UpdatedAt,
		&request.Deadline,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan data_flow_requests: %w", err)
	}
	request.TransactionID = domain.TransactionID(txnID)
	request.ArtefactID = domain.ArtefactID(artefactID)
	request.Status = SessionStatus(status)
	return &request, nil
}

// PostgresRecordStore persists completed records. Schema:
//
//	CREATE TABLE health_records (
//	    transaction_id TEXT PRIMARY KEY,
//	    artefact_id    TEXT NOT NULL,
//	    entries        JSONB NOT NULL,
//	    key_material   JSONB NOT NULL,
//	    page_count     INT NOT NULL,
//	    completed_at   TIMESTAMPTZ NOT NULL
//	);
type PostgresRecordStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRecordStore(pool *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{pool: pool}
}

func (s *PostgresRecordStore) SaveRecord(ctx context.Context, record *HealthRecord) error {
	entries, err := json.Marshal(record.Entries)
	if err != nil {
		return fmt.Errorf("marshal record entries: %w", err)
	}
	material, err := json.Marshal(record.KeyMaterial)
	if err != nil {
		return fmt.Errorf("marshal key material: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO health_records
		    (transaction_id, artefact_id, entries, key_material, page_count, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_id) DO NOTHING`,
		record.TransactionID.String(),
		record.ArtefactID.String(),
		entries,
		material,
		record.PageCount,
		record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert health_records: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) FindRecord(ctx context.Context, id domain.TransactionID) (*HealthRecord, error) {
	var (
		record     HealthRecord
		txnID      string
		artefactID string
		entries    []byte
		material   []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT transaction_id, artefact_id, entries, key_material, page_count, completed_at
		FROM health_records
		WHERE transaction_id = $1`,
		id.String(),
	).Scan(&txnID, &artefactID, &entries, &material, &record.PageCount, &record.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan health_records: %w", err)
	}
	if err := json.Unmarshal(entries, &record.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal record entries: %w", err)
	}
	if err := json.Unmarshal(material, &record.KeyMaterial); err != nil {
		return nil, fmt.Errorf("unmarshal key material: %w", err)
	}
	record.TransactionID = domain.TransactionID(txnID)
	record.ArtefactID = domain.ArtefactID(artefactID)
	return &record, nil
}
