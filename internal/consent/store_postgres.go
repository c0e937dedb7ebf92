package consent

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

// PostgresStore persists consent state. Schema:
//
//	CREATE TABLE consent_requests (
//	    id            TEXT PRIMARY KEY,
//	    remote_id     TEXT UNIQUE,
//	    abha_number   TEXT NOT NULL DEFAULT '',
//	    patient       TEXT NOT NULL DEFAULT '',
//	    requester     TEXT NOT NULL DEFAULT '',
//	    purpose       TEXT NOT NULL,
//	    hi_types      JSONB NOT NULL,
//	    access_mode   TEXT NOT NULL,
//	    range_from    TIMESTAMPTZ NOT NULL,
//	    range_to      TIMESTAMPTZ NOT NULL,
//	    data_erase_at TIMESTAMPTZ NOT NULL,
//	    frequency     JSONB NOT NULL,
//	    status        TEXT NOT NULL,
//	    status_reason TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE consent_artefacts (
//	    id             TEXT PRIMARY KEY,
//	    request_id     TEXT NOT NULL REFERENCES consent_requests(id),
//	    status         TEXT NOT NULL,
//	    signature      TEXT NOT NULL DEFAULT '',
//	    detail         JSONB,
//	    purpose        TEXT NOT NULL,
//	    hi_types       JSONB NOT NULL,
//	    access_mode    TEXT NOT NULL,
//	    range_from     TIMESTAMPTZ NOT NULL,
//	    range_to       TIMESTAMPTZ NOT NULL,
//	    data_erase_at  TIMESTAMPTZ NOT NULL,
//	    frequency      JSONB NOT NULL,
//	    care_contexts  JSONB NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveRequest(ctx context.Context, request *ConsentRequest) error {
	hiTypes, err := json.Marshal(request.HiTypes)
	if err != nil {
		return fmt.Errorf("encode hi types: %w", err)
	}
	frequency, err := json.Marshal(request.Frequency)
	if err != nil {
		return fmt.Errorf("encode frequency: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO consent_requests (
			id, remote_id, abha_number, patient, requester, purpose, hi_types,
			access_mode, range_from, range_to, data_erase_at, frequency,
			status, status_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			remote_id = EXCLUDED.remote_id,
			status = EXCLUDED.status,
			status_reason = EXCLUDED.status_reason,
			updated_at = EXCLUDED.updated_at`,
		request.ID.String(), nullable(request.RemoteID.String()), request.AbhaNumber,
		request.Patient, request.Requester, request.Purpose.String(), hiTypes,
		request.AccessMode.String(), request.DateRange.From, request.DateRange.To,
		request.DataEraseAt, frequency, request.Status.String(),
		request.StatusReason, request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save consent request: %w", err)
	}
	return nil
}

const requestColumns = `
	id, COALESCE(remote_id, ''), abha_number, patient, requester, purpose,
	hi_types, access_mode, range_from, range_to, data_erase_at, frequency,
	status, status_reason, created_at, updated_at`

func (s *PostgresStore) FindRequest(ctx context.Context, id domain.RequestID) (*ConsentRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM consent_requests WHERE id = $1`, id.String())
	return scanRequest(row)
}

func (s *PostgresStore) FindRequestByRemoteID(ctx context.Context, id domain.ConsentRequestID) (*ConsentRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM consent_requests WHERE remote_id = $1`, id.String())
	return scanRequest(row)
}

func scanRequest(row pgx.Row) (*ConsentRequest, error) {
	var (
		request            ConsentRequest
		id, remoteID       string
		purpose, mode, st  string
		hiTypes, frequency []byte
	)
	err := row.Scan(
		&id, &remoteID, &request.AbhaNumber, &request.Patient, &request.Requester,
		&purpose, &hiTypes, &mode, &request.DateRange.From, &request.DateRange.To,
		&request.DataEraseAt, &frequency, &st, &request.StatusReason,
		&request.CreatedAt, &request.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent request: %w", err)
	}
	request.ID = domain.RequestID(id)
	request.RemoteID = domain.ConsentRequestID(remoteID)
	request.Purpose = domain.Purpose(purpose)
	request.AccessMode = domain.AccessMode(mode)
	request.Status = domain.ConsentStatus(st)
	if err := json.Unmarshal(hiTypes, &request.HiTypes); err != nil {
		return nil, fmt.Errorf("decode hi types: %w", err)
	}
	if err := json.Unmarshal(frequency, &request.Frequency); err != nil {
		return nil, fmt.Errorf("decode frequency: %w", err)
	}
	return &request, nil
}

func (s *PostgresStore) SaveArtefact(ctx context.Context, artefact *ConsentArtefact) error {
	hiTypes, err := json.Marshal(artefact.HiTypes)
	if err != nil {
		return fmt.Errorf("encode hi types: %w", err)
	}
	frequency, err := json.Marshal(artefact.Frequency)
	if err != nil {
		return fmt.Errorf("encode frequency: %w", err)
	}
	careContexts, err := json.Marshal(artefact.CareContexts)
	if err != nil {
		return fmt.Errorf("encode care contexts: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO consent_artefacts (
			id, request_id, status, signature, detail, purpose, hi_types,
			access_mode, range_from, range_to, data_erase_at, frequency,
			care_contexts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			signature = EXCLUDED.signature,
			detail = EXCLUDED.detail,
			purpose = EXCLUDED.purpose,
			hi_types = EXCLUDED.hi_types,
			access_mode = EXCLUDED.access_mode,
			range_from = EXCLUDED.range_from,
			range_to = EXCLUDED.range_to,
			data_erase_at = EXCLUDED.data_erase_at,
			frequency = EXCLUDED.frequency,
			care_contexts = EXCLUDED.care_contexts,
			updated_at = EXCLUDED.updated_at`,
		artefact.ID.String(), artefact.ConsentRequestID.String(),
		artefact.Status.String(), artefact.Signature, []byte(artefact.Detail),
		artefact.Purpose.String(), hiTypes, artefact.AccessMode.String(),
		artefact.DateRange.From, artefact.DateRange.To, artefact.DataEraseAt,
		frequency, careContexts, artefact.CreatedAt, artefact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save consent artefact: %w", err)
	}
	return nil
}

const artefactColumns = `
	id, request_id, status, signature, COALESCE(detail, 'null'::jsonb),
	purpose, hi_types, access_mode, range_from, range_to, data_erase_at,
	frequency, care_contexts, created_at, updated_at`

func (s *PostgresStore) FindArtefact(ctx context.Context, id domain.ArtefactID) (*ConsentArtefact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artefactColumns+` FROM consent_artefacts WHERE id = $1`, id.String())
	return scanArtefact(row)
}

func (s *PostgresStore) ListArtefactsByRequest(ctx context.Context, requestID domain.RequestID) ([]*ConsentArtefact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artefactColumns+` FROM consent_artefacts WHERE request_id = $1 ORDER BY created_at`,
		requestID.String())
	if err != nil {
		return nil, fmt.Errorf("list consent artefacts: %w", err)
	}
	defer rows.Close()
	var out []*ConsentArtefact
	for rows.Next() {
		artefact, err := scanArtefact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artefact)
	}
	return out, rows.Err()
}

func scanArtefact(row pgx.Row) (*ConsentArtefact, error) {
	var (
		artefact                        ConsentArtefact
		id, requestID, st, purpose      string
		mode                            string
		detail, hiTypes, frequency, ccs []byte
	)
	err := row.Scan(
		&id, &requestID, &st, &artefact.Signature, &detail, &purpose, &hiTypes,
		&mode, &artefact.DateRange.From, &artefact.DateRange.To,
		&artefact.DataEraseAt, &frequency, &ccs,
		&artefact.CreatedAt, &artefact.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent artefact: %w", err)
	}
	artefact.ID = domain.ArtefactID(id)
	artefact.ConsentRequestID = domain.RequestID(requestID)
	artefact.Status = domain.ConsentStatus(st)
	artefact.Purpose = domain.Purpose(purpose)
	artefact.AccessMode = domain.AccessMode(mode)
	if string(detail) != "null" {
		artefact.Detail = json.RawMessage(detail)
	}
	if err := json.Unmarshal(hiTypes, &artefact.HiTypes); err != nil {
		return nil, fmt.Errorf("decode hi types: %w", err)
	}
	if err := json.Unmarshal(frequency, &artefact.Frequency); err != nil {
		return nil, fmt.Errorf("decode frequency: %w", err)
	}
	if err := json.Unmarshal(ccs, &artefact.CareContexts); err != nil {
		return nil, fmt.Errorf("decode care contexts: %w", err)
	}
	return &artefact, nil
}

// nullable converts empty strings to NULL so the remote_id unique index
// ignores requests not yet acknowledged.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
