package transfer

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists transfer intents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transfer intent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transfer_intents table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transfer_intents (
			id             VARCHAR(40) PRIMARY KEY,
			amount         NUMERIC(12,2) NOT NULL CHECK (amount >= 0),
			memo           TEXT NOT NULL DEFAULT '',
			scheduled_at   TIMESTAMPTZ NOT NULL,
			status         VARCHAR(10) NOT NULL CHECK (status IN ('pending', 'completed', 'failed', 'cancelled')),
			failure_reason TEXT,
			external_tx_id VARCHAR(64),
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transfer_intents_status
			ON transfer_intents (status, scheduled_at DESC);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, intent *Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfer_intents (id, amount, memo, scheduled_at, status, failure_reason, external_tx_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
	`,
		intent.ID,
		intent.Amount,
		intent.Memo,
		intent.ScheduledAt,
		string(intent.Status),
		intent.FailureReason,
		intent.ExternalTxID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, intent *Intent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transfer_intents
		SET status = $2, failure_reason = NULLIF($3, ''), external_tx_id = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1
	`, intent.ID, string(intent.Status), intent.FailureReason, intent.ExternalTxID)
	if err != nil {
		return fmt.Errorf("failed to update transfer intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, amount, memo, scheduled_at, status, failure_reason, external_tx_id
		FROM transfer_intents
		WHERE id = $1
	`, id)

	intent, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	return intent, err
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, memo, scheduled_at, status, failure_reason, external_tx_id
		FROM transfer_intents
		ORDER BY scheduled_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			continue
		}
		result = append(result, intent)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*Intent, error) {
	var i Intent
	var status string
	var failureReason, externalTxID sql.NullString

	if err := row.Scan(&i.ID, &i.Amount, &i.Memo, &i.ScheduledAt, &status, &failureReason, &externalTxID); err != nil {
		return nil, err
	}
	i.Status = Status(status)
	i.FailureReason = failureReason.String
	i.ExternalTxID = externalTxID.String
	return &i, nil
}
