package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists security events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed security event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the security_events table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS security_events (
			id               VARCHAR(40) PRIMARY KEY,
			seq              BIGINT NOT NULL,
			kind             VARCHAR(24) NOT NULL,
			severity         VARCHAR(10) NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			actor_id         VARCHAR(64),
			source_address   VARCHAR(64),
			client_signature TEXT,
			details          JSONB NOT NULL DEFAULT '{}',
			origin           VARCHAR(32),
			resolved         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_security_events_seq
			ON security_events (seq DESC);

		CREATE INDEX IF NOT EXISTS idx_security_events_source
			ON security_events (source_address, seq DESC);

		CREATE INDEX IF NOT EXISTS idx_security_events_unresolved
			ON security_events (seq DESC) WHERE NOT resolved;
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, event *Event) error {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_events
			(id, seq, kind, severity, actor_id, source_address, client_signature, details, origin, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		event.ID,
		event.Seq,
		string(event.Kind),
		string(event.Severity),
		nullable(event.ActorID),
		nullable(event.SourceAddress),
		nullable(event.ClientSignature),
		detailsJSON,
		nullable(event.Origin),
		event.Resolved,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkResolved(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE security_events SET resolved = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve security event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, kind, severity, actor_id, source_address, client_signature, details, origin, resolved, created_at
		FROM security_events
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var e Event
		var actorID, sourceAddr, clientSig, origin sql.NullString
		var detailsJSON []byte

		if err := rows.Scan(&e.ID, &e.Seq, &e.Kind, &e.Severity, &actorID, &sourceAddr,
			&clientSig, &detailsJSON, &origin, &e.Resolved, &e.Timestamp); err != nil {
			continue
		}
		e.ActorID = actorID.String
		e.SourceAddress = sourceAddr.String
		e.ClientSignature = clientSig.String
		e.Origin = origin.String
		if len(detailsJSON) > 0 {
			e.Details = make(map[string]any)
			_ = json.Unmarshal(detailsJSON, &e.Details)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
