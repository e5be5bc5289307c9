package dossier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the dossier tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS user_dossier (
    user_id          UUID PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT 'L''élève',
    respect_score    INT NOT NULL DEFAULT 50,
    session_count    INT NOT NULL DEFAULT 0,
    last_interaction TIMESTAMPTZ NOT NULL DEFAULT now(),
    common_mistakes  JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS conversations (
    id                  BIGSERIAL PRIMARY KEY,
    user_id             UUID NOT NULL REFERENCES user_dossier(user_id),
    session_id          UUID NOT NULL,
    user_message        TEXT NOT NULL,
    ai_response         TEXT NOT NULL,
    respect_change      INT NOT NULL DEFAULT 0,
    respect_score_after INT NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversations_session_id ON conversations(session_id, created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// dossier tables and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("dossier: migrate: %w", err)
	}
	return nil
}

// Get implements [Store]. Unknown learners are inserted with defaults so the
// caller always gets a row back.
func (s *PostgresStore) Get(ctx context.Context, userID uuid.UUID) (*Dossier, error) {
	d := &Dossier{UserID: userID}
	var mistakesJSON []byte

	err := s.db.QueryRow(ctx,
		`SELECT name, respect_score, session_count, last_interaction, common_mistakes
		 FROM user_dossier WHERE user_id = $1`,
		userID,
	).Scan(&d.Name, &d.RespectScore, &d.SessionCount, &d.LastInteraction, &mistakesJSON)

	if errors.Is(err, pgx.ErrNoRows) {
		return s.create(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("dossier: get %s: %w", userID, err)
	}

	if len(mistakesJSON) > 0 {
		if err := json.Unmarshal(mistakesJSON, &d.CommonMistakes); err != nil {
			return nil, fmt.Errorf("dossier: unmarshal common_mistakes for %s: %w", userID, err)
		}
	}
	return d, nil
}

// create inserts a default dossier row. A concurrent insert for the same user
// is tolerated via ON CONFLICT and resolved by re-reading.
func (s *PostgresStore) create(ctx context.Context, userID uuid.UUID) (*Dossier, error) {
	d := &Dossier{UserID: userID}

	err := s.db.QueryRow(ctx,
		`INSERT INTO user_dossier (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING name, respect_score, session_count, last_interaction`,
		userID,
	).Scan(&d.Name, &d.RespectScore, &d.SessionCount, &d.LastInteraction)
	if err != nil {
		return nil, fmt.Errorf("dossier: create %s: %w", userID, err)
	}
	return d, nil
}

// SetScore implements [Store]. The clamp happens in SQL so a racing writer
// cannot slip an out-of-range value past the Go-side check.
func (s *PostgresStore) SetScore(ctx context.Context, userID uuid.UUID, score int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE user_dossier
		 SET respect_score = LEAST(100, GREATEST(0, $2::int)), last_interaction = now()
		 WHERE user_id = $1`,
		userID, score,
	)
	if err != nil {
		return fmt.Errorf("dossier: set score for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dossier: set score: no dossier for %s", userID)
	}
	return nil
}

// IncrementSessions implements [Store].
func (s *PostgresStore) IncrementSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE user_dossier SET session_count = session_count + 1 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("dossier: increment sessions for %s: %w", userID, err)
	}
	return nil
}

// SetCommonMistakes implements [Store].
func (s *PostgresStore) SetCommonMistakes(ctx context.Context, userID uuid.UUID, mistakes []string) error {
	if mistakes == nil {
		mistakes = []string{}
	}
	payload, err := json.Marshal(mistakes)
	if err != nil {
		return fmt.Errorf("dossier: marshal common_mistakes: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE user_dossier SET common_mistakes = $2 WHERE user_id = $1`,
		userID, payload,
	)
	if err != nil {
		return fmt.Errorf("dossier: set common_mistakes for %s: %w", userID, err)
	}
	return nil
}

// AppendTurn implements [Store].
func (s *PostgresStore) AppendTurn(ctx context.Context, turn *Turn) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO conversations
		   (user_id, session_id, user_message, ai_response, respect_change, respect_score_after)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		turn.UserID, turn.SessionID, turn.UserMessage, turn.CharacterResponse,
		turn.RespectDelta, Clamp(turn.RespectScoreAfter),
	).Scan(&turn.ID, &turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("dossier: append turn for %s: %w", turn.UserID, err)
	}
	return nil
}

// TurnsBySession implements [Store].
func (s *PostgresStore) TurnsBySession(ctx context.Context, sessionID uuid.UUID) ([]Turn, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, session_id, user_message, ai_response, respect_change, respect_score_after, created_at
		 FROM conversations WHERE session_id = $1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("dossier: turns for session %s: %w", sessionID, err)
	}
	return scanTurns(rows)
}

// RecentTurns implements [Store].
func (s *PostgresStore) RecentTurns(ctx context.Context, userID uuid.UUID, limit int) ([]Turn, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, session_id, user_message, ai_response, respect_change, respect_score_after, created_at
		 FROM conversations WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dossier: recent turns for %s: %w", userID, err)
	}
	return scanTurns(rows)
}

func scanTurns(rows pgx.Rows) ([]Turn, error) {
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.SessionID, &t.UserMessage, &t.CharacterResponse,
			&t.RespectDelta, &t.RespectScoreAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("dossier: scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dossier: iterate turns: %w", err)
	}
	return out, nil
}
