package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-live-service/internal/domain"
)

// ResultStore persists finished session results in session_results.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

const upsertResultSQL = `
INSERT INTO session_results (session_id, join_code, title, reason, finished_at, participants)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT (session_id) DO UPDATE SET
	join_code = EXCLUDED.join_code,
	title = EXCLUDED.title,
	reason = EXCLUDED.reason,
	finished_at = EXCLUDED.finished_at,
	participants = EXCLUDED.participants`

func (s *ResultStore) SaveResult(ctx context.Context, result domain.SessionResult) error {
	participants, err := json.Marshal(result.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertResultSQL,
		result.SessionID, result.JoinCode, result.Title, string(result.Reason), result.FinishedAt, string(participants))
	if err != nil {
		return fmt.Errorf("save result %s: %w", result.SessionID, err)
	}
	return nil
}

// UpsertScore rewrites one participant's score inside a row lock so concurrent
// upserts for the same session serialize.
func (s *ResultStore) UpsertScore(ctx context.Context, sessionID string, entry domain.LeaderboardEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, err := scanResult(tx.QueryRow(ctx, selectResultSQL+` FOR UPDATE`, sessionID))
	if err != nil {
		return err
	}
	if err := result.UpsertScore(entry); err != nil {
		return err
	}

	participants, err := json.Marshal(result.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = tx.Exec(ctx, upsertResultSQL,
		result.SessionID, result.JoinCode, result.Title, string(result.Reason), result.FinishedAt, string(participants))
	if err != nil {
		return fmt.Errorf("upsert score %s/%s: %w", sessionID, entry.ParticipantID, err)
	}
	return tx.Commit(ctx)
}

const selectResultSQL = `SELECT session_id, join_code, title, reason, finished_at, participants FROM session_results WHERE session_id=$1`

func (s *ResultStore) GetResult(ctx context.Context, sessionID string) (domain.SessionResult, error) {
	return scanResult(s.pool.QueryRow(ctx, selectResultSQL, sessionID))
}

func scanResult(row pgx.Row) (domain.SessionResult, error) {
	var (
		res    domain.SessionResult
		reason string
		raw    []byte
	)
	err := row.Scan(&res.SessionID, &res.JoinCode, &res.Title, &reason, &res.FinishedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SessionResult{}, fmt.Errorf("scan result: %w", err)
	}
	res.Reason = domain.FinishReason(reason)
	if err := json.Unmarshal(raw, &res.Participants); err != nil {
		return domain.SessionResult{}, fmt.Errorf("unmarshal participants: %w", err)
	}
	return res, nil
}
