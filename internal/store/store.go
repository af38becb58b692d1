// Package store persists detection runs to PostgreSQL. It is a downstream
// consumer of the engine's result; the engine itself never touches storage.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence implementation.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistRun stores one detection result and its lie records in a single
// transaction.
func (s *Store) PersistRun(ctx context.Context, result *schemas.DetectionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal detection result: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const insertRun = `
        INSERT INTO detection_runs
            (run_id, started_at, duration_ms, overall_risk, coherence_score, mismatch_count, lie_count, lied, result)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `
	_, err = tx.Exec(ctx, insertRun,
		result.RunID, result.StartedAt, result.Duration.Milliseconds(),
		string(result.OverallRisk), result.MinCoherence(), result.MismatchCount(),
		len(result.Lies), result.Lied, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert detection run %s: %w", result.RunID, err)
	}

	if len(result.Lies) > 0 {
		if err := s.persistLies(ctx, tx, result.RunID, result.Lies); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistLies(ctx context.Context, tx pgx.Tx, runID string, lies []schemas.LieRecord) error {
	rows := make([][]interface{}, len(lies))
	for i, lie := range lies {
		values, err := json.Marshal(lie.Values)
		if err != nil {
			values = []byte("[]")
		}
		rows[i] = []interface{}{runID, string(lie.Tag), string(lie.Realm), lie.Detail, values}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"detection_lies"},
		[]string{"run_id", "tag", "realm", "detail", "observed_values"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy lie records: %w", err)
	}
	if int(copyCount) != len(lies) {
		return fmt.Errorf("mismatch in copied lie count: expected %d, got %d", len(lies), copyCount)
	}
	return nil
}

// GetRun loads one persisted detection result by run ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*schemas.DetectionResult, error) {
	const query = `SELECT result FROM detection_runs WHERE run_id = $1;`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("detection run %s not found", runID)
	}

	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to scan detection run row: %w", err)
	}

	var result schemas.DetectionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal detection run %s: %w", runID, err)
	}
	return &result, nil
}
