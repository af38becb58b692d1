package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
)

func sampleResult() *schemas.DetectionResult {
	return &schemas.DetectionResult{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Duration:    250 * time.Millisecond,
		OverallRisk: schemas.RiskHigh,
		Lied:        true,
		Lies: []schemas.LieRecord{
			{Tag: schemas.LieFailedMath, Realm: schemas.RealmMain, Detail: "Math.sin(1) diverged", Values: []any{0.1, 0.2}},
			{Tag: schemas.LieFailedUnshift, Realm: schemas.RealmSubDocument, Detail: "rect width re-derivation"},
		},
		Comparisons: []schemas.ComparisonResult{
			{CoherenceScore: 88, Mismatches: []string{"userAgent"}},
		},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPersistRun(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
		t.Helper()
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(mockPool.Close)

		mockPool.ExpectPing().WillReturnError(nil)
		s, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)
		return s, mockPool
	}

	t.Run("should persist a run and its lies in one transaction", func(t *testing.T) {
		s, mockPool := newStore(t)
		result := sampleResult()

		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO detection_runs").
			WithArgs(result.RunID, result.StartedAt, result.Duration.Milliseconds(),
				string(result.OverallRisk), 88, 1, 2, true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(
			pgx.Identifier{"detection_lies"},
			[]string{"run_id", "tag", "realm", "detail", "observed_values"},
		).WillReturnResult(2)
		mockPool.ExpectCommit()

		require.NoError(t, s.PersistRun(ctx, result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should skip the lie copy when no lies were recorded", func(t *testing.T) {
		s, mockPool := newStore(t)
		result := sampleResult()
		result.Lies = nil
		result.Lied = false

		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO detection_runs").
			WithArgs(result.RunID, result.StartedAt, result.Duration.Milliseconds(),
				string(result.OverallRisk), 88, 1, 0, false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, s.PersistRun(ctx, result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the insert fails", func(t *testing.T) {
		s, mockPool := newStore(t)
		result := sampleResult()

		insertErr := errors.New("constraint violation")
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO detection_runs").
			WithArgs(result.RunID, result.StartedAt, result.Duration.Milliseconds(),
				string(result.OverallRisk), 88, 1, 2, true, pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.PersistRun(ctx, result)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the copied lie count is short", func(t *testing.T) {
		s, mockPool := newStore(t)
		result := sampleResult()

		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO detection_runs").
			WithArgs(result.RunID, result.StartedAt, result.Duration.Milliseconds(),
				string(result.OverallRisk), 88, 1, 2, true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(
			pgx.Identifier{"detection_lies"},
			[]string{"run_id", "tag", "realm", "detail", "observed_values"},
		).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.PersistRun(ctx, result)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied lie count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetRun(t *testing.T) {
	ctx := context.Background()

	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(ctx, mockPool, zap.NewNop())
	require.NoError(t, err)

	t.Run("should load and unmarshal a stored run", func(t *testing.T) {
		want := sampleResult()
		raw, err := json.Marshal(want)
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{"result"}).AddRow(raw)
		mockPool.ExpectQuery("SELECT result FROM detection_runs").
			WithArgs(want.RunID).
			WillReturnRows(rows)

		got, err := s.GetRun(ctx, want.RunID)
		require.NoError(t, err)
		assert.Equal(t, want.RunID, got.RunID)
		assert.Equal(t, want.OverallRisk, got.OverallRisk)
		assert.Len(t, got.Lies, 2)
	})

	t.Run("should report a missing run", func(t *testing.T) {
		mockPool.ExpectQuery("SELECT result FROM detection_runs").
			WithArgs("nope").
			WillReturnRows(pgxmock.NewRows([]string{"result"}))

		_, err := s.GetRun(ctx, "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	assert.NoError(t, mockPool.ExpectationsWereMet())
}
