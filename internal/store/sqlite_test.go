package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saveflow/internal/model"
)

func newMockSQLiteStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return newSQLiteWithDB(db), mock
}

func sqliteAttemptRow(outcome any) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(attemptColumnList).AddRow(
		"a1", "t1", "c1", "cfg-1", "user_clicked_cancel",
		2, `[{"stage":1,"entered_at":"2026-03-01T12:00:00Z"}]`, nil, nil,
		outcome, nil, nil, 0.0,
		nil, now, now,
	)
}

func TestSQLiteStore_FindAttempt_NotFound(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT .+ FROM save_attempts WHERE id = \?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	a, err := s.FindAttempt(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_FindAttempt_Found(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT .+ FROM save_attempts WHERE id = \?`).
		WithArgs("a1").
		WillReturnRows(sqliteAttemptRow(nil))

	a, err := s.FindAttempt(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, model.StageDiagnosis, a.CurrentStage)
	assert.False(t, a.Terminal())
	require.Len(t, a.StageHistory, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CreateAttempt_Transactional(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO save_attempts`).
		WithArgs("a1", "t1", "c1", "cfg-1", "user_clicked_cancel", 1, sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO interventions`).
		WithArgs("iv1", "t1", "c1", "a1", "save_flow", "IN_PROGRESS", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	attempt := &model.SaveAttempt{
		ID: "a1", TenantID: "t1", CustomerID: "c1", FlowConfigID: "cfg-1",
		Trigger: "user_clicked_cancel", CurrentStage: model.FirstStage,
		CreatedAt: now, UpdatedAt: now,
	}
	iv := &model.Intervention{
		ID: "iv1", TenantID: "t1", CustomerID: "c1", AttemptID: "a1",
		Kind: model.InterventionKindSaveFlow, Status: model.InterventionInProgress,
		CreatedAt: now, UpdatedAt: now,
	}

	require.NoError(t, s.CreateAttempt(context.Background(), attempt, iv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CreateAttempt_RollbackOnFailure(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO save_attempts`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO interventions`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	attempt := &model.SaveAttempt{ID: "a1", CurrentStage: model.FirstStage, CreatedAt: now, UpdatedAt: now}
	iv := &model.Intervention{ID: "iv1", AttemptID: "a1", CreatedAt: now, UpdatedAt: now}

	err := s.CreateAttempt(context.Background(), attempt, iv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert intervention")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateAttemptProgress_NotFound(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectExec(`UPDATE save_attempts SET current_stage = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateAttemptProgress(context.Background(), "missing", ProgressUpdate{CurrentStage: model.StageDiagnosis})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CompleteAttempt_Transactional(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE save_attempts SET outcome = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE interventions SET status = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.CompleteAttempt(context.Background(), "a1", Completion{
		Outcome:             model.OutcomeSavedStage1,
		SavedBy:             "stage_1_general",
		RevenuePreserved:    240,
		CompletedAt:         time.Now().UTC(),
		InterventionOutcome: "SAVED",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CompleteAttempt_NotFoundRollsBack(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE save_attempts SET outcome = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.CompleteAttempt(context.Background(), "missing", Completion{
		Outcome:     model.OutcomeCancelled,
		CompletedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_QueryAttempts_Filtered(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT .+ FROM save_attempts WHERE 1=1 AND tenant_id = \? ORDER BY created_at DESC LIMIT 5`).
		WithArgs("t1").
		WillReturnRows(sqliteAttemptRow("CANCELLED"))

	attempts, err := s.QueryAttempts(context.Background(), AttemptFilter{TenantID: "t1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.OutcomeCancelled, attempts[0].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_GetFlowConfig_RoundTrip(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "config", "updated_at"}).
		AddRow("cfg-1", "t1", `{"enabled":false}`, now)
	mock.ExpectQuery(`SELECT id, tenant_id, config, updated_at FROM save_flow_configs`).
		WithArgs("t1").
		WillReturnRows(rows)

	cfg, err := s.GetFlowConfig(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "cfg-1", cfg.ID)
	assert.False(t, cfg.Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
