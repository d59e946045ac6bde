package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saveflow/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var attemptColumnList = []string{
	"id", "tenant_id", "customer_id", "flow_config_id", "trigger_event",
	"current_stage", "stage_history", "cancellation_reason", "reason_category",
	"outcome", "saved_by", "offer_accepted", "revenue_preserved",
	"completed_at", "created_at", "updated_at",
}

func attemptRow(mock pgxmock.PgxPoolIface, id string, outcome *string) *pgxmock.Rows {
	now := time.Now().UTC()
	return mock.NewRows(attemptColumnList).AddRow(
		id, "t1", "c1", "cfg-1", "user_clicked_cancel",
		2, []byte(`[{"stage":1,"entered_at":"2026-03-01T12:00:00Z"}]`), nil, nil,
		outcome, nil, nil, 0.0,
		nil, now, now,
	)
}

func TestPostgresStore_FindAttempt_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM save_attempts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.FindAttempt(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindAttempt_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM save_attempts WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(attemptRow(mock, "a1", nil))

	a, err := s.FindAttempt(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, model.StageDiagnosis, a.CurrentStage)
	assert.Equal(t, model.Outcome(""), a.Outcome)
	require.Len(t, a.StageHistory, 1)
	assert.Equal(t, model.StagePatternInterrupt, a.StageHistory[0].Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindNonTerminalAttempt_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM save_attempts WHERE tenant_id = \$1 AND customer_id = \$2 AND outcome IS NULL`).
		WithArgs("t1", "c1").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.FindNonTerminalAttempt(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAttempt_Transactional(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO save_attempts`).
		WithArgs("a1", "t1", "c1", "cfg-1", "user_clicked_cancel", 1, pgxmock.AnyArg(), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO interventions`).
		WithArgs("iv1", "t1", "c1", "a1", "save_flow", "IN_PROGRESS", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	attempt := &model.SaveAttempt{
		ID: "a1", TenantID: "t1", CustomerID: "c1", FlowConfigID: "cfg-1",
		Trigger: "user_clicked_cancel", CurrentStage: model.FirstStage,
		StageHistory: []model.StageHistoryEntry{{Stage: model.FirstStage, EnteredAt: now}},
		CreatedAt:    now, UpdatedAt: now,
	}
	iv := &model.Intervention{
		ID: "iv1", TenantID: "t1", CustomerID: "c1", AttemptID: "a1",
		Kind: model.InterventionKindSaveFlow, Status: model.InterventionInProgress,
		CreatedAt: now, UpdatedAt: now,
	}

	require.NoError(t, s.CreateAttempt(context.Background(), attempt, iv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAttempt_RollbackOnInterventionFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO save_attempts`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO interventions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrTxClosed)
	mock.ExpectRollback()

	attempt := &model.SaveAttempt{ID: "a1", CreatedAt: now, UpdatedAt: now, CurrentStage: model.FirstStage}
	iv := &model.Intervention{ID: "iv1", AttemptID: "a1", CreatedAt: now, UpdatedAt: now}

	err := s.CreateAttempt(context.Background(), attempt, iv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert intervention")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAttemptProgress(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE save_attempts SET current_stage = \$1`).
		WithArgs(3, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateAttemptProgress(context.Background(), "a1", ProgressUpdate{
		CurrentStage:       model.StageBranching,
		StageHistory:       []model.StageHistoryEntry{{Stage: model.FirstStage}},
		CancellationReason: "too pricey",
		ReasonCategory:     model.ReasonTooExpensive,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAttemptProgress_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE save_attempts SET current_stage = \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateAttemptProgress(context.Background(), "missing", ProgressUpdate{CurrentStage: model.StageDiagnosis})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteAttempt_Transactional(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE save_attempts SET outcome = \$1`).
		WithArgs("SAVED_STAGE_1", "stage_1_general", pgxmock.AnyArg(), 240.0, now, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE interventions SET status = \$1`).
		WithArgs("COMPLETED", "SAVED", 240.0, pgxmock.AnyArg(), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.CompleteAttempt(context.Background(), "a1", Completion{
		Outcome:             model.OutcomeSavedStage1,
		SavedBy:             "stage_1_general",
		RevenuePreserved:    240,
		CompletedAt:         now,
		InterventionOutcome: "SAVED",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteAttempt_NotFoundRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE save_attempts SET outcome = \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.CompleteAttempt(context.Background(), "missing", Completion{
		Outcome:     model.OutcomeCancelled,
		CompletedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryAttempts_Filtered(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM save_attempts WHERE 1=1 AND tenant_id = \$1 AND outcome = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("t1", "CANCELLED", 10).
		WillReturnRows(attemptRow(mock, "a1", strPtr("CANCELLED")))

	attempts, err := s.QueryAttempts(context.Background(), AttemptFilter{
		TenantID: "t1",
		Outcome:  model.OutcomeCancelled,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.OutcomeCancelled, attempts[0].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFlowConfig_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, config, updated_at FROM save_flow_configs`).
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	cfg, err := s.GetFlowConfig(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFlowConfig_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := mock.NewRows([]string{"id", "tenant_id", "config", "updated_at"}).
		AddRow("cfg-1", "t1", []byte(`{"enabled":true,"nuclear_offer":{"enabled":true,"discount_percent":50}}`), now)
	mock.ExpectQuery(`SELECT id, tenant_id, config, updated_at FROM save_flow_configs`).
		WithArgs("t1").
		WillReturnRows(rows)

	cfg, err := s.GetFlowConfig(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "cfg-1", cfg.ID)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 50.0, cfg.NuclearOffer.DiscountPercent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertFlowConfig(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(tenant_id\) DO UPDATE`).
		WithArgs("cfg-1", "t1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertFlowConfig(context.Background(), &model.SaveFlowConfiguration{
		ID: "cfg-1", TenantID: "t1", Enabled: true, UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindActiveSubscription_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WithArgs("t1", "c1").
		WillReturnError(pgx.ErrNoRows)

	sub, err := s.FindActiveSubscription(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListOpenInterventions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := mock.NewRows([]string{"id", "tenant_id", "customer_id", "attempt_id", "kind", "status", "outcome", "revenue_impact", "created_at", "updated_at"}).
		AddRow("iv1", "t1", "c1", "a1", "save_flow", "IN_PROGRESS", nil, 0.0, now, now)
	mock.ExpectQuery(`SELECT .+ FROM interventions WHERE status != \$1`).
		WithArgs("COMPLETED").
		WillReturnRows(rows)

	out, err := s.ListOpenInterventions(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a1", out[0].AttemptID)
	assert.Equal(t, model.InterventionInProgress, out[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteIntervention(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE interventions SET status = \$1`).
		WithArgs("COMPLETED", "CANCELLED", 0.0, pgxmock.AnyArg(), "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteIntervention(context.Background(), "a1", "CANCELLED", 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
