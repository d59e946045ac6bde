package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saveflow/internal/model"
	"github.com/sells-group/saveflow/internal/store"
)

// orphanedAttempt seeds an attempt that is already terminal while its
// intervention is still open, mimicking a crash between the two writes.
func orphanedAttempt(t *testing.T, st *store.MemoryStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	completed := now
	a := &model.SaveAttempt{
		ID: id, TenantID: "t1", CustomerID: "c-" + id,
		CurrentStage:     model.FirstStage,
		Outcome:          model.OutcomeSavedStage1,
		RevenuePreserved: 240,
		CompletedAt:      &completed,
		CreatedAt:        now, UpdatedAt: now,
	}
	iv := &model.Intervention{
		ID: "iv-" + id, TenantID: "t1", CustomerID: a.CustomerID, AttemptID: id,
		Kind: model.InterventionKindSaveFlow, Status: model.InterventionInProgress,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateAttempt(context.Background(), a, iv))
}

func liveAttempt(t *testing.T, st *store.MemoryStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	a := &model.SaveAttempt{
		ID: id, TenantID: "t1", CustomerID: "c-" + id,
		CurrentStage: model.FirstStage,
		CreatedAt:    now, UpdatedAt: now,
	}
	iv := &model.Intervention{
		ID: "iv-" + id, AttemptID: id, Status: model.InterventionInProgress,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateAttempt(context.Background(), a, iv))
}

func TestReconcile_RepairsOrphanedIntervention(t *testing.T) {
	st := store.NewMemory()
	orphanedAttempt(t, st, "a1")
	liveAttempt(t, st, "a2")

	repaired, skipped, err := reconcileInterventions(context.Background(), st, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, 1, skipped)

	iv := st.Intervention("a1")
	require.NotNil(t, iv)
	assert.Equal(t, model.InterventionCompleted, iv.Status)
	assert.Equal(t, "SAVED", iv.Outcome)
	assert.Equal(t, 240.0, iv.RevenueImpact)

	// The live attempt's intervention is untouched.
	assert.Equal(t, model.InterventionInProgress, st.Intervention("a2").Status)
}

func TestReconcile_DryRunWritesNothing(t *testing.T) {
	st := store.NewMemory()
	orphanedAttempt(t, st, "a1")

	repaired, skipped, err := reconcileInterventions(context.Background(), st, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, 0, skipped)

	assert.Equal(t, model.InterventionInProgress, st.Intervention("a1").Status)
}

func TestReconcile_NothingOpen(t *testing.T) {
	st := store.NewMemory()

	repaired, skipped, err := reconcileInterventions(context.Background(), st, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
	assert.Equal(t, 0, skipped)
}
