package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saveflow/internal/model"
	"github.com/sells-group/saveflow/internal/resilience"
	"github.com/sells-group/saveflow/internal/store"
)

var reconcileDryRun bool

// reconcileCmd repairs interventions left open by a crash between the
// attempt and intervention writes. The attempt record is authoritative: an
// open intervention whose attempt is terminal is completed from the attempt.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Close interventions orphaned by partial completion writes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		repaired, skipped, err := reconcileInterventions(cmd.Context(), st, cfg.Reconcile.MaxAttempts, reconcileDryRun)
		if err != nil {
			return err
		}

		fmt.Printf("reconcile: %d repaired, %d still live\n", repaired, skipped)
		return nil
	},
}

func reconcileInterventions(ctx context.Context, st store.Store, maxAttempts int, dryRun bool) (repaired, skipped int, err error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = maxAttempts

	open, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]model.Intervention, error) {
		return st.ListOpenInterventions(ctx)
	})
	if err != nil {
		return 0, 0, err
	}

	for _, iv := range open {
		attempt, err := st.FindAttempt(ctx, iv.AttemptID)
		if err != nil {
			return repaired, skipped, err
		}
		if attempt == nil {
			zap.L().Warn("reconcile: intervention without attempt",
				zap.String("intervention_id", iv.ID),
				zap.String("attempt_id", iv.AttemptID),
			)
			skipped++
			continue
		}
		if !attempt.Terminal() {
			// Attempt is still in flight; nothing to repair.
			skipped++
			continue
		}

		zap.L().Info("reconcile: closing orphaned intervention",
			zap.String("attempt_id", iv.AttemptID),
			zap.String("outcome", string(attempt.Outcome)),
			zap.Bool("dry_run", dryRun),
		)
		if dryRun {
			repaired++
			continue
		}

		retryCfg.OnRetry = resilience.RetryLogger("reconcile", "complete_intervention")
		err = resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
			return st.CompleteIntervention(ctx, iv.AttemptID, model.InterventionOutcome(attempt.Outcome), attempt.RevenuePreserved)
		})
		if err != nil {
			return repaired, skipped, err
		}
		repaired++
	}

	return repaired, skipped, nil
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report what would be repaired without writing")
	rootCmd.AddCommand(reconcileCmd)
}
