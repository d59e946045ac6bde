package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saveflow/internal/analytics"
	"github.com/sells-group/saveflow/internal/estimate"
	"github.com/sells-group/saveflow/internal/model"
	"github.com/sells-group/saveflow/internal/store"
)

var (
	statsTenant  string
	statsSince   time.Duration
	statsOutcome string
	statsXLSX    string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print retention statistics for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("stats"); err != nil {
			return err
		}
		if statsTenant == "" {
			return eris.New("--tenant is required")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.AttemptFilter{
			TenantID: statsTenant,
			Outcome:  model.Outcome(statsOutcome),
		}
		if statsSince > 0 {
			filter.Since = time.Now().UTC().Add(-statsSince)
		}

		var (
			attempts []model.SaveAttempt
			open     []model.Intervention
		)
		g, gctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			var err error
			attempts, err = st.QueryAttempts(gctx, filter)
			return err
		})
		g.Go(func() error {
			var err error
			open, err = st.ListOpenInterventions(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}

		summary := analytics.Summarize(attempts)
		dropoff := analytics.Dropoff(attempts)
		reasons := analytics.ByReason(attempts)

		printStats(summary, dropoff, reasons, len(open))

		if statsXLSX != "" {
			if err := writeStatsXLSX(statsXLSX, summary, dropoff, reasons); err != nil {
				return err
			}
			fmt.Printf("\nwrote %s\n", statsXLSX)
		}
		return nil
	},
}

func printStats(s analytics.Stats, dropoff []analytics.StageDropoff, reasons []analytics.ReasonStats, openInterventions int) {
	fmt.Printf("Attempts:          %d (%d in progress)\n", s.TotalAttempts, s.InProgress)
	fmt.Printf("Saved:             %d (%.0f%%)\n", s.Saved, s.SuccessRate*100)
	fmt.Printf("Cancelled:         %d\n", s.Cancelled)
	fmt.Printf("Paused:            %d\n", s.Paused)
	fmt.Printf("Downgraded:        %d\n", s.Downgraded)
	fmt.Printf("Avg time to save:  %.1f min\n", s.AvgTimeToSaveMinutes)
	fmt.Printf("Revenue preserved: %s\n", estimate.FormatRevenue(s.RevenuePreserved))
	fmt.Printf("Open interventions: %d\n", openInterventions)

	fmt.Println("\nStage performance:")
	for _, sp := range s.StagePerformance {
		fmt.Printf("  %d %-20s saves=%-4d rate=%.2f\n", sp.Stage, sp.Name, sp.Saves, sp.Rate)
	}

	fmt.Println("\nStage dropoff:")
	for _, d := range dropoff {
		if d.Entered == 0 {
			continue
		}
		fmt.Printf("  %d %-20s entered=%-4d exited=%-4d saved=%-4d dropoff=%.2f avg=%.1fmin\n",
			d.Stage, d.Name, d.Entered, d.Exited, d.Saved, d.DropoffRate, d.AvgTimeSpentMinutes)
	}

	if len(reasons) > 0 {
		fmt.Println("\nCancellation reasons:")
		for _, r := range reasons {
			fmt.Printf("  %-16s count=%-4d saved=%-4d cancelled=%-4d revenue=%s\n",
				r.Category, r.Count, r.Saved, r.Cancelled, estimate.FormatRevenue(r.RevenuePreserved))
		}
	}
}

func writeStatsXLSX(path string, s analytics.Stats, dropoff []analytics.StageDropoff, reasons []analytics.ReasonStats) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}
	addStringRow(summary, "Metric", "Value")
	addKV(summary, "Total attempts", float64(s.TotalAttempts))
	addKV(summary, "In progress", float64(s.InProgress))
	addKV(summary, "Saved", float64(s.Saved))
	addKV(summary, "Cancelled", float64(s.Cancelled))
	addKV(summary, "Paused", float64(s.Paused))
	addKV(summary, "Downgraded", float64(s.Downgraded))
	addKV(summary, "Success rate", s.SuccessRate)
	addKV(summary, "Avg time to save (min)", s.AvgTimeToSaveMinutes)
	addKV(summary, "Revenue preserved", s.RevenuePreserved)

	stages, err := f.AddSheet("Stages")
	if err != nil {
		return eris.Wrap(err, "xlsx: add stages sheet")
	}
	addStringRow(stages, "Stage", "Name", "Saves", "Rate", "Entered", "Exited", "Dropoff rate")
	for i, sp := range s.StagePerformance {
		row := stages.AddRow()
		row.AddCell().SetInt(int(sp.Stage))
		row.AddCell().Value = sp.Name
		row.AddCell().SetInt(sp.Saves)
		row.AddCell().SetFloat(sp.Rate)
		row.AddCell().SetInt(dropoff[i].Entered)
		row.AddCell().SetInt(dropoff[i].Exited)
		row.AddCell().SetFloat(dropoff[i].DropoffRate)
	}

	reasonSheet, err := f.AddSheet("Reasons")
	if err != nil {
		return eris.Wrap(err, "xlsx: add reasons sheet")
	}
	addStringRow(reasonSheet, "Category", "Count", "Saved", "Cancelled", "Revenue preserved")
	for _, r := range reasons {
		row := reasonSheet.AddRow()
		row.AddCell().Value = string(r.Category)
		row.AddCell().SetInt(r.Count)
		row.AddCell().SetInt(r.Saved)
		row.AddCell().SetInt(r.Cancelled)
		row.AddCell().SetFloat(r.RevenuePreserved)
	}

	return eris.Wrap(f.Save(path), "xlsx: save")
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().Value = v
	}
}

func addKV(sheet *xlsx.Sheet, key string, value float64) {
	row := sheet.AddRow()
	row.AddCell().Value = key
	row.AddCell().SetFloat(value)
}

func init() {
	statsCmd.Flags().StringVar(&statsTenant, "tenant", "", "tenant to report on (required)")
	statsCmd.Flags().DurationVar(&statsSince, "since", 0, "only include attempts created within this window (e.g. 720h)")
	statsCmd.Flags().StringVar(&statsOutcome, "outcome", "", "filter by outcome")
	statsCmd.Flags().StringVar(&statsXLSX, "xlsx", "", "also write a spreadsheet report to this path")
	rootCmd.AddCommand(statsCmd)
}
