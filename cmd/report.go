package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"webloop/internal/config"
	"webloop/pkg/database"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Print the summary of a run",
	Long: `Print the recorded summary of a run from the run-history database.
With no argument the most recent run is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().Bool("json", false, "emit the full record as JSON")
	viper.BindPFlag("report_json", reportCmd.Flags().Lookup("json"))
}

func runReport(cmd *cobra.Command, args []string) error {
	config.SetDefaults(viper.GetViper())
	db, err := database.NewSQLiteDB(viper.GetString("database_path"))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	var run *database.RunRecord
	if len(args) == 1 {
		run, err = db.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("run %s: %w", args[0], err)
		}
	} else {
		runs, listErr := db.ListRuns(ctx, 1)
		if listErr != nil {
			return fmt.Errorf("list runs: %w", listErr)
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs recorded yet")
		}
		run = runs[0]
	}

	iterations, err := db.ListIterations(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("list iterations: %w", err)
	}

	if viper.GetBool("report_json") {
		out, marshalErr := json.MarshalIndent(map[string]interface{}{
			"run":        run,
			"iterations": iterations,
		}, "", "  ")
		if marshalErr != nil {
			return marshalErr
		}
		fmt.Println(string(out))
		return nil
	}

	printRun(run, iterations)
	return nil
}

func printRun(run *database.RunRecord, iterations []*database.IterationRecord) {
	fmt.Printf("Run %s\n", run.RunID)
	fmt.Printf("  Task:       %s\n", run.Task)
	fmt.Printf("  Status:     %s", run.Status)
	if run.StopReason != "" {
		fmt.Printf(" (%s)", run.StopReason)
	}
	fmt.Println()
	fmt.Printf("  Score:      %d/100, passed=%v\n", run.FinalScore, run.FinalPassed)
	fmt.Printf("  Iterations: %d\n", run.IterationCount)
	fmt.Printf("  Models:     planner=%s evaluator=%s\n", run.PlannerModel, run.EvaluatorModel)
	fmt.Printf("  Started:    %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("  Completed:  %s\n", run.CompletedAt.Format(time.RFC3339))
	}
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:      %s\n", run.ErrorMessage)
	}
	if run.BaseDir != "" {
		workspace := filepath.Join(run.BaseDir, run.RunID)
		if _, err := os.Stat(workspace); err == nil {
			fmt.Printf("  Workspace:  %s\n", workspace)
			fmt.Printf("  Summary:    %s\n", filepath.Join(workspace, "view.html"))
		}
	}

	if len(iterations) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tSCORE\tPASSED\tFILES\tDURATION")
	for _, it := range iterations {
		fmt.Fprintf(w, "  %d\t%d\t%v\t%d\t%dms\n",
			it.Iteration, it.Score, it.Passed, it.FilesModified, it.DurationMs)
	}
	w.Flush()
}
