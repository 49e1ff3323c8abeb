// lc-reflect runs the offline Reflection Analyzer (spec.md §4.17) over an
// execution-store database and prints a failure-attribution and
// WriteGate-feedback report.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/nana77mi/lonelycat/pkg/reflection"
	"github.com/nana77mi/lonelycat/pkg/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dbPath      string
		outputPath  string
		failedLimit int
	)

	cmd := &cobra.Command{
		Use:   "lc-reflect",
		Short: "Offline failure attribution and WriteGate feedback analysis",
		Long: `lc-reflect runs SQL aggregation over the execution store to surface
top failing steps and error codes, failure rates by risk level, and the
WriteGate false-allow signal (ALLOW verdicts that went on to fail or be
rolled back).

Exits non-zero if the false-allow rate exceeds 10%.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, dbPath, outputPath, failedLimit)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./.lonelycat/executor.db", "path to the executor SQLite database")
	cmd.Flags().StringVar(&outputPath, "output", "", "write the JSON report here instead of stdout")
	cmd.Flags().IntVar(&failedLimit, "failed-limit", 200, "max most-recent failed executions to scan")

	return cmd
}

func runAnalyze(cmd *cobra.Command, dbPath, outputPath string, failedLimit int) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if err := store.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	analyzer := reflection.NewAnalyzer(db)
	report, err := analyzer.Analyze(ctx, failedLimit)
	if err != nil {
		return fmt.Errorf("running analysis: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}
	} else {
		fmt.Println(string(data))
	}

	if report.ExceedsFalseAllowLimit() {
		fmt.Fprintf(os.Stderr, "false-allow rate %.1f%% exceeds the 10%% threshold\n", report.FalseAllow.Rate*100)
		os.Exit(1)
	}
	return nil
}
