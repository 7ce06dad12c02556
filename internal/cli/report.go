package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelinterop/kerasbridge/internal/config"
	"github.com/modelinterop/kerasbridge/pkg/receipt"
	"github.com/modelinterop/kerasbridge/pkg/registry"
)

// NewReportCommand creates the report command group.
func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Browse recorded verification runs",
	}

	cmd.AddCommand(newReportListCommand())
	cmd.AddCommand(newReportShowCommand())
	cmd.AddCommand(newReportCheckCommand())

	return cmd
}

func newReportListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := getConfig()
			db, err := openRegistry(conf)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := registry.ListRuns(db, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}

			fmt.Printf("%-36s  %-20s  %s\n", "RUN", "EXECUTED", "RESULT")
			for _, run := range runs {
				fmt.Printf("%-36s  %-20s  %d/%d passed",
					run.RunID, run.ExecutedAt, run.PassedModels, run.TotalModels)
				if run.InvalidModels > 0 {
					fmt.Printf(" (%d invalid)", run.InvalidModels)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newReportShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's per-model results",
		Long: `Show a run's per-model results.

Pass "latest" to show the most recent run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := getConfig()
			db, err := openRegistry(conf)
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := resolveRun(db, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Run:       %s\n", run.RunID)
			fmt.Printf("Executed:  %s\n", run.ExecutedAt)
			if run.ExporterVersion != "" {
				fmt.Printf("Exporter:  %s\n", run.ExporterVersion)
			}
			fmt.Printf("Tolerance: rtol=%g atol=%g\n", run.RTol, run.ATol)
			fmt.Printf("Result:    %d/%d passed, %d failed, %d invalid\n\n",
				run.PassedModels, run.TotalModels, run.FailedModels, run.InvalidModels)

			results, err := registry.GetModelResults(db, run.RunID)
			if err != nil {
				return err
			}
			for _, result := range results {
				fmt.Printf("  %-24s %-10s", result.ModelName, result.Verdict)
				if result.VerdictReason != "" {
					fmt.Printf(" %s", result.VerdictReason)
				}
				if result.ErrorMessage != "" {
					fmt.Printf(" (%s)", result.ErrorMessage)
				}
				fmt.Println()
			}
			return nil
		},
	}
	return cmd
}

func newReportCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <run-id>",
		Short: "Verify a run's signed receipt against its stored report",
		Long: `Verify a run's signed receipt.

Loads the report and receipt from storage, checks the COSE signature
with the configured public key, and recomputes the report hash.

Pass "latest" to check the most recent run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := getConfig()
			db, err := openRegistry(conf)
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := resolveRun(db, args[0])
			if err != nil {
				return err
			}
			if run.ReceiptStorageKey == "" {
				return fmt.Errorf("run %s has no receipt", run.RunID)
			}

			store, err := openStore(conf)
			if err != nil {
				return err
			}

			reportJSON, err := store.Get(run.ReportStorageKey)
			if err != nil {
				return err
			}
			if reportJSON == nil {
				return fmt.Errorf("report %s not found in storage", run.ReportStorageKey)
			}

			receiptBytes, err := store.Get(run.ReceiptStorageKey)
			if err != nil {
				return err
			}
			if receiptBytes == nil {
				return fmt.Errorf("receipt %s not found in storage", run.ReceiptStorageKey)
			}

			publicKey, err := receipt.LoadPublicKey(conf.Keys.Public)
			if err != nil {
				return err
			}

			result, err := receipt.Verify(receiptBytes, reportJSON, publicKey)
			if err != nil {
				return err
			}

			fmt.Printf("Run:       %s\n", run.RunID)
			if result.Issuer != "" {
				fmt.Printf("Issuer:    %s\n", result.Issuer)
			}
			fmt.Printf("Signature: %s\n", validity(result.SignatureValid))
			fmt.Printf("Hash:      %s\n", validity(result.HashValid))

			if !result.Valid() {
				return fmt.Errorf("receipt verification failed")
			}
			fmt.Println("Receipt verified")
			return nil
		},
	}
	return cmd
}

func resolveRun(db *sql.DB, runID string) (*registry.RunRecord, error) {
	var run *registry.RunRecord
	var err error
	if runID == "latest" {
		run, err = registry.GetLatestRun(db)
	} else {
		run, err = registry.GetRun(db, runID)
	}
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %q not found", runID)
	}
	return run, nil
}

func openRegistry(conf *config.Config) (*sql.DB, error) {
	return registry.Open(registry.Options{
		Path:        conf.Registry.Path,
		EnableWAL:   conf.Registry.EnableWAL,
		BusyTimeout: conf.Registry.BusyTimeout,
	})
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "INVALID"
}
