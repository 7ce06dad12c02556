package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/modelinterop/kerasbridge/internal/config"
	"github.com/modelinterop/kerasbridge/internal/harness"
	"github.com/modelinterop/kerasbridge/pkg/receipt"
	"github.com/modelinterop/kerasbridge/pkg/registry"
	"github.com/modelinterop/kerasbridge/pkg/storage"
)

type verifyOptions struct {
	artifactDir string
	models      []string
	rtol        float64
	atol        float64
	export      bool
	skipPersist bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand() *cobra.Command {
	opts := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify exported models against their recorded predictions",
		Long: `Verify exported models.

For each model this loads the exported artifact, runs the Go engine on
the recorded inputs, and compares the predictions against the ones the
exporter recorded, elementwise within the configured tolerances.

The run is recorded in the registry, the report is persisted to
storage, and a signed receipt is produced when signing keys are
configured.

Example:
  kerasbridge verify --export
  kerasbridge verify --artifacts ./artifacts --models gru,mlp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.artifactDir, "artifacts", "", "artifact directory (default from config)")
	cmd.Flags().StringSliceVar(&opts.models, "models", nil, "models to verify (default from config)")
	cmd.Flags().Float64Var(&opts.rtol, "rtol", -1, "relative tolerance (default from config)")
	cmd.Flags().Float64Var(&opts.atol, "atol", -1, "absolute tolerance (default from config)")
	cmd.Flags().BoolVar(&opts.export, "export", false, "run the exporter before verifying")
	cmd.Flags().BoolVar(&opts.skipPersist, "no-persist", false, "skip registry, storage, and receipt")

	return cmd
}

func runVerify(ctx context.Context, opts *verifyOptions) error {
	conf := getConfig()

	artifactDir := opts.artifactDir
	if artifactDir == "" {
		artifactDir = conf.Artifacts.Dir
	}
	models := opts.models
	if len(models) == 0 {
		models = conf.Artifacts.Models
	}
	if len(models) == 0 {
		return fmt.Errorf("no models to verify")
	}

	rtol := opts.rtol
	if rtol < 0 {
		rtol = conf.Tolerances.RTol
	}
	atol := opts.atol
	if atol < 0 {
		atol = conf.Tolerances.ATol
	}

	exporter := harness.NewExporter(conf.Exporter.Command, conf.Exporter.WorkDir)
	exporter.TimeoutSeconds = conf.Exporter.TimeoutSeconds

	if opts.export {
		if !exporter.Available() {
			return fmt.Errorf("exporter not available (command: %v)", exporter.Command)
		}
		if err := exporter.Export(ctx, artifactDir, models); err != nil {
			return err
		}
	}

	runCtx := &harness.RunContext{
		RunID:       uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		ArtifactDir: artifactDir,
		RTol:        rtol,
		ATol:        atol,
	}
	if exporter.Available() {
		runCtx.ExporterCommand = exporter.Command
		runCtx.ExporterVersion = exporter.Version(ctx)
	}

	results := harness.VerifyAll(artifactDir, models, rtol, atol)
	report := harness.BuildReport(runCtx, results)

	for _, result := range report.Results {
		fmt.Printf("  %-24s %-10s %s\n", result.ModelName, result.Verdict, result.VerdictReason)
	}
	fmt.Println()
	fmt.Println(report.Summary())

	if !opts.skipPersist {
		if err := persistRun(conf, report); err != nil {
			return fmt.Errorf("run completed but persisting failed: %w", err)
		}
		fmt.Printf("Run recorded as %s\n", report.ReportID)
	}

	if !report.Passed() {
		return fmt.Errorf("verification failed")
	}
	return nil
}

// persistRun stores the report, signs a receipt when keys are available,
// and records the run in the registry.
func persistRun(conf *config.Config, report *harness.RunReport) error {
	store, err := openStore(conf)
	if err != nil {
		return err
	}

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	reportKey := storage.ReportKey(report.ReportID)
	if err := store.Put(reportKey, reportJSON); err != nil {
		return err
	}
	if err := store.Put(storage.ReportMarkdownKey(report.ReportID), []byte(report.Markdown())); err != nil {
		return err
	}

	receiptKey := ""
	if _, err := os.Stat(conf.Keys.Private); err == nil {
		privateKey, err := receipt.LoadPrivateKey(conf.Keys.Private)
		if err != nil {
			return err
		}
		encoded, err := receipt.Sign(reportJSON, report.ReportID, privateKey, receipt.Options{
			Issuer:     conf.Issuer,
			Location:   reportKey,
			ExecutedAt: report.ExecutedAt,
		})
		if err != nil {
			return err
		}
		receiptKey = storage.ReceiptKey(report.ReportID)
		if err := store.Put(receiptKey, encoded); err != nil {
			return err
		}
	} else if verbose {
		fmt.Fprintf(os.Stderr, "Warning: no signing key at %s, skipping receipt\n", conf.Keys.Private)
	}

	db, err := openRegistry(conf)
	if err != nil {
		return err
	}
	defer db.Close()

	return registry.InsertRun(db, registry.RunRecord{
		RunID:             report.ReportID,
		ExecutedAt:        report.ExecutedAt,
		ExporterVersion:   report.ExporterVersion,
		ArtifactDir:       report.ArtifactDir,
		RTol:              report.RTol,
		ATol:              report.ATol,
		TotalModels:       report.TotalModels,
		PassedModels:      report.PassedModels,
		FailedModels:      report.FailedModels,
		InvalidModels:     report.InvalidModels,
		DurationMs:        report.TotalDurationMs,
		ReportStorageKey:  reportKey,
		ReceiptStorageKey: receiptKey,
	}, resultRecords(report))
}

func resultRecords(report *harness.RunReport) []registry.ModelResultRecord {
	records := make([]registry.ModelResultRecord, 0, len(report.Results))
	for _, result := range report.Results {
		records = append(records, registry.ModelResultRecord{
			RunID:            report.ReportID,
			ModelName:        result.ModelName,
			Verdict:          result.Verdict,
			VerdictReason:    result.VerdictReason,
			ErrorMessage:     result.ErrorMessage,
			ElementsCompared: result.ElementsCompared,
			ElementsOutside:  result.ElementsOutside,
			MaxAbsDiff:       result.MaxAbsDiff,
			MaxRelDiff:       result.MaxRelDiff,
			DurationMs:       result.DurationMs,
		})
	}
	return records
}

// openStore builds the configured blob store.
func openStore(conf *config.Config) (storage.Store, error) {
	switch conf.Storage.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewLocalStore(conf.Storage.Path)
	}
}
