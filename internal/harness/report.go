package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxDetailDifferences caps the per-element detail kept in a failed model
// summary.
const maxDetailDifferences = 8

// BuildReport aggregates per-model results into a run report.
func BuildReport(runCtx *RunContext, results []ModelResult) *RunReport {
	report := &RunReport{
		ReportID:    uuid.NewString(),
		ExecutedAt:  time.Now().UTC().Format(time.RFC3339),
		TotalModels: len(results),
		Results:     results,
	}
	if runCtx != nil {
		report.ReportID = runCtx.RunID
		report.ExporterVersion = runCtx.ExporterVersion
		report.ArtifactDir = runCtx.ArtifactDir
		report.RTol = runCtx.RTol
		report.ATol = runCtx.ATol
	}

	for _, result := range results {
		report.TotalDurationMs += result.DurationMs
		switch {
		case result.Passed():
			report.PassedModels++
		case result.Verdict == VerdictInvalid:
			report.InvalidModels++
			report.FailedDetails = append(report.FailedDetails, failedDetail(result))
		default:
			report.FailedModels++
			report.FailedDetails = append(report.FailedDetails, failedDetail(result))
		}
	}

	return report
}

func failedDetail(result ModelResult) FailedModelDetail {
	detail := FailedModelDetail{
		ModelName:    result.ModelName,
		Verdict:      result.Verdict,
		ErrorSummary: result.VerdictReason,
	}
	if result.ErrorMessage != "" {
		detail.ErrorSummary = result.ErrorMessage
	}
	if len(result.Differences) > maxDetailDifferences {
		detail.Differences = result.Differences[:maxDetailDifferences]
	} else {
		detail.Differences = result.Differences
	}
	return detail
}

// WriteJSON writes the report as indented JSON to outputDir/report.json.
func (r *RunReport) WriteJSON(outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(outputDir, "report.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// WriteMarkdown writes a human-readable summary to outputDir/report.md.
func (r *RunReport) WriteMarkdown(outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(outputDir, "report.md")
	if err := os.WriteFile(path, []byte(r.Markdown()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// Markdown renders the report as a Markdown document.
func (r *RunReport) Markdown() string {
	var sb strings.Builder

	sb.WriteString("# Model Verification Report\n\n")
	fmt.Fprintf(&sb, "- Report ID: `%s`\n", r.ReportID)
	fmt.Fprintf(&sb, "- Executed: %s\n", r.ExecutedAt)
	if r.ExporterVersion != "" {
		fmt.Fprintf(&sb, "- Exporter: %s\n", r.ExporterVersion)
	}
	fmt.Fprintf(&sb, "- Tolerances: rtol=%g atol=%g\n", r.RTol, r.ATol)
	fmt.Fprintf(&sb, "- Models: %d total, %d passed, %d failed, %d invalid\n\n",
		r.TotalModels, r.PassedModels, r.FailedModels, r.InvalidModels)

	sb.WriteString("| Model | Verdict | Elements | Max abs diff | Duration |\n")
	sb.WriteString("|-------|---------|----------|--------------|----------|\n")
	for _, result := range r.Results {
		fmt.Fprintf(&sb, "| %s | %s | %d | %.3g | %dms |\n",
			result.ModelName, result.Verdict, result.ElementsCompared, result.MaxAbsDiff, result.DurationMs)
	}

	if len(r.FailedDetails) > 0 {
		sb.WriteString("\n## Failures\n\n")
		for _, detail := range r.FailedDetails {
			fmt.Fprintf(&sb, "### %s (%s)\n\n%s\n\n", detail.ModelName, detail.Verdict, detail.ErrorSummary)
			for _, d := range detail.Differences {
				fmt.Fprintf(&sb, "- element %d: got %g, want %g (abs diff %.3g, %s)\n",
					d.Index, d.Got, d.Want, d.AbsDiff, d.Severity)
			}
		}
	}

	return sb.String()
}

// Summary returns a one-line verdict string for CLI output.
func (r *RunReport) Summary() string {
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	return fmt.Sprintf("%s: %d/%d models verified (%d failed, %d invalid)",
		status, r.PassedModels, r.TotalModels, r.FailedModels, r.InvalidModels)
}
