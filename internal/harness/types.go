// Package harness drives the JavaScript model exporter and verifies that
// the Go inference engine reproduces its predictions on exported artifacts.
package harness

import "time"

// Verdicts for a single model verification.
const (
	// VerdictIdentical means every output element matched bit for bit.
	VerdictIdentical = "identical"
	// VerdictEquivalent means outputs matched within the configured
	// tolerances but not exactly.
	VerdictEquivalent = "equivalent"
	// VerdictDivergent means at least one output element fell outside
	// the tolerances.
	VerdictDivergent = "divergent"
	// VerdictInvalid means the artifact could not be loaded or executed.
	VerdictInvalid = "invalid"
)

// RunContext describes one harness run: where the exporter lives, where
// artifacts are written, and the tolerances applied during comparison.
type RunContext struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`

	ExporterCommand []string `json:"exporter_command"`
	ExporterVersion string   `json:"exporter_version,omitempty"`
	ArtifactDir     string   `json:"artifact_dir"`

	RTol float64 `json:"rtol"`
	ATol float64 `json:"atol"`

	TimeoutSeconds int `json:"timeout_seconds"`
}

// Difference records one output element that fell outside the tolerances.
type Difference struct {
	// Index is the flat element offset into the output tensor.
	Index int `json:"index"`

	Got  float64 `json:"got"`
	Want float64 `json:"want"`

	AbsDiff float64 `json:"abs_diff"`
	RelDiff float64 `json:"rel_diff"`

	// Severity is "critical", "major", or "minor" depending on how far
	// the element strayed.
	Severity string `json:"severity"`
}

// ModelResult is the outcome of verifying one exported model.
type ModelResult struct {
	ModelName  string `json:"model_name"`
	ExecutedAt string `json:"executed_at"`

	Verdict       string `json:"verdict"`
	VerdictReason string `json:"verdict_reason"`

	OutputShape      []int   `json:"output_shape,omitempty"`
	ElementsCompared int     `json:"elements_compared"`
	ElementsOutside  int     `json:"elements_outside"`
	MaxAbsDiff       float64 `json:"max_abs_diff"`
	MaxRelDiff       float64 `json:"max_rel_diff"`

	Differences []Difference `json:"differences,omitempty"`

	DurationMs   int    `json:"duration_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Passed reports whether the verdict counts as a pass.
func (r *ModelResult) Passed() bool {
	return r.Verdict == VerdictIdentical || r.Verdict == VerdictEquivalent
}

// RunReport aggregates the results of verifying a whole model set.
type RunReport struct {
	ReportID   string `json:"report_id"`
	ExecutedAt string `json:"executed_at"`

	ExporterVersion string  `json:"exporter_version,omitempty"`
	ArtifactDir     string  `json:"artifact_dir,omitempty"`
	RTol            float64 `json:"rtol"`
	ATol            float64 `json:"atol"`

	TotalModels   int `json:"total_models"`
	PassedModels  int `json:"passed_models"`
	FailedModels  int `json:"failed_models"`
	InvalidModels int `json:"invalid_models,omitempty"`

	TotalDurationMs int `json:"total_duration_ms,omitempty"`

	Results []ModelResult `json:"results"`

	FailedDetails []FailedModelDetail `json:"failed_details,omitempty"`
}

// Passed reports whether every model in the run passed.
func (r *RunReport) Passed() bool {
	return r.TotalModels > 0 && r.FailedModels == 0 && r.InvalidModels == 0
}

// FailedModelDetail carries the diagnostic summary for a failed model.
type FailedModelDetail struct {
	ModelName    string       `json:"model_name"`
	Verdict      string       `json:"verdict"`
	ErrorSummary string       `json:"error_summary"`
	Differences  []Difference `json:"differences,omitempty"`
}
