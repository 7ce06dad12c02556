package harness_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelinterop/kerasbridge/internal/harness"
	"github.com/modelinterop/kerasbridge/internal/testmodels"
	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

func TestVerifyModelIdentical(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, testmodels.WriteWithExpected(dir, testmodels.All()["mlp"]))

	result := harness.VerifyModel(dir, "mlp", -1, -1)
	require.Equal(t, harness.VerdictIdentical, result.Verdict, result.VerdictReason)
	require.True(t, result.Passed())
	require.Equal(t, 0, result.ElementsOutside)
	require.NotZero(t, result.ElementsCompared)
	require.Equal(t, []int{2, 3}, result.OutputShape)
}

func TestVerifyAllModels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, testmodels.WriteAll(dir))

	results := harness.VerifyAll(dir, testmodels.Names(), -1, -1)
	require.Len(t, results, len(testmodels.Names()))
	for _, result := range results {
		require.True(t, result.Passed(), "%s: %s (%s)", result.ModelName, result.VerdictReason, result.ErrorMessage)
	}
}

func TestVerifyModelDivergent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, testmodels.WriteWithExpected(dir, testmodels.All()["mlp"]))

	ys, err := tensor.LoadFixture(dir, "mlp", "ys")
	require.NoError(t, err)
	ys.Data[0] += 0.5
	require.NoError(t, tensor.SaveFixture(dir, "mlp", "ys", ys))

	result := harness.VerifyModel(dir, "mlp", -1, -1)
	require.Equal(t, harness.VerdictDivergent, result.Verdict)
	require.False(t, result.Passed())
	require.Equal(t, 1, result.ElementsOutside)
	require.Len(t, result.Differences, 1)
	require.Equal(t, "critical", result.Differences[0].Severity)
	require.InDelta(t, 0.5, result.Differences[0].AbsDiff, 1e-5)
}

func TestVerifyModelInvalid(t *testing.T) {
	result := harness.VerifyModel(t.TempDir(), "mlp", -1, -1)
	require.Equal(t, harness.VerdictInvalid, result.Verdict)
	require.NotEmpty(t, result.ErrorMessage)
}

func TestVerifyModelShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, testmodels.WriteWithExpected(dir, testmodels.All()["mlp"]))

	ys := tensor.Zeros(2, 4)
	require.NoError(t, tensor.SaveFixture(dir, "mlp", "ys", ys))

	result := harness.VerifyModel(dir, "mlp", -1, -1)
	require.Equal(t, harness.VerdictDivergent, result.Verdict)
	require.Contains(t, result.VerdictReason, "shape mismatch")
}

func TestSplitInputs(t *testing.T) {
	xs := tensor.Zeros(4, 3)
	for i := range xs.Data {
		xs.Data[i] = float32(i)
	}

	t.Run("single input passes through", func(t *testing.T) {
		inputs, err := harness.SplitInputs(xs, 1)
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Equal(t, xs, inputs[0])
	})

	t.Run("two inputs split on leading axis", func(t *testing.T) {
		inputs, err := harness.SplitInputs(xs, 2)
		require.NoError(t, err)
		require.Len(t, inputs, 2)
		require.Equal(t, []int{2, 3}, inputs[0].Shape)
		require.Equal(t, float32(0), inputs[0].Data[0])
		require.Equal(t, float32(6), inputs[1].Data[0])
	})

	t.Run("indivisible leading axis fails", func(t *testing.T) {
		_, err := harness.SplitInputs(xs, 3)
		require.Error(t, err)
	})
}

func TestBuildReport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, testmodels.WriteWithExpected(dir, testmodels.All()["mlp"]))
	require.NoError(t, testmodels.WriteWithExpected(dir, testmodels.All()["cnn"]))

	results := harness.VerifyAll(dir, []string{"mlp", "cnn", "missing"}, -1, -1)

	runCtx := &harness.RunContext{
		RunID:       "test-run",
		ArtifactDir: dir,
		RTol:        tensor.DefaultRTol,
		ATol:        tensor.DefaultATol,
	}
	report := harness.BuildReport(runCtx, results)

	require.Equal(t, "test-run", report.ReportID)
	require.Equal(t, 3, report.TotalModels)
	require.Equal(t, 2, report.PassedModels)
	require.Equal(t, 1, report.InvalidModels)
	require.False(t, report.Passed())
	require.Len(t, report.FailedDetails, 1)
	require.Equal(t, "missing", report.FailedDetails[0].ModelName)

	md := report.Markdown()
	require.Contains(t, md, "| mlp | identical |")
	require.Contains(t, md, "## Failures")
	require.Contains(t, report.Summary(), "FAIL")

	jsonPath, err := report.WriteJSON(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"report_id": "test-run"`)

	mdPath, err := report.WriteMarkdown(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	require.FileExists(t, mdPath)
}

func TestExporterDiscovery(t *testing.T) {
	t.Run("environment override", func(t *testing.T) {
		t.Setenv("KERASBRIDGE_EXPORTER", "node /tmp/export.js")
		cmd := harness.DefaultExporterCommand()
		require.Equal(t, []string{"node", "/tmp/export.js"}, cmd)
	})

	t.Run("missing interpreter is unavailable", func(t *testing.T) {
		e := harness.NewExporter([]string{"no-such-interpreter-kerasbridge"}, "")
		require.False(t, e.Available())
	})

	t.Run("missing script is unavailable", func(t *testing.T) {
		e := harness.NewExporter([]string{"sh", filepath.Join(t.TempDir(), "missing.js")}, "")
		require.False(t, e.Available())
	})
}

func TestReportVerdictStrings(t *testing.T) {
	report := harness.BuildReport(nil, []harness.ModelResult{
		{ModelName: "a", Verdict: harness.VerdictEquivalent},
		{ModelName: "b", Verdict: harness.VerdictDivergent, VerdictReason: "3 of 6 elements outside tolerance"},
	})
	require.Equal(t, 1, report.PassedModels)
	require.Equal(t, 1, report.FailedModels)
	require.NotEmpty(t, report.ReportID)
	require.True(t, strings.HasPrefix(report.Summary(), "FAIL"))
}
