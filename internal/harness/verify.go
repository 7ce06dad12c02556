package harness

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modelinterop/kerasbridge/pkg/model"
	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// Severity thresholds on the absolute difference of a divergent element.
const (
	criticalAbsDiff = 1e-2
	majorAbsDiff    = 1e-4
)

// VerifyModel loads the exported artifact for one model, runs the Go engine
// on the xs fixture, and compares the prediction against the ys fixture the
// exporter recorded.
func VerifyModel(artifactDir, name string, rtol, atol float64) *ModelResult {
	startTime := time.Now()
	result := &ModelResult{
		ModelName:  name,
		ExecutedAt: startTime.UTC().Format(time.RFC3339),
	}
	defer func() {
		result.DurationMs = int(time.Since(startTime).Milliseconds())
	}()

	xs, err := tensor.LoadFixture(artifactDir, name, "xs")
	if err != nil {
		return invalid(result, fmt.Errorf("failed to load xs fixture: %w", err))
	}
	want, err := tensor.LoadFixture(artifactDir, name, "ys")
	if err != nil {
		return invalid(result, fmt.Errorf("failed to load ys fixture: %w", err))
	}

	m, err := model.Load(filepath.Join(artifactDir, name, "model.json"))
	if err != nil {
		return invalid(result, fmt.Errorf("failed to load model: %w", err))
	}

	inputs, err := SplitInputs(xs, m.InputCount())
	if err != nil {
		return invalid(result, err)
	}

	got, err := m.Predict(inputs...)
	if err != nil {
		return invalid(result, fmt.Errorf("prediction failed: %w", err))
	}

	report := tensor.AllClose(got, want, rtol, atol)
	result.OutputShape = got.Shape
	result.ElementsCompared = report.Compared
	result.ElementsOutside = report.Mismatched
	result.MaxAbsDiff = report.MaxAbsDiff
	result.MaxRelDiff = report.MaxRelDiff

	switch {
	case !report.ShapeMatch:
		result.Verdict = VerdictDivergent
		result.VerdictReason = report.ShapeDetail
	case report.Equal && report.MaxAbsDiff == 0:
		result.Verdict = VerdictIdentical
		result.VerdictReason = fmt.Sprintf("all %d elements match exactly", report.Compared)
	case report.Equal:
		result.Verdict = VerdictEquivalent
		result.VerdictReason = fmt.Sprintf("all %d elements within rtol=%g atol=%g (max abs diff %.3g)",
			report.Compared, tolOrDefault(rtol, tensor.DefaultRTol), tolOrDefault(atol, tensor.DefaultATol), report.MaxAbsDiff)
	default:
		result.Verdict = VerdictDivergent
		result.VerdictReason = fmt.Sprintf("%d of %d elements outside tolerance (max abs diff %.3g)",
			report.Mismatched, report.Compared, report.MaxAbsDiff)
		result.Differences = toDifferences(report.Mismatches)
	}

	return result
}

// VerifyAll verifies every named model under artifactDir.
func VerifyAll(artifactDir string, names []string, rtol, atol float64) []ModelResult {
	log := logrus.WithField("component", "verify")

	results := make([]ModelResult, 0, len(names))
	for _, name := range names {
		r := VerifyModel(artifactDir, name, rtol, atol)
		log.WithFields(logrus.Fields{
			"model":   name,
			"verdict": r.Verdict,
		}).Info("verified model")
		results = append(results, *r)
	}
	return results
}

// SplitInputs slices a stacked xs fixture into n model inputs. Multi-input
// models store their inputs stacked on the leading axis, one block per
// input in declaration order.
func SplitInputs(xs *tensor.Tensor, n int) ([]*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("model declares %d inputs", n)
	}
	if n == 1 {
		return []*tensor.Tensor{xs}, nil
	}
	if xs.Rank() == 0 || xs.Shape[0]%n != 0 {
		return nil, fmt.Errorf("cannot split fixture with shape %v into %d inputs", xs.Shape, n)
	}

	rows := xs.Shape[0] / n
	span := xs.Size() / n
	inputs := make([]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		shape := append([]int{rows}, xs.Shape[1:]...)
		data := append([]float32(nil), xs.Data[i*span:(i+1)*span]...)
		t, err := tensor.New(shape, data)
		if err != nil {
			return nil, err
		}
		inputs[i] = t
	}
	return inputs, nil
}

func invalid(result *ModelResult, err error) *ModelResult {
	result.Verdict = VerdictInvalid
	result.VerdictReason = "artifact could not be verified"
	result.ErrorMessage = err.Error()
	return result
}

func toDifferences(mismatches []tensor.Mismatch) []Difference {
	diffs := make([]Difference, 0, len(mismatches))
	for _, m := range mismatches {
		d := Difference{
			Index:   m.Index,
			Got:     float64(m.Actual),
			Want:    float64(m.Expected),
			AbsDiff: m.AbsDiff,
		}
		if m.Expected != 0 {
			d.RelDiff = m.AbsDiff / math.Abs(float64(m.Expected))
		}
		switch {
		case m.AbsDiff > criticalAbsDiff:
			d.Severity = "critical"
		case m.AbsDiff > majorAbsDiff:
			d.Severity = "major"
		default:
			d.Severity = "minor"
		}
		diffs = append(diffs, d)
	}
	return diffs
}

func tolOrDefault(v, def float64) float64 {
	if v < 0 {
		return def
	}
	return v
}
