package tensor

import (
	"fmt"
	"math"
)

// Default tolerances for float32 prediction comparison, matching the
// assertAllClose defaults used by the exporter's own test suite.
const (
	DefaultRTol = 1e-6
	DefaultATol = 1e-6
)

// Mismatch describes a single element that exceeded tolerance.
type Mismatch struct {
	Index    int     `json:"index"`
	Expected float32 `json:"expected"`
	Actual   float32 `json:"actual"`
	AbsDiff  float64 `json:"abs_diff"`
}

// CloseReport summarizes an elementwise closeness comparison.
type CloseReport struct {
	Equal       bool       `json:"equal"`
	ShapeMatch  bool       `json:"shape_match"`
	Compared    int        `json:"compared"`
	Mismatched  int        `json:"mismatched"`
	MaxAbsDiff  float64    `json:"max_abs_diff"`
	MaxRelDiff  float64    `json:"max_rel_diff"`
	Mismatches  []Mismatch `json:"mismatches,omitempty"`
	ShapeDetail string     `json:"shape_detail,omitempty"`
}

// maxReportedMismatches caps the per-element detail kept in a report so a
// fully divergent large tensor does not balloon the run record.
const maxReportedMismatches = 16

// AllClose compares two tensors elementwise using |a-b| <= atol + rtol*|b|,
// where want is the reference value. Shape inequality is a failure, not an
// error. Pass negative tolerances to use the defaults.
func AllClose(got, want *Tensor, rtol, atol float64) *CloseReport {
	if rtol < 0 {
		rtol = DefaultRTol
	}
	if atol < 0 {
		atol = DefaultATol
	}

	report := &CloseReport{ShapeMatch: SameShape(got.Shape, want.Shape)}
	if !report.ShapeMatch {
		report.ShapeDetail = fmt.Sprintf("shape mismatch: got %v, want %v", got.Shape, want.Shape)
		return report
	}

	report.Compared = len(want.Data)
	for i := range want.Data {
		a := float64(got.Data[i])
		b := float64(want.Data[i])
		absDiff := math.Abs(a - b)
		if absDiff > report.MaxAbsDiff {
			report.MaxAbsDiff = absDiff
		}
		if b != 0 {
			if rel := absDiff / math.Abs(b); rel > report.MaxRelDiff {
				report.MaxRelDiff = rel
			}
		}
		if absDiff > atol+rtol*math.Abs(b) {
			report.Mismatched++
			if len(report.Mismatches) < maxReportedMismatches {
				report.Mismatches = append(report.Mismatches, Mismatch{
					Index:    i,
					Expected: want.Data[i],
					Actual:   got.Data[i],
					AbsDiff:  absDiff,
				})
			}
		}
	}

	report.Equal = report.Mismatched == 0
	return report
}
