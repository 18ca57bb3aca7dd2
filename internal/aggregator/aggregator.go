package aggregator

import (
	"github.com/kubewarden/posture-scanner/internal/executor"
)

// Summary holds the scan level statistics.
type Summary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Total   int `json:"total"`
	// Compliance is passed / (passed + failed) * 100. Errored checks are not
	// part of the denominator. It is 0 when no check passed or failed.
	Compliance float64 `json:"compliance"`
}

// Aggregator folds check results into a Summary. It is not safe for
// concurrent use: a scan folds its results from a single goroutine.
type Aggregator struct {
	statuses map[string]executor.Status
	summary  Summary
}

func New() *Aggregator {
	return &Aggregator{statuses: make(map[string]executor.Status)}
}

// Fold adds a result to the running totals and returns them. Folding a
// result for a recommendation id that was already counted replaces its
// previous contribution.
func (a *Aggregator) Fold(res executor.Result) Summary {
	if previous, found := a.statuses[res.RecommendationID]; found {
		a.add(previous, -1)
	} else {
		a.summary.Total++
	}
	a.statuses[res.RecommendationID] = res.Status
	a.add(res.Status, 1)

	a.summary.Compliance = Compliance(a.summary.Passed, a.summary.Failed)
	return a.summary
}

// Summary returns the current totals.
func (a *Aggregator) Summary() Summary {
	return a.summary
}

func (a *Aggregator) add(status executor.Status, delta int) {
	switch status {
	case executor.StatusPass:
		a.summary.Passed += delta
	case executor.StatusFail:
		a.summary.Failed += delta
	default:
		a.summary.Errored += delta
	}
}

// Compliance returns the compliance percentage of a scan.
func Compliance(passed, failed int) float64 {
	if passed+failed == 0 {
		return 0
	}
	return float64(passed) / float64(passed+failed) * 100
}
