package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubewarden/posture-scanner/internal/executor"
)

func result(id string, status executor.Status) executor.Result {
	return executor.Result{RecommendationID: id, Status: status, StatusID: status.Code()}
}

func TestFold(t *testing.T) {
	a := New()

	assert.Equal(t, Summary{}, a.Summary())

	s := a.Fold(result("1.1.1", executor.StatusPass))
	assert.Equal(t, Summary{Passed: 1, Total: 1, Compliance: 100}, s)

	s = a.Fold(result("1.1.2", executor.StatusFail))
	assert.Equal(t, Summary{Passed: 1, Failed: 1, Total: 2, Compliance: 50}, s)

	s = a.Fold(result("1.1.3", executor.StatusError))
	assert.Equal(t, Summary{Passed: 1, Failed: 1, Errored: 1, Total: 3, Compliance: 50}, s)

	s = a.Fold(result("1.1.4", executor.StatusPass))
	assert.Equal(t, 3, s.Total-s.Errored)
	assert.InDelta(t, 66.666, s.Compliance, 0.01)
}

func TestFoldIsIdempotent(t *testing.T) {
	a := New()
	a.Fold(result("1.1.1", executor.StatusPass))
	a.Fold(result("1.1.2", executor.StatusFail))
	before := a.Summary()

	after := a.Fold(result("1.1.1", executor.StatusPass))
	assert.Equal(t, before, after)

	// a changed verdict moves the count
	moved := a.Fold(result("1.1.1", executor.StatusError))
	assert.Equal(t, Summary{Failed: 1, Errored: 1, Total: 2, Compliance: 0}, moved)
}

func TestCompliance(t *testing.T) {
	tests := []struct {
		name           string
		passed, failed int
		expected       float64
	}{
		{"nothing evaluated", 0, 0, 0},
		{"all passed", 4, 0, 100},
		{"all failed", 0, 3, 0},
		{"three out of four", 3, 1, 75},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.InDelta(t, test.expected, Compliance(test.passed, test.failed), 0.0001)
		})
	}
}

func TestFoldOnlyErrors(t *testing.T) {
	a := New()
	a.Fold(result("1.1.1", executor.StatusError))
	a.Fold(result("1.1.2", executor.StatusError))
	assert.Equal(t, Summary{Errored: 2, Total: 2}, a.Summary())
}
