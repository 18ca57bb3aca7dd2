package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/posture-scanner/internal/executor"
)

func TestInfraTracker(t *testing.T) {
	patterns, err := compilePatterns([]string{"connection refused", "(?i)too many requests"})
	require.NoError(t, err)

	refused := executor.ErrorResult("1", "dial tcp: connection refused")
	throttled := executor.ErrorResult("2", "HTTP 429 Too Many Requests")
	pass := executor.Result{Status: executor.StatusPass}
	unrelated := executor.ErrorResult("3", "module not installed")

	tracker := newInfraTracker(3, patterns)
	steps := []struct {
		res       executor.Result
		exhausted bool
	}{
		{refused, false},
		{refused, false},
		{throttled, false}, // a different fingerprint restarts the streak
		{throttled, false},
		{unrelated, false}, // any other result resets the streak
		{throttled, false},
		{pass, false},
		{refused, false},
		{refused, false},
		{refused, true},
	}
	for i, step := range steps {
		reason, exhausted := tracker.observe(step.res)
		assert.Equal(t, step.exhausted, exhausted, "step %d", i)
		if exhausted {
			assert.Contains(t, reason, `"connection refused"`)
		}
	}
}

func TestInfraTrackerDisabled(t *testing.T) {
	patterns, err := compilePatterns([]string{"."})
	require.NoError(t, err)

	tracker := newInfraTracker(0, patterns)
	for range 10 {
		_, exhausted := tracker.observe(executor.ErrorResult("1", "anything"))
		assert.False(t, exhausted)
	}
}

func TestInfraTrackerIgnoresFailVerdicts(t *testing.T) {
	patterns, err := compilePatterns([]string{"refused"})
	require.NoError(t, err)

	tracker := newInfraTracker(1, patterns)
	_, exhausted := tracker.observe(executor.Result{Status: executor.StatusFail, Error: "refused"})
	assert.False(t, exhausted)
}
