package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/kubewarden/posture-scanner/internal/aggregator"
	"github.com/kubewarden/posture-scanner/internal/executor"
	"github.com/kubewarden/posture-scanner/internal/scan"
	"github.com/kubewarden/posture-scanner/internal/scheme"
)

const testNamespace = "posture"

func newFakeClient(t *testing.T, objects ...client.Object) client.Client {
	t.Helper()
	s, err := scheme.NewScheme()
	require.NoError(t, err)
	return fake.NewClientBuilder().WithScheme(s).WithObjects(objects...).Build()
}

func newTestScan(id, tenant string) *scan.Scan {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(time.Minute)
	results := []executor.Result{
		{
			RecommendationID: "1.1.1",
			Status:           executor.StatusPass,
			StatusID:         executor.StatusIDPass,
			StartedAt:        started,
			Duration:         1500 * time.Millisecond,
		},
		{
			RecommendationID: "1.1.2",
			Status:           executor.StatusFail,
			StatusID:         executor.StatusIDFail,
			Details:          map[string]any{"users": []any{"alice"}},
			StartedAt:        started,
			Duration:         time.Second,
		},
		{
			RecommendationID: "1.1.3",
			Status:           executor.StatusError,
			StatusID:         executor.StatusIDError,
			Error:            "timeout",
			StartedAt:        started,
			Duration:         2 * time.Second,
		},
	}
	return &scan.Scan{
		ID:               id,
		TenantID:         tenant,
		BenchmarkID:      "cis-m365",
		BenchmarkVersion: "3.1.0",
		Level:            "L1",
		State:            scan.StateCompleted,
		CreatedAt:        started,
		StartedAt:        &started,
		CompletedAt:      &completed,
		Results:          results,
		Summary:          aggregator.Summary{Passed: 1, Failed: 1, Errored: 1, Total: 3, Compliance: 50},
		Expected:         len(results),
	}
}
