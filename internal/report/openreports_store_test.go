package report

import (
	"log/slog"
	"testing"

	openreports "github.com/openreports/reports-api/apis/openreports.io/v1alpha1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kubewarden/posture-scanner/internal/executor"
	"github.com/kubewarden/posture-scanner/internal/scan"
)

func TestNewOpenReport(t *testing.T) {
	record := newTestScan("scan-1", "contoso.onmicrosoft.com")
	record.State = scan.StateFailed
	record.FailureReason = "infrastructure exhausted"

	report := NewOpenReport(record, testNamespace)

	assert.Equal(t, "posture-scan-1", report.GetName())
	assert.Equal(t, testNamespace, report.GetNamespace())
	assert.Equal(t, map[string]string{
		"app.kubernetes.io/managed-by":    "posture-scanner",
		"posture.kubewarden.io/scan-id":   "scan-1",
		"posture.kubewarden.io/tenant":    "contoso.onmicrosoft.com",
		"posture.kubewarden.io/benchmark": "cis-m365",
	}, report.GetLabels())
	assert.Equal(t, "Failed", report.GetAnnotations()["posture.kubewarden.io/state"])
	assert.Equal(t, "50.00", report.GetAnnotations()["posture.kubewarden.io/compliance"])
	assert.Equal(t, "infrastructure exhausted", report.GetAnnotations()["posture.kubewarden.io/failure-reason"])
	assert.Equal(t, "3.1.0", report.GetAnnotations()["posture.kubewarden.io/benchmark-version"])
	assert.Equal(t, "L1", report.GetAnnotations()["posture.kubewarden.io/level"])

	assert.Equal(t, "Tenant", report.Scope.Kind)
	assert.Equal(t, "contoso.onmicrosoft.com", report.Scope.Name)
	assert.Equal(t, openreports.ReportSummary{Pass: 1, Fail: 1, Error: 1}, report.Summary)

	require.Len(t, report.Results, 3)
	pass, fail, errored := report.Results[0], report.Results[1], report.Results[2]

	assert.Equal(t, "1.1.1", pass.Policy)
	assert.Equal(t, "cis-m365", pass.Category)
	assert.Equal(t, "posture-scanner", pass.Source)
	assert.Equal(t, openreports.Result("pass"), pass.Result)
	assert.Equal(t, "1", pass.Properties["status-id"])
	assert.Equal(t, "1.5s", pass.Properties["duration"])
	assert.Equal(t, "2026-03-01T10:00:00Z", pass.Properties["started-at"])
	assert.NotContains(t, pass.Properties, "details")

	assert.Equal(t, openreports.Result("fail"), fail.Result)
	assert.Equal(t, "2", fail.Properties["status-id"])
	assert.JSONEq(t, `{"users":["alice"]}`, fail.Properties["details"])

	assert.Equal(t, openreports.Result("error"), errored.Result)
	assert.Equal(t, "3", errored.Properties["status-id"])
	assert.Equal(t, "timeout", errored.Description)
}

func TestOpenReportStoreSaveScan(t *testing.T) {
	fakeClient := newFakeClient(t)
	store := NewOpenReportStore(fakeClient, testNamespace, false, slog.Default())

	record := newTestScan("scan-1", "contoso")
	require.NoError(t, store.SaveScan(t.Context(), record))

	expected := NewOpenReport(record, testNamespace)
	stored := &openreports.Report{}
	err := fakeClient.Get(t.Context(), types.NamespacedName{Name: expected.GetName(), Namespace: testNamespace}, stored)
	require.NoError(t, err)

	assert.Equal(t, expected.GetLabels(), stored.GetLabels())
	assert.Equal(t, expected.GetAnnotations(), stored.GetAnnotations())
	assert.Equal(t, expected.Scope, stored.Scope)
	assert.Equal(t, expected.Summary, stored.Summary)
	assert.Equal(t, expected.Results, stored.Results)
}

func TestOpenReportStorePatchesExistingReport(t *testing.T) {
	fakeClient := newFakeClient(t)
	store := NewOpenReportStore(fakeClient, testNamespace, false, slog.Default())

	record := newTestScan("scan-1", "contoso")
	require.NoError(t, store.SaveScan(t.Context(), record))

	record.Results = record.Results[:1]
	record.Results[0].Status = executor.StatusFail
	record.Results[0].StatusID = executor.StatusIDFail
	record.Summary.Passed, record.Summary.Failed, record.Summary.Errored = 0, 1, 0
	require.NoError(t, store.SaveScan(t.Context(), record))

	stored := &openreports.Report{}
	err := fakeClient.Get(t.Context(), types.NamespacedName{Name: "posture-scan-1", Namespace: testNamespace}, stored)
	require.NoError(t, err)
	require.Len(t, stored.Results, 1)
	assert.Equal(t, openreports.Result("fail"), stored.Results[0].Result)
	assert.Equal(t, openreports.ReportSummary{Fail: 1}, stored.Summary)
}

func TestOpenReportStoreRetention(t *testing.T) {
	previous := NewOpenReport(newTestScan("scan-0", "contoso"), testNamespace)
	otherTenant := NewOpenReport(newTestScan("scan-9", "fabrikam"), testNamespace)
	unmanaged := &openreports.Report{ObjectMeta: metav1.ObjectMeta{
		Name:      "someone-else",
		Namespace: testNamespace,
		Labels: map[string]string{
			"posture.kubewarden.io/tenant":    "contoso",
			"posture.kubewarden.io/benchmark": "cis-m365",
		},
	}}

	tests := []struct {
		name            string
		keepHistory     bool
		previousDeleted bool
	}{
		{"previous reports are deleted", false, true},
		{"history is kept", true, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fakeClient := newFakeClient(t, previous.DeepCopy(), otherTenant.DeepCopy(), unmanaged.DeepCopy())
			store := NewOpenReportStore(fakeClient, testNamespace, test.keepHistory, slog.Default())

			require.NoError(t, store.SaveScan(t.Context(), newTestScan("scan-1", "contoso")))

			err := fakeClient.Get(t.Context(), client.ObjectKeyFromObject(previous), &openreports.Report{})
			if test.previousDeleted {
				require.True(t, apierrors.IsNotFound(err), "expected previous report to be deleted, got %v", err)
			} else {
				require.NoError(t, err)
			}

			require.NoError(t, fakeClient.Get(t.Context(), client.ObjectKeyFromObject(otherTenant), &openreports.Report{}))
			require.NoError(t, fakeClient.Get(t.Context(), client.ObjectKeyFromObject(unmanaged), &openreports.Report{}))
			require.NoError(t, fakeClient.Get(t.Context(), types.NamespacedName{Name: "posture-scan-1", Namespace: testNamespace}, &openreports.Report{}))
		})
	}
}
