package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/posture-scanner/internal/scan"
)

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("openreport")
	require.NoError(t, err)
	assert.Equal(t, ReportKindOpenReport, kind)

	kind, err = ParseKind("policyreport")
	require.NoError(t, err)
	assert.Equal(t, ReportKindPolicyReport, kind)

	_, err = ParseKind("clusterreport")
	require.ErrorContains(t, err, "invalid report-kind 'clusterreport'")
}

func TestNewReportStoreOfKind(t *testing.T) {
	fakeClient := newFakeClient(t)

	store, err := NewReportStoreOfKind(ReportKindOpenReport, fakeClient, testNamespace, false, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &OpenReportStore{}, store)

	store, err = NewReportStoreOfKind(ReportKindPolicyReport, fakeClient, testNamespace, false, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &PolicyReportStore{}, store)

	_, err = NewReportStoreOfKind(CrdKind(42), fakeClient, testNamespace, false, slog.Default())
	require.Error(t, err)
}

func TestJSONStore(t *testing.T) {
	var out bytes.Buffer
	store := NewJSONStore(&out)

	require.NoError(t, store.SaveScan(t.Context(), newTestScan("scan-1", "contoso")))
	require.NoError(t, store.SaveScan(t.Context(), newTestScan("scan-2", "fabrikam")))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &decoded))
	assert.Equal(t, "scan-2", decoded["scanId"])
	assert.Equal(t, "fabrikam", decoded["tenantId"])
	assert.Equal(t, "Completed", decoded["state"])
}

type failingStore struct{ err error }

func (f failingStore) SaveScan(context.Context, *scan.Scan) error { return f.err }

func TestStoresAttemptsEveryStore(t *testing.T) {
	var out bytes.Buffer
	boom := errors.New("boom")
	stores := Stores{failingStore{err: boom}, nil, NewJSONStore(&out)}

	err := stores.SaveScan(t.Context(), newTestScan("scan-1", "contoso"))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, out.String(), `"scanId":"scan-1"`)
}

func TestLabelValue(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"contoso.onmicrosoft.com", "contoso.onmicrosoft.com"},
		{"2f6f1b2c-8f43-4c5e-9b0e-3a1d6f1c2b7a", "2f6f1b2c-8f43-4c5e-9b0e-3a1d6f1c2b7a"},
		{"Contoso Ltd/EU", "Contoso-Ltd-EU"},
		{"@tenant@", "tenant"},
		{string(bytes.Repeat([]byte("a"), 70)), string(bytes.Repeat([]byte("a"), 63))},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			assert.Equal(t, test.expected, labelValue(test.in))
		})
	}
}
