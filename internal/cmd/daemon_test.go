//go:build unix

package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/scan"
)

func TestDaemonReportsRound(t *testing.T) {
	cfg := engineConfig{
		catalogueDir:       writeCatalogue(t),
		credentialStore:    credentialStoreFile,
		credentialsFile:    writeCredentialsFile(t),
		credentialsChannel: "file",
		credentialsTempDir: t.TempDir(),
		disableStore:       true,
	}
	var logs bytes.Buffer
	logger := slog.New(NewHandler(&logs, "info"))

	e, err := newEngine(t.Context(), &cobra.Command{}, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Close(context.Background()))
	})

	d := &daemon{
		engine:        e,
		tenants:       []string{"contoso", "fabrikam"},
		request:       scan.Request{Benchmark: catalogue.Ref{ID: "cis-m365"}, Level: "L1"},
		parallelScans: 2,
		logger:        logger,
	}
	d.scanTenants(t.Context())
	require.Len(t, e.registry.List(), 2)

	report := d.reportRound(t.Context())
	assert.Equal(t, 1, report.states[scan.StateCompleted])
	assert.Equal(t, 1, report.states[scan.StateFailed], "fabrikam has no credentials")
	assert.Equal(t, 1, report.summary.Passed)
	assert.Equal(t, 1, report.summary.Failed)
	assert.InDelta(t, 50.0, report.summary.Compliance, 0.001)

	assert.Empty(t, e.registry.List(), "terminal scans are forgotten after the round")
	assert.Contains(t, logs.String(), `"message":"scan round finished"`)
}
