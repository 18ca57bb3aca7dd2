package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testManifest = `id: cis-m365
version: 3.1.0
title: CIS Microsoft 365 Foundations
checks:
  - id: "1.1.2"
    title: Ensure two emergency access accounts have been defined
    level: L1
    modules: [directory-graph]
    script: check.sh
  - id: "1.1.1"
    title: Ensure administrative accounts are cloud-only
    level: L1
    modules: [directory-graph]
    script: check.sh
    timeout: 2m
  - id: "1.1.3"
    title: Ensure that between two and four global admins are designated
    level: L2
    modules: [directory-graph, mail-admin]
    script: check.sh
`

// checkScript passes every check but 1.1.2.
const checkScript = `#!/bin/sh
case "$POSTURE_CHECK_ID" in
  1.1.2) echo '{"status":"Fail","status_id":2,"Details":{"accounts":1}}' ;;
  *) echo '{"status":"Pass","status_id":1}' ;;
esac
`

func writeCatalogue(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "cis-m365")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "benchmark.yaml"), []byte(testManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "check.sh"), []byte(checkScript), 0o755))
	return root
}

func writeCredentialsFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	content := `tenants:
  contoso:
    tenant-domain: contoso.onmicrosoft.com
    client-id: app-id
    client-secret: s3cr3t-client-value
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	rootCmd := NewRootCommand()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}
