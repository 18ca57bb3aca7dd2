package catalogue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const cisManifest = `id: cis-m365
version: %s
title: CIS Microsoft 365 Foundations
checks:
  - id: "1.1.2"
    title: Ensure two emergency access accounts have been defined
    level: L1
    modules: [directory-graph]
    script: scripts/check.sh
  - id: "1.1.1"
    title: Ensure administrative accounts are cloud-only
    level: L1
    modules: [directory-graph]
    script: scripts/check.sh
    timeout: 2m
  - id: "1.1.3"
    title: Ensure that between two and four global admins are designated
    level: L2
    modules: [directory-graph, mail-admin]
    script: scripts/check.sh
`

// writeBenchmark creates a benchmark directory below root holding the given
// manifest and a scripts/check.sh executable.
func writeBenchmark(t *testing.T, root, name, manifest string) string {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "check.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644))
	return dir
}
