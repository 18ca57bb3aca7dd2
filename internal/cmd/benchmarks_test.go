package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchmarksList(t *testing.T) {
	root := writeCatalogue(t)

	stdout, _, err := execute(t, "benchmarks", "list", "--catalogue-dir", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, "cis-m365")
	assert.Contains(t, stdout, "3.1.0")
	assert.Contains(t, stdout, "CIS Microsoft 365 Foundations")

	stdout, _, err = execute(t, "benchmarks", "list", "--catalogue-dir", root, "--output", "json")
	require.NoError(t, err)
	var entries []benchmarkEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	assert.Equal(t, []benchmarkEntry{{ID: "cis-m365", Version: "3.1.0", Title: "CIS Microsoft 365 Foundations", Checks: 3}}, entries)
}

func TestBenchmarksChecks(t *testing.T) {
	root := writeCatalogue(t)

	stdout, _, err := execute(t, "benchmarks", "checks", "cis-m365", "--catalogue-dir", root, "--level", "L1", "--output", "json")
	require.NoError(t, err)
	var entries []checkEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "1.1.1", entries[0].RecommendationID)
	assert.Equal(t, "2m0s", entries[0].Timeout)
	assert.Equal(t, "1.1.2", entries[1].RecommendationID)

	stdout, _, err = execute(t, "benchmarks", "checks", "cis-m365@3.1.0", "--catalogue-dir", root,
		"--selector", `"mail-admin" in modules`)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1.1.3")
	assert.NotContains(t, stdout, "1.1.1")

	_, _, err = execute(t, "benchmarks", "checks", "cis-m365@9.9.9", "--catalogue-dir", root)
	require.Error(t, err)

	_, _, err = execute(t, "benchmarks", "list", "--catalogue-dir", root, "--output", "yaml")
	require.ErrorContains(t, err, "invalid output 'yaml'")
}
