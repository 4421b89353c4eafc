package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: cached_read
description: "A second read is served by the nearest tier"
origin:
  - type: Post
    records:
      - {id: p1, title: Hello}
steps:
  - op: get
    type: Post
    id: p1
  - op: offline
  - op: get
    type: Post
    id: p1
    expect:
      exists: true
      record: {title: Hello}
assertions:
  - type: origin_calls
    verb: get
    count: 1
`

const failingScenario = `
name: wrong_count
description: "Asserts a call count that never happens"
steps:
  - op: online
assertions:
  - type: journal_count
    count: 3
`

func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestTestCommandPasses(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"cached_read.yaml": passingScenario})

	out, err := runCLI(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 cached_read")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandFailure(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"cached_read.yaml": passingScenario,
		"wrong_count.yaml": failingScenario,
	})

	out, err := runCLI(t, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["passed"])
	assert.Equal(t, float64(1), data["failed"])
}

func TestTestCommandFilter(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"cached_read.yaml": passingScenario,
		"wrong_count.yaml": failingScenario,
	})

	out, err := runCLI(t, "test", dir, "--filter", "cached_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "wrong_count")
}

func TestTestCommandGolden(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"cached_read.yaml": passingScenario})
	goldenPath := filepath.Join(dir, "golden", "cached_read.golden")

	_, err := runCLI(t, "test", dir, "--update")
	require.NoError(t, err)
	require.FileExists(t, goldenPath)

	_, err = runCLI(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"cached_read","trace":[]}`), 0o644))
	out, err := runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandNoScenarios(t *testing.T) {
	out, err := runCLI(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandMissingDir(t *testing.T) {
	_, err := runCLI(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandLoadError(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"broken.yaml": "name: broken\n"})

	out, err := runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "\u2717 broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}
