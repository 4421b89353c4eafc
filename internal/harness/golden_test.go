package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_OfflineFallback(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "offline_fallback.yaml"))
	require.NoError(t, err)

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_OfflineFallback -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestTraceSnapshot_OmitsEmptyFields(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "s",
		Trace:        []TraceEvent{{Step: 0, Op: OpOnline, ClockMs: 5}},
	}
	m := snapshot.toCanonicalMap()
	events := m["trace"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"step": 0, "op": OpOnline, "clock_ms": int64(5)}, events[0])
}
