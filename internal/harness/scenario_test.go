package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "offline_fallback.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "offline_fallback", scenario.Name)
	assert.Len(t, scenario.Origin, 1)
	assert.Len(t, scenario.Steps, 5)
	assert.Len(t, scenario.Assertions, 4)

	first := scenario.Steps[0]
	assert.Equal(t, OpGet, first.Op)
	require.NotNil(t, first.Freshness)
	assert.Equal(t, 60, *first.Freshness)
	require.NotNil(t, first.Expect)
	require.NotNil(t, first.Expect.Exists)
	assert.True(t, *first.Expect.Exists)
	assert.Equal(t, "Hello", first.Expect.Record["title"])

	assert.True(t, scenario.Steps[4].Enqueue)
	assert.Equal(t, 2, scenario.tierCount())
	assert.Equal(t, int64(DefaultStartMs), scenario.startMs())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	content := `
name: typo
description: "Misspelled assertions key"
steps:
  - op: online
assertion:
  - type: journal_count
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{op: online}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{op: online}]",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown op",
			yaml:    "name: n\ndescription: d\nsteps: [{op: sync}]",
			wantErr: `unknown op "sync"`,
		},
		{
			name:    "get without id",
			yaml:    "name: n\ndescription: d\nsteps: [{op: get, type: Post}]",
			wantErr: "id is required for get",
		},
		{
			name:    "query without name or key",
			yaml:    "name: n\ndescription: d\nsteps: [{op: query, type: Post}]",
			wantErr: "name or key is required",
		},
		{
			name:    "hold with id and key",
			yaml:    "name: n\ndescription: d\nsteps: [{op: hold, type: Post, id: p1, key: k}]",
			wantErr: "exactly one of id or key",
		},
		{
			name:    "bad duration",
			yaml:    "name: n\ndescription: d\nsteps: [{op: advance, duration: soon}]",
			wantErr: "invalid duration",
		},
		{
			name:    "negative duration",
			yaml:    "name: n\ndescription: d\nsteps: [{op: advance, duration: -1s}]",
			wantErr: "must be non-negative",
		},
		{
			name:    "enqueue on read",
			yaml:    "name: n\ndescription: d\nsteps: [{op: get, type: Post, id: p1, enqueue: true}]",
			wantErr: "enqueue is only supported for writes",
		},
		{
			name:    "expect on advance",
			yaml:    "name: n\ndescription: d\nsteps: [{op: advance, duration: 1s, expect: {exists: true}}]",
			wantErr: "expect is only supported",
		},
		{
			name:    "origin record without id",
			yaml:    "name: n\ndescription: d\norigin: [{type: Post, records: [{title: x}]}]\nsteps: [{op: online}]",
			wantErr: "id is required",
		},
		{
			name:    "tier out of range",
			yaml:    "name: n\ndescription: d\nsteps: [{op: online}]\nassertions: [{type: tier_missing, tier: 2, record_type: Post, id: p1}]",
			wantErr: "tier 2 out of range",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nsteps: [{op: online}]\nassertions: [{type: trace_order}]",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name:    "origin_calls without verb",
			yaml:    "name: n\ndescription: d\nsteps: [{op: online}]\nassertions: [{type: origin_calls, count: 1}]",
			wantErr: "verb is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_ClearWithDuration(t *testing.T) {
	scenario, err := ParseScenario([]byte("name: n\ndescription: d\nsteps: [{op: clear, duration: 1h, record_type: Post}]"))
	require.NoError(t, err)
	assert.Equal(t, "1h", scenario.Steps[0].Duration)
	assert.Equal(t, "Post", scenario.Steps[0].RecordType)
}
