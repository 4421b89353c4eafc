package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/layercache/internal/clock"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
	"github.com/roach88/layercache/internal/testutil"
)

func buildRuntime(t *testing.T, yaml string) *Runtime {
	t.Helper()
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	cfg.Root = filepath.Join(t.TempDir(), cfg.Root)

	rt, err := Build(cfg, WithClock(clock.NewManual(1_700_000_000_000)))
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestBuild_OpensEveryTier(t *testing.T) {
	rt := buildRuntime(t, fullConfig)

	require.Len(t, rt.Tiers, 3)
	assert.Equal(t, "memory", rt.Tiers[0].Name())
	assert.Equal(t, "file", rt.Tiers[1].Name())
	assert.Equal(t, "sqlite", rt.Tiers[2].Name())

	_, err := os.Stat(filepath.Join(rt.Config.Root, DefaultSQLitePath))
	assert.NoError(t, err, "sqlite database created under root")
	assert.Equal(t, filepath.Join(rt.Config.Root, "PendingChanges"), rt.Journal.Dir())
}

func TestBuild_OrchestratorWritesThroughEveryTier(t *testing.T) {
	rt := buildRuntime(t, fullConfig)
	ctx := context.Background()

	src := clock.NewManual(1_700_000_000_000)
	origin := testutil.NewFakeOrigin(src, rt.Config.Types...)
	origin.Put("Post", ir.Object{"id": ir.String("p1"), "title": ir.String("Hello")})

	orch := rt.Orchestrator(origin)
	resp, err := orch.Get(ctx, "Post", "p1", 60)
	require.NoError(t, err)
	require.True(t, resp.Exists)

	// Every configured tier now answers on its own.
	for _, tr := range rt.Tiers {
		got, err := tr.Fetch(ctx, protocol.NewGet("Post", "p1", protocol.FreshnessAny, src.NowMs()))
		require.NoError(t, err, tr.Name())
		assert.True(t, got.Exists, tr.Name())
		assert.Equal(t, ir.String("Hello"), got.Record.Base["title"], tr.Name())
	}
}

func TestBuild_SchemaGatesUnknownTypes(t *testing.T) {
	rt := buildRuntime(t, fullConfig)
	origin := testutil.NewFakeOrigin(clock.NewManual(1), rt.Config.Types...)

	_, err := rt.Orchestrator(origin).Get(context.Background(), "Invoice", "i1", 60)
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrUnknownType)
}

func TestBuild_HoldsPersistUnderRoot(t *testing.T) {
	rt := buildRuntime(t, "root: data\n")
	require.NoError(t, rt.Holds.Hold("Post", "p1"))

	_, err := os.Stat(filepath.Join(rt.Config.Root, "Hold", "Post.json"))
	assert.NoError(t, err)
}

func TestBuild_MemoryTTL(t *testing.T) {
	rt := buildRuntime(t, "root: data\ntiers:\n  - kind: memory\n    ttl: 1h\n  - kind: memory\n")
	require.Len(t, rt.Tiers, 2)
	assert.Equal(t, "memory-1", rt.Tiers[0].Name())
	assert.Equal(t, "memory-2", rt.Tiers[1].Name())
}

func TestBuild_FileTiersWithSeparatePaths(t *testing.T) {
	rt := buildRuntime(t, `
root: data
tiers:
  - {kind: file, name: hot, path: hot}
  - {kind: file, name: cold, path: cold}
`)
	ctx := context.Background()

	// Seed only the far tier; a read must copy the record into the near one.
	src := clock.NewManual(1_700_000_000_000)
	require.NoError(t, rt.Tiers[1].StoreRecord(ctx, "Post", "p1", ir.Object{"id": ir.String("p1")}, src.NowMs()))
	coldFile := filepath.Join(rt.Config.Root, "cold", "Post", "Models", "p1.json")
	hotFile := filepath.Join(rt.Config.Root, "hot", "Post", "Models", "p1.json")
	require.FileExists(t, coldFile)
	require.NoFileExists(t, hotFile)

	orch := rt.Orchestrator(testutil.NewFakeOrigin(src, ir.TypeDescriptor{Name: "Post"}))
	resp, err := orch.Get(ctx, "Post", "p1", 60)
	require.NoError(t, err)
	require.True(t, resp.Exists)

	assert.FileExists(t, hotFile, "write-back reached the near tier")
}
