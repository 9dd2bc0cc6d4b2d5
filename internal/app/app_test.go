package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"treehouse/internal/config"
	"treehouse/internal/gdmc"
	"treehouse/internal/gdmc/gdmctest"
	"treehouse/internal/persistence/audit"
	"treehouse/internal/persistence/indexdb"
)

var (
	grass  = gdmc.NewBlock("grass_block")
	dirt   = gdmc.NewBlock("dirt")
	stone  = gdmc.NewBlock("stone")
	oakLog = gdmc.NewBlock("oak_log")
	leaves = gdmc.NewBlock("oak_leaves")
)

func newTestApp(t *testing.T, fake *gdmctest.Interface, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Interface.Host = fake.URL()
	cfg.Interface.Timeout = config.Duration(5 * time.Second)
	cfg.Data.Dir = t.TempDir()
	cfg.TreeHouse.Seed = 7
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return a
}

func TestApp_BuildThenUndo(t *testing.T) {
	ctx := context.Background()
	fake := gdmctest.New()
	defer fake.Close()
	fake.SetBuildArea(gdmc.BoxBetween(gdmc.V(0, 64, 0), gdmc.V(20, 100, 20)))

	a := newTestApp(t, fake, nil)
	built, err := a.Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(7), built.Seed)
	assert.GreaterOrEqual(t, built.Summary.Total(), 344)
	assert.Equal(t, gdmc.BoxBetween(gdmc.V(-4, 64, -4), gdmc.V(4, 79, 4)), built.Bounds)
	assert.Zero(t, built.Stats.Failed)
	assert.Equal(t, oakLog, fake.Get(gdmc.V(0, 70, 0)))
	assert.Equal(t, oakLog, fake.Get(gdmc.V(0, 75, 0)))
	assert.Equal(t, gdmc.NewBlock("oak_slab"), fake.Get(gdmc.V(0, 78, 0)))

	entries, err := audit.ReadDir(built.AuditDir)
	require.NoError(t, err)
	assert.Len(t, entries, built.Stats.Placed)

	undone, err := a.Undo(ctx, built.RunID)
	require.NoError(t, err)
	assert.Equal(t, built.Stats.Placed, undone.Restored)
	assert.Zero(t, undone.Skipped)
	for _, pos := range []gdmc.Vec3{gdmc.V(0, 70, 0), gdmc.V(0, 75, 0), gdmc.V(0, 78, 0), gdmc.V(1, 75, -3)} {
		assert.True(t, fake.Get(pos).IsAir(), "%s still %s", pos, fake.Get(pos))
	}

	runs, err := a.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, OpUndo, runs[0].Op)
	assert.Equal(t, OpBuild, runs[1].Op)
	assert.Equal(t, indexdb.RunFinished, runs[1].Status)
	assert.Equal(t, int64(7), runs[1].Seed)
	assert.Equal(t, built.Stats.Changed, runs[1].Stats.Changed)
}

func TestApp_UndoRestoresBlockData(t *testing.T) {
	ctx := context.Background()
	fake := gdmctest.New()
	defer fake.Close()
	fake.SetBuildArea(gdmc.BoxBetween(gdmc.V(0, 64, 0), gdmc.V(20, 100, 20)))
	chest := gdmc.MustParseBlock(`chest[facing=north]{Items:[{Slot:0b,id:"minecraft:diamond",Count:3b}]}`)
	fake.Set(gdmc.V(0, 64, 0), chest)

	a := newTestApp(t, fake, nil)
	built, err := a.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, oakLog, fake.Get(gdmc.V(0, 64, 0)))

	_, err = a.Undo(ctx, built.RunID)
	require.NoError(t, err)
	got := fake.Get(gdmc.V(0, 64, 0))
	assert.Equal(t, chest.ID, got.ID)
	assert.Equal(t, chest.States, got.States)
	assert.Equal(t, chest.Data, got.Data)
}

func TestApp_ClearRemovesTree(t *testing.T) {
	ctx := context.Background()
	fake := gdmctest.New()
	defer fake.Close()
	area := gdmc.BoxBetween(gdmc.V(0, 60, 0), gdmc.V(2, 90, 2))
	fake.SetBuildArea(area)
	fake.Fill(gdmc.BoxBetween(gdmc.V(0, 55, 0), gdmc.V(2, 63, 2)), grass)
	fake.Set(gdmc.V(1, 63, 1), dirt)
	fake.Fill(gdmc.BoxBetween(gdmc.V(1, 64, 1), gdmc.V(1, 67, 1)), oakLog)
	fake.Fill(gdmc.BoxBetween(gdmc.V(0, 68, 0), gdmc.V(2, 68, 2)), leaves)
	fake.Set(gdmc.V(1, 69, 1), leaves)

	a := newTestApp(t, fake, nil)
	res, err := a.Clear(ctx)
	require.NoError(t, err)

	assert.Equal(t, 9, res.Clear.Columns)
	assert.Equal(t, 4, res.Clear.Descended)
	assert.Equal(t, 1, res.Clear.DirtRemoved)
	assert.Equal(t, 46, res.Clear.Cleared)
	for y := 63; y < 70; y++ {
		assert.True(t, fake.Get(gdmc.V(1, y, 1)).IsAir(), "y=%d", y)
	}
	assert.True(t, fake.Get(gdmc.V(0, 68, 2)).IsAir())
	assert.Equal(t, grass, fake.Get(gdmc.V(0, 63, 0)))
	assert.Equal(t, grass, fake.Get(gdmc.V(1, 62, 1)))
}

func TestApp_FlattenAndPartialUndo(t *testing.T) {
	ctx := context.Background()
	fake := gdmctest.New()
	defer fake.Close()
	fake.SetBuildArea(gdmc.BoxBetween(gdmc.V(0, 64, 0), gdmc.V(3, 70, 3)))
	fake.Fill(gdmc.BoxBetween(gdmc.V(0, 63, 0), gdmc.V(3, 63, 3)), stone)
	fake.FailAt(gdmc.V(1, 63, 1), "protected")

	a := newTestApp(t, fake, nil)
	res, err := a.Flatten(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, res.Flatten.Columns)
	assert.Equal(t, 63, res.Flatten.MinY)
	assert.Equal(t, 16, res.Stats.Placed)
	assert.Equal(t, 15, res.Stats.Changed)
	assert.Equal(t, 1, res.Stats.Failed)
	assert.Equal(t, grass, fake.Get(gdmc.V(0, 63, 0)))
	assert.Equal(t, stone, fake.Get(gdmc.V(1, 63, 1)))

	undone, err := a.Undo(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 15, undone.Restored)
	assert.Equal(t, 1, undone.Skipped)
	assert.Equal(t, gdmc.BoxBetween(gdmc.V(0, 63, 0), gdmc.V(3, 63, 3)), undone.Area)
	assert.Equal(t, stone, fake.Get(gdmc.V(0, 63, 0)))
	assert.Equal(t, stone, fake.Get(gdmc.V(3, 63, 3)))
}

func TestApp_Inspect(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()
	fake.SetBuildArea(gdmc.BoxBetween(gdmc.V(0, 0, 0), gdmc.V(4, 100, 4)))
	fake.Fill(gdmc.BoxBetween(gdmc.V(0, 0, 0), gdmc.V(4, 10, 4)), stone)
	fake.Set(gdmc.V(2, 11, 2), grass)

	a := newTestApp(t, fake, nil)
	rep, err := a.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", rep.Version)
	assert.Equal(t, gdmc.V(2, 0, 2), rep.Center)
	assert.Equal(t, stone, rep.Ground)
	assert.Equal(t, 11, rep.SurfaceY)
	assert.Equal(t, grass, rep.Surface)
	assert.Len(t, rep.Heightmaps, len(gdmc.HeightmapTypes))
	assert.Equal(t, [2]int{5, 5}, rep.HeightmapShape)
	assert.Equal(t, HeightmapRange{Min: 11, Max: 12}, rep.Heightmaps[string(gdmc.WorldSurface)])
}

func TestApp_BuildAreaNotSet(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()

	a := newTestApp(t, fake, nil)
	_, err := a.Build(context.Background())
	assert.ErrorIs(t, err, gdmc.ErrBuildAreaNotSet)
	assert.Empty(t, fake.Placed())
}

func TestApp_InterfaceUnreachable(t *testing.T) {
	fake := gdmctest.New()
	url := fake.URL()
	fake.Close()

	a := newTestApp(t, fake, func(c *config.Config) { c.Interface.Host = url })
	_, err := a.Clear(context.Background())
	assert.ErrorIs(t, err, gdmc.ErrInterfaceConnection)
}

func TestApp_UndoUnknownRun(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()

	a := newTestApp(t, fake, nil)
	_, err := a.Undo(context.Background(), "missing")
	assert.ErrorIs(t, err, audit.ErrNoAudit)
}

func TestApp_RunsWithoutIndex(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()
	fake.SetBuildArea(gdmc.BoxBetween(gdmc.V(0, 64, 0), gdmc.V(3, 70, 3)))

	a := newTestApp(t, fake, func(c *config.Config) { c.Data.DisableDB = true })
	_, err := a.Flatten(context.Background())
	require.NoError(t, err)
	_, err = a.Runs(context.Background(), 5)
	assert.True(t, errors.Is(err, ErrIndexDisabled))
}

func TestApp_ProgressFeedLifecycle(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()
	fake.SetBuildArea(gdmc.BoxBetween(gdmc.V(0, 64, 0), gdmc.V(1, 70, 1)))

	a := newTestApp(t, fake, func(c *config.Config) { c.Observer.Listen = "127.0.0.1:0" })
	require.NotNil(t, a.observer)
	res, err := a.Flatten(context.Background())
	require.NoError(t, err)

	cur, ok := a.observer.Current()
	require.True(t, ok)
	assert.Equal(t, res.RunID, cur.RunID)
	assert.True(t, cur.Finished)
	assert.Equal(t, 4, cur.Stats.Placed)
}
