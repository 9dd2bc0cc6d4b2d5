package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"treehouse/internal/editor"
	"treehouse/internal/gdmc"
	"treehouse/internal/persistence/audit"
	"treehouse/internal/persistence/indexdb"
	"treehouse/internal/structure"
	"treehouse/internal/terrain"
)

type BuildResult struct {
	RunResult
	Bounds  gdmc.Box                   `json:"bounds"`
	Summary structure.TreeHouseSummary `json:"summary"`
}

// Build places a tree house with its trunk at the build area's lowest corner.
// A zero seed in the config picks one from the clock.
func (a *App) Build(ctx context.Context) (BuildResult, error) {
	var out BuildResult
	params, err := a.cfg.TreeHouseParams()
	if err != nil {
		return out, err
	}
	area, err := a.Preflight(ctx)
	if err != nil {
		return out, err
	}
	seed := a.cfg.TreeHouse.Seed
	if seed == 0 {
		seed = a.now().UnixNano()
	}
	origin := area.Begin()
	out.Bounds = structure.TreeHouseBounds(origin, params)
	if !area.Contains(out.Bounds.Begin()) || !area.Contains(out.Bounds.Last()) {
		a.log.Warn("tree house extends past the build area",
			zap.Stringer("bounds", out.Bounds), zap.Stringer("area", area))
	}

	rng := rand.New(rand.NewSource(seed))
	out.RunResult, err = a.run(ctx, OpBuild, area, seed, func(ctx context.Context, ed *editor.Editor) error {
		sum, err := structure.BuildTreeHouse(ctx, ed, origin, params, rng)
		out.Summary = sum
		return err
	})
	return out, err
}

type ClearResult struct {
	RunResult
	Clear terrain.ClearStats `json:"clear"`
}

// Clear removes trees and everything else above the ground in the build area.
func (a *App) Clear(ctx context.Context) (ClearResult, error) {
	var out ClearResult
	bottomType, err := gdmc.ParseHeightmapType(a.cfg.Clear.BottomHeightmap)
	if err != nil {
		return out, err
	}
	topType, err := gdmc.ParseHeightmapType(a.cfg.Clear.TopHeightmap)
	if err != nil {
		return out, err
	}
	area, err := a.Preflight(ctx)
	if err != nil {
		return out, err
	}
	rect := area.Rect()
	bottom, err := a.client.Heightmap(ctx, bottomType, rect)
	if err != nil {
		return out, fmt.Errorf("heightmap %s: %w", bottomType, err)
	}
	top, err := a.client.Heightmap(ctx, topType, rect)
	if err != nil {
		return out, fmt.Errorf("heightmap %s: %w", topType, err)
	}

	opts := terrain.ClearOptions{MinY: a.cfg.Clear.MinY, Air: gdmc.Air}
	out.RunResult, err = a.run(ctx, OpClear, area, 0, func(ctx context.Context, ed *editor.Editor) error {
		st, err := terrain.ClearArea(ctx, ed, rect, bottom, top, opts, a.log.Named("clear"))
		out.Clear = st
		return err
	})
	return out, err
}

type FlattenResult struct {
	RunResult
	Flatten terrain.FlattenStats `json:"flatten"`
}

// Flatten lays the configured block under the whole build area.
func (a *App) Flatten(ctx context.Context) (FlattenResult, error) {
	var out FlattenResult
	block, err := gdmc.ParseBlock(a.cfg.Flatten.Block)
	if err != nil {
		return out, fmt.Errorf("flatten.block: %w", err)
	}
	area, err := a.Preflight(ctx)
	if err != nil {
		return out, err
	}
	out.RunResult, err = a.run(ctx, OpFlatten, area, 0, func(ctx context.Context, ed *editor.Editor) error {
		st, err := terrain.Flatten(ctx, ed, area, block, a.log.Named("flatten"))
		out.Flatten = st
		return err
	})
	return out, err
}

type UndoResult struct {
	RunResult
	Target   string `json:"target"`
	Restored int    `json:"restored"`
	Skipped  int    `json:"skipped"`
}

// Undo restores the blocks a previous run replaced, as read from its audit
// log. The undo is itself a run with its own audit log.
func (a *App) Undo(ctx context.Context, runID string) (UndoResult, error) {
	out := UndoResult{Target: runID}
	if runID == "" {
		return out, errors.New("undo: empty run id")
	}
	if a.index != nil {
		if _, err := a.index.GetRun(ctx, runID); errors.Is(err, indexdb.ErrRunNotFound) {
			a.log.Warn("run not in index; using its audit log only", zap.String("target", runID))
		}
	}
	entries, err := audit.ReadDir(audit.Dir(a.cfg.Data.Dir, runID))
	if err != nil {
		return out, fmt.Errorf("undo %s: %w", runID, err)
	}
	plan, err := audit.PlanUndo(entries)
	if err != nil {
		return out, fmt.Errorf("undo %s: %w", runID, err)
	}
	out.Skipped = plan.Skipped
	if plan.Skipped > 0 {
		a.log.Warn("positions without a recorded previous block are left as they are",
			zap.String("target", runID), zap.Int("skipped", plan.Skipped))
	}
	if len(plan.Blocks) == 0 {
		return out, fmt.Errorf("undo %s: nothing to restore", runID)
	}
	if err := a.client.CheckConnection(ctx); err != nil {
		return out, err
	}

	area := boundsOf(plan.Blocks)
	out.RunResult, err = a.run(ctx, OpUndo, area, 0, func(ctx context.Context, ed *editor.Editor) error {
		for _, pb := range plan.Blocks {
			if err := ed.PlaceBlock(ctx, pb.Pos, pb.Block); err != nil {
				return err
			}
			out.Restored++
		}
		return nil
	})
	return out, err
}

func boundsOf(blocks []gdmc.PlacedBlock) gdmc.Box {
	if len(blocks) == 0 {
		return gdmc.Box{}
	}
	lo, hi := blocks[0].Pos, blocks[0].Pos
	for _, pb := range blocks[1:] {
		p := pb.Pos
		lo = gdmc.V(min(lo.X, p.X), min(lo.Y, p.Y), min(lo.Z, p.Z))
		hi = gdmc.V(max(hi.X, p.X), max(hi.Y, p.Y), max(hi.Z, p.Z))
	}
	return gdmc.BoxBetween(lo, hi)
}

type HeightmapRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type InspectReport struct {
	Host    string    `json:"host"`
	Version string    `json:"version"`
	Area    gdmc.Box  `json:"area"`
	Center  gdmc.Vec3 `json:"center"`

	// Ground is the block at y=0 under the area's center.
	Ground gdmc.Block `json:"ground"`

	// Surface is the topmost motion-blocking block at the center.
	Surface  gdmc.Block `json:"surface"`
	SurfaceY int        `json:"surface_y"`

	Heightmaps map[string]HeightmapRange `json:"heightmaps"`

	// HeightmapShape is the (x, z) size of the heightmaps the interface returned.
	HeightmapShape [2]int `json:"heightmap_shape"`
	Elapsed        string `json:"elapsed"`
}

// Inspect reads the build area without changing anything.
func (a *App) Inspect(ctx context.Context) (InspectReport, error) {
	start := a.now()
	rep := InspectReport{Host: a.client.Host(), Heightmaps: map[string]HeightmapRange{}}
	area, err := a.Preflight(ctx)
	if err != nil {
		return rep, err
	}
	rep.Area = area
	if v, err := a.client.Version(ctx); err == nil {
		rep.Version = v
	} else {
		rep.Version = "unknown"
	}

	c := area.Center()
	rep.Center = gdmc.V(c.X, 0, c.Z)
	if rep.Ground, err = a.client.GetBlock(ctx, rep.Center); err != nil {
		return rep, err
	}

	rect := area.Rect()
	for _, t := range gdmc.HeightmapTypes {
		hm, err := a.client.Heightmap(ctx, t, rect)
		if err != nil {
			return rep, fmt.Errorf("heightmap %s: %w", t, err)
		}
		lo, hi := hm.Range()
		rep.Heightmaps[string(t)] = HeightmapRange{Min: lo, Max: hi}
		sx, sz := hm.Shape()
		rep.HeightmapShape = [2]int{sx, sz}
		if t == gdmc.MotionBlocking {
			rep.SurfaceY = hm.At(c.X, c.Z) - 1
		}
	}
	if rep.Surface, err = a.client.GetBlock(ctx, gdmc.V(c.X, rep.SurfaceY, c.Z)); err != nil {
		return rep, err
	}
	rep.Elapsed = a.now().Sub(start).Round(time.Millisecond).String()
	return rep, nil
}
