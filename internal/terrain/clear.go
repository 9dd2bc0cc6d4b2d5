// Package terrain prepares the ground of a build area.
package terrain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"treehouse/internal/gdmc"
)

// World reads and writes single blocks; the editor satisfies it.
type World interface {
	GetBlock(ctx context.Context, pos gdmc.Vec3) (gdmc.Block, error)
	PlaceBlock(ctx context.Context, pos gdmc.Vec3, b gdmc.Block) error
}

type ClearOptions struct {
	// MinY stops the descent through tree remains.
	MinY int
	Air  gdmc.Block
}

type ClearStats struct {
	Columns     int `json:"columns"`
	Cleared     int `json:"cleared"`
	Descended   int `json:"descended"`
	DirtRemoved int `json:"dirt_removed"`
}

// ClearArea removes everything between the ground and the world surface in
// every column of rect. The ground is the bottom heightmap (normally
// MOTION_BLOCKING_NO_LEAVES) lowered past any log, leaves or mushroom blocks
// below it; a dirt block right under the cleared column is removed too.
func ClearArea(ctx context.Context, w World, rect gdmc.Rect, bottom, top *gdmc.Heightmap, opts ClearOptions, logger *zap.Logger) (ClearStats, error) {
	var st ClearStats
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Air.ID == "" {
		opts.Air = gdmc.Air
	}
	for _, hm := range []*gdmc.Heightmap{bottom, top} {
		if hm == nil {
			return st, fmt.Errorf("clear area: missing heightmap")
		}
		if !hm.Rect.ContainsRect(rect) {
			return st, fmt.Errorf("clear area: heightmap %s does not cover %v", hm.Type, rect)
		}
	}

	end := rect.End()
	for x := rect.Offset.X; x < end.X; x++ {
		for z := rect.Offset.Z; z < end.Z; z++ {
			start := bottom.At(x, z)
			stop := top.At(x, z)

			below, err := w.GetBlock(ctx, gdmc.V(x, start-1, z))
			if err != nil {
				return st, fmt.Errorf("clear area: column (%d,%d): %w", x, z, err)
			}
			for isTreeRemains(below) && start > opts.MinY {
				start--
				st.Descended++
				if below, err = w.GetBlock(ctx, gdmc.V(x, start-1, z)); err != nil {
					return st, fmt.Errorf("clear area: column (%d,%d): %w", x, z, err)
				}
			}
			if below.Is("dirt") {
				if err := w.PlaceBlock(ctx, gdmc.V(x, start-1, z), opts.Air); err != nil {
					return st, err
				}
				st.DirtRemoved++
			}
			for y := start; y < stop; y++ {
				if err := w.PlaceBlock(ctx, gdmc.V(x, y, z), opts.Air); err != nil {
					return st, err
				}
				st.Cleared++
			}
			st.Columns++
		}
	}
	logger.Info("area cleared",
		zap.Int("columns", st.Columns),
		zap.Int("cleared", st.Cleared),
		zap.Int("descended", st.Descended),
		zap.Int("dirt_removed", st.DirtRemoved))
	return st, nil
}

func isTreeRemains(b gdmc.Block) bool {
	return b.Is("log") || b.Is("leaves") || b.Is("mushroom")
}
