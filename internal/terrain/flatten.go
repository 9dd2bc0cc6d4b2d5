package terrain

import (
	"context"

	"go.uber.org/zap"

	"treehouse/internal/gdmc"
)

type FlattenStats struct {
	Columns int `json:"columns"`
	MinY    int `json:"min_y"`
	MaxY    int `json:"max_y"`
}

// Flatten lays block on the layer just below the build area in every column.
func Flatten(ctx context.Context, w World, area gdmc.Box, block gdmc.Block, logger *zap.Logger) (FlattenStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := FlattenStats{MinY: area.Offset.Y - 1}
	st.MaxY = area.Size.Y + st.MinY
	logger.Info("flattening", zap.Int("min_y", st.MinY), zap.Int("max_y", st.MaxY))

	rect := area.Rect()
	end := rect.End()
	for x := rect.Offset.X; x < end.X; x++ {
		for z := rect.Offset.Z; z < end.Z; z++ {
			pos := gdmc.V(x, st.MinY, z)
			if ce := logger.Check(zap.DebugLevel, "replacing"); ce != nil {
				cur, err := w.GetBlock(ctx, pos)
				if err != nil {
					return st, err
				}
				ce.Write(zap.Stringer("pos", pos), zap.String("block", cur.ID))
			}
			if err := w.PlaceBlock(ctx, pos, block); err != nil {
				return st, err
			}
			st.Columns++
		}
	}
	logger.Info("build area flattened", zap.Int("columns", st.Columns))
	return st, nil
}
