package editor

import (
	"context"

	"treehouse/internal/gdmc"
)

// capture reads the current blocks at the batch positions. Positions are
// grouped by chunk column and each group is fetched as its bounding box, which
// keeps reads small for batches that span a wide area at shallow depth.
func capture(ctx context.Context, backend Backend, batch []gdmc.PlacedBlock) ([]gdmc.Block, error) {
	type group struct {
		lo, hi gdmc.Vec3
	}
	groups := map[[2]int]*group{}
	keys := make([][2]int, 0, 4)
	for _, pb := range batch {
		cx, cz := pb.Pos.Chunk()
		k := [2]int{cx, cz}
		g, ok := groups[k]
		if !ok {
			groups[k] = &group{lo: pb.Pos, hi: pb.Pos}
			keys = append(keys, k)
			continue
		}
		g.lo = gdmc.V(min(g.lo.X, pb.Pos.X), min(g.lo.Y, pb.Pos.Y), min(g.lo.Z, pb.Pos.Z))
		g.hi = gdmc.V(max(g.hi.X, pb.Pos.X), max(g.hi.Y, pb.Pos.Y), max(g.hi.Z, pb.Pos.Z))
	}

	current := make(map[gdmc.Vec3]gdmc.Block, len(batch))
	for _, k := range keys {
		g := groups[k]
		blocks, err := backend.GetBlocks(ctx, gdmc.BoxBetween(g.lo, g.hi))
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			current[b.Pos] = b.Block
		}
	}

	out := make([]gdmc.Block, len(batch))
	for i, pb := range batch {
		b, ok := current[pb.Pos]
		if !ok {
			b = gdmc.Air
		}
		out[i] = b
	}
	return out, nil
}
