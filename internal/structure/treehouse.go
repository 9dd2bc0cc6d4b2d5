// Package structure holds the block templates the builder can place.
package structure

import (
	"context"
	"fmt"
	"math/rand"

	"treehouse/internal/gdmc"
)

// Placer receives one call per voxel, in template order. Later calls at the
// same position overwrite earlier ones.
type Placer interface {
	PlaceBlock(ctx context.Context, pos gdmc.Vec3, b gdmc.Block) error
}

type Palette struct {
	Platform gdmc.Block
	Trunk    gdmc.Block
	Wall     gdmc.Block
	Window   gdmc.Block
	Roof     gdmc.Block
	Ladder   gdmc.Block
	Door     gdmc.Block
	Leaves   gdmc.Block
	Air      gdmc.Block
}

func DefaultPalette() Palette {
	return Palette{
		Platform: gdmc.NewBlock("oak_log"),
		Trunk:    gdmc.NewBlock("oak_log"),
		Wall:     gdmc.NewBlock("oak_log"),
		Window:   gdmc.NewBlock("glass"),
		Roof:     gdmc.NewBlock("oak_slab"),
		Ladder:   gdmc.NewBlock("ladder"),
		Door:     gdmc.NewBlock("oak_fence_gate"),
		Leaves:   gdmc.NewBlock("spruce_leaves"),
		Air:      gdmc.Air,
	}
}

type TreeHouseParams struct {
	TreeHeight     int
	PlatformHeight int
	PlatformRadius int
	HouseHeight    int
	// LeafDensity is the chance that a candidate leaf position gets a leaf.
	LeafDensity float64
	Palette     Palette
}

func DefaultTreeHouse() TreeHouseParams {
	return TreeHouseParams{
		TreeHeight:     15,
		PlatformHeight: 10,
		PlatformRadius: 3,
		HouseHeight:    4,
		LeafDensity:    0.5,
		Palette:        DefaultPalette(),
	}
}

func (p TreeHouseParams) Validate() error {
	switch {
	case p.PlatformRadius < 1:
		return fmt.Errorf("platform radius must be >= 1, got %d", p.PlatformRadius)
	case p.TreeHeight < 1:
		return fmt.Errorf("tree height must be >= 1, got %d", p.TreeHeight)
	case p.PlatformHeight < 1:
		return fmt.Errorf("platform height must be >= 1, got %d", p.PlatformHeight)
	case p.HouseHeight < 1:
		return fmt.Errorf("house height must be >= 1, got %d", p.HouseHeight)
	case p.LeafDensity < 0 || p.LeafDensity > 1:
		return fmt.Errorf("leaf density must be within [0,1], got %g", p.LeafDensity)
	}
	return nil
}

// TreeHouseBounds is the box the template writes to when built at origin.
func TreeHouseBounds(origin gdmc.Vec3, p TreeHouseParams) gdmc.Box {
	r := p.PlatformRadius + 1
	top := max(p.TreeHeight-1, p.PlatformHeight+p.HouseHeight+1, p.PlatformHeight+2)
	return gdmc.BoxBetween(origin.Offset(-r, 0, -r), origin.Offset(r, top, r))
}

// TreeHouseSummary counts placements per template part.
type TreeHouseSummary struct {
	Platform int `json:"platform"`
	Walls    int `json:"walls"`
	Trunk    int `json:"trunk"`
	Windows  int `json:"windows"`
	Roof     int `json:"roof"`
	Ladder   int `json:"ladder"`
	Door     int `json:"door"`
	Leaves   int `json:"leaves"`
}

func (s TreeHouseSummary) Total() int {
	return s.Platform + s.Walls + s.Trunk + s.Windows + s.Roof + s.Ladder + s.Door + s.Leaves
}

// BuildTreeHouse places a tree house with the trunk base at origin: a round
// platform, a square room with a window lattice, a slab roof, a ladder up the
// trunk, a door, and a random scatter of leaves around and over the room.
func BuildTreeHouse(ctx context.Context, pl Placer, origin gdmc.Vec3, p TreeHouseParams, rng *rand.Rand) (TreeHouseSummary, error) {
	var sum TreeHouseSummary
	if err := p.Validate(); err != nil {
		return sum, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	r, ph, hh := p.PlatformRadius, p.PlatformHeight, p.HouseHeight
	pal := p.Palette

	place := func(counter *int, dx, dy, dz int, b gdmc.Block) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		*counter++
		return pl.PlaceBlock(ctx, origin.Offset(dx, dy, dz), b)
	}

	// Platform.
	for x := -r; x <= r; x++ {
		for z := -r; z <= r; z++ {
			if x*x+z*z <= r*r {
				if err := place(&sum.Platform, x, ph, z, pal.Platform); err != nil {
					return sum, err
				}
			}
		}
	}

	// Walls, hollowed out.
	for y := 0; y < hh; y++ {
		for x := -r; x <= r; x++ {
			for z := -r; z <= r; z++ {
				b := pal.Air
				if x == -r || x == r || z == -r || z == r {
					b = pal.Wall
				}
				if err := place(&sum.Walls, x, ph+1+y, z, b); err != nil {
					return sum, err
				}
			}
		}
	}

	// Trunk.
	for y := 0; y < p.TreeHeight; y++ {
		if err := place(&sum.Trunk, 0, y, 0, pal.Trunk); err != nil {
			return sum, err
		}
	}

	// Windows on every other block of the front and side walls.
	for y := 1; y < hh-1; y++ {
		for x := -r; x < r; x += 2 {
			for z := -r; z < r; z += 2 {
				if !isWindow(x, z, r) {
					continue
				}
				if err := place(&sum.Windows, x, ph+y, z, pal.Window); err != nil {
					return sum, err
				}
			}
		}
	}

	// Roof, one block of overhang.
	for x := -r - 1; x <= r+1; x++ {
		for z := -r - 1; z <= r+1; z++ {
			if err := place(&sum.Roof, x, ph+hh, z, pal.Roof); err != nil {
				return sum, err
			}
		}
	}

	// Ladder on the north face of the trunk.
	for y := 1; y < ph+3; y++ {
		if err := place(&sum.Ladder, 0, y, -1, pal.Ladder); err != nil {
			return sum, err
		}
	}

	// Door.
	if err := place(&sum.Door, 1, ph+1, -r, pal.Door); err != nil {
		return sum, err
	}

	// Leaves on the ring around the room and as a layer above the roof.
	for y := 0; y < hh+2; y++ {
		for x := -r - 1; x <= r+1; x++ {
			for z := -r - 1; z <= r+1; z++ {
				ring := x == -r-1 || x == r+1 || z == -r-1 || z == r+1
				if !(ring || y == hh+1) {
					continue
				}
				if rng.Float64() >= p.LeafDensity {
					continue
				}
				if err := place(&sum.Leaves, x, ph+y, z, pal.Leaves); err != nil {
					return sum, err
				}
			}
		}
	}
	return sum, nil
}

func isWindow(x, z, r int) bool {
	if x == -r || x == r-1 {
		return true
	}
	return (z == -r || z == r-1) && (x != r || z != -r)
}
