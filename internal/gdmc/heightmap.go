package gdmc

import (
	"fmt"
	"strings"
)

type HeightmapType string

const (
	WorldSurface           HeightmapType = "WORLD_SURFACE"
	MotionBlocking         HeightmapType = "MOTION_BLOCKING"
	MotionBlockingNoLeaves HeightmapType = "MOTION_BLOCKING_NO_LEAVES"
	OceanFloor             HeightmapType = "OCEAN_FLOOR"
)

// HeightmapTypes lists the heightmaps the interface serves.
var HeightmapTypes = []HeightmapType{WorldSurface, MotionBlocking, MotionBlockingNoLeaves, OceanFloor}

func ParseHeightmapType(s string) (HeightmapType, error) {
	t := HeightmapType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range HeightmapTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown heightmap type %q", s)
}

// Heightmap holds the Y of the first block above the surface for each column
// of Rect. Values are indexed [x][z] relative to Rect.Offset.
type Heightmap struct {
	Type   HeightmapType
	Rect   Rect
	values [][]int
}

func NewHeightmap(t HeightmapType, rect Rect, values [][]int) (*Heightmap, error) {
	if len(values) != rect.Size.X {
		return nil, fmt.Errorf("heightmap %s: got %d rows, want %d", t, len(values), rect.Size.X)
	}
	for i, row := range values {
		if len(row) != rect.Size.Z {
			return nil, fmt.Errorf("heightmap %s: row %d has %d columns, want %d", t, i, len(row), rect.Size.Z)
		}
	}
	return &Heightmap{Type: t, Rect: rect, values: values}, nil
}

// At returns the height at global column (x, z), which must lie in Rect.
func (h *Heightmap) At(x, z int) int {
	return h.values[x-h.Rect.Offset.X][z-h.Rect.Offset.Z]
}

// Local returns the height at column (lx, lz) relative to Rect.Offset.
func (h *Heightmap) Local(lx, lz int) int { return h.values[lx][lz] }

func (h *Heightmap) Shape() (int, int) { return h.Rect.Size.X, h.Rect.Size.Z }

// Range returns the lowest and highest values.
func (h *Heightmap) Range() (lo, hi int) {
	first := true
	for _, row := range h.values {
		for _, v := range row {
			if first {
				lo, hi, first = v, v, false
				continue
			}
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	return lo, hi
}
