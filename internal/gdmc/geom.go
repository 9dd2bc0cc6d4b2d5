package gdmc

import "fmt"

// ChunkSize is the horizontal edge length of a world chunk.
const ChunkSize = 16

type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func V(x, y, z int) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Offset(dx, dy, dz int) Vec3 {
	return Vec3{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz}
}

// Chunk returns the chunk column containing v.
func (v Vec3) Chunk() (cx, cz int) {
	return floorDiv(v.X, ChunkSize), floorDiv(v.Z, ChunkSize)
}

func (v Vec3) Array() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3) String() string { return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z) }

func FromArray(a [3]int) Vec3 { return Vec3{X: a[0], Y: a[1], Z: a[2]} }

// Vec2 is a horizontal (X, Z) coordinate.
type Vec2 struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Box is an axis-aligned region; Size is exclusive of Offset+Size.
type Box struct {
	Offset Vec3 `json:"offset"`
	Size   Vec3 `json:"size"`
}

// BoxBetween returns the smallest box containing both corners (inclusive).
func BoxBetween(a, b Vec3) Box {
	lo := Vec3{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
	hi := Vec3{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
	return Box{Offset: lo, Size: hi.Sub(lo).Offset(1, 1, 1)}
}

func (b Box) Begin() Vec3 { return b.Offset }

// End is the exclusive upper corner.
func (b Box) End() Vec3 { return b.Offset.Add(b.Size) }

// Last is the inclusive upper corner.
func (b Box) Last() Vec3 { return b.End().Offset(-1, -1, -1) }

func (b Box) Center() Vec3 {
	return b.Offset.Add(Vec3{X: b.Size.X / 2, Y: b.Size.Y / 2, Z: b.Size.Z / 2})
}

func (b Box) Empty() bool { return b.Size.X <= 0 || b.Size.Y <= 0 || b.Size.Z <= 0 }

func (b Box) Volume() int {
	if b.Empty() {
		return 0
	}
	return b.Size.X * b.Size.Y * b.Size.Z
}

func (b Box) Contains(p Vec3) bool {
	e := b.End()
	return p.X >= b.Offset.X && p.X < e.X &&
		p.Y >= b.Offset.Y && p.Y < e.Y &&
		p.Z >= b.Offset.Z && p.Z < e.Z
}

func (b Box) Rect() Rect {
	return Rect{
		Offset: Vec2{X: b.Offset.X, Z: b.Offset.Z},
		Size:   Vec2{X: b.Size.X, Z: b.Size.Z},
	}
}

func (b Box) String() string {
	return fmt.Sprintf("%s..%s", b.Begin(), b.Last())
}

// Rect is the XZ footprint of a Box.
type Rect struct {
	Offset Vec2 `json:"offset"`
	Size   Vec2 `json:"size"`
}

func (r Rect) End() Vec2 { return Vec2{X: r.Offset.X + r.Size.X, Z: r.Offset.Z + r.Size.Z} }

func (r Rect) Center() Vec2 {
	return Vec2{X: r.Offset.X + r.Size.X/2, Z: r.Offset.Z + r.Size.Z/2}
}

func (r Rect) Area() int {
	if r.Size.X <= 0 || r.Size.Z <= 0 {
		return 0
	}
	return r.Size.X * r.Size.Z
}

func (r Rect) Contains(x, z int) bool {
	e := r.End()
	return x >= r.Offset.X && x < e.X && z >= r.Offset.Z && z < e.Z
}

// ContainsRect reports whether o lies entirely inside r.
func (r Rect) ContainsRect(o Rect) bool {
	if o.Area() == 0 {
		return true
	}
	e, oe := r.End(), o.End()
	return o.Offset.X >= r.Offset.X && o.Offset.Z >= r.Offset.Z && oe.X <= e.X && oe.Z <= e.Z
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}
