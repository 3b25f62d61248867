package geom

import "fmt"

type Coord struct {
	X int32 `cbor:"1,keyasint" json:"x"`
	Y int32 `cbor:"2,keyasint" json:"y"`
}

func (c Coord) Add(o Coord) Coord { return Coord{c.X + o.X, c.Y + o.Y} }
func (c Coord) Sub(o Coord) Coord { return Coord{c.X - o.X, c.Y - o.Y} }
func (c Coord) IsZero() bool      { return c.X == 0 && c.Y == 0 }

func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d)", c.X, c.Y)
}

// Torus is a grid whose edges wrap around.
type Torus struct {
	Width  int32
	Height int32
}

func mod(v, m int32) int32 {
	return ((v % m) + m) % m
}

// Wrap normalizes c into [0,Width)x[0,Height).
func (t Torus) Wrap(c Coord) Coord {
	return Coord{mod(c.X, t.Width), mod(c.Y, t.Height)}
}

func (t Torus) Contains(c Coord) bool {
	return c.X >= 0 && c.X < t.Width && c.Y >= 0 && c.Y < t.Height
}

func (t Torus) Cells() int {
	return int(t.Width) * int(t.Height)
}

// StepBetween returns the unit delta that takes the wrapped cell a to the
// adjacent wrapped cell b, crossing the boundary if needed.
func (t Torus) StepBetween(a, b Coord) Coord {
	return Coord{
		X: shortest(b.X-a.X, t.Width),
		Y: shortest(b.Y-a.Y, t.Height),
	}
}

func shortest(d, m int32) int32 {
	d = mod(d, m)
	if d > m/2 {
		d -= m
	}
	return d
}

// Move returns the cell next to p in direction d. The result is not wrapped.
func Move(p Coord, d Direction) Coord {
	return p.Add(d.Offset())
}

// Walk expands a head and a list of offsets into the cells they cover, head
// first. Every returned cell is wrapped.
func (t Torus) Walk(points []Coord) []Coord {
	if len(points) == 0 {
		return nil
	}

	current := t.Wrap(points[0])
	cells := []Coord{current}
	for _, offset := range points[1:] {
		step := Coord{sign(offset.X), sign(offset.Y)}
		steps := abs(offset.X) + abs(offset.Y)
		for i := int32(0); i < steps; i++ {
			current = t.Wrap(current.Add(step))
			cells = append(cells, current)
		}
	}

	return cells
}

// Compress is the inverse of Walk: consecutive cells that continue in the
// same direction collapse into a single offset, so every turn becomes a key
// point.
func (t Torus) Compress(cells []Coord) []Coord {
	if len(cells) == 0 {
		return nil
	}

	points := []Coord{t.Wrap(cells[0])}
	if len(cells) == 1 {
		return points
	}

	var run Coord
	var last Coord
	for i := 1; i < len(cells); i++ {
		step := t.StepBetween(t.Wrap(cells[i-1]), t.Wrap(cells[i]))
		if i > 1 && step != last {
			points = append(points, run)
			run = Coord{}
		}
		run = run.Add(step)
		last = step
	}

	return append(points, run)
}

func sign(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
