package geom

// Segment is an axis-aligned run of cells from From to To inclusive. From is
// a grid cell; To may lie outside the grid when the segment crosses an edge.
type Segment struct {
	From Coord
	To   Coord
}

// Segments turns a head and its offsets into the polyline's segments.
func Segments(points []Coord) []Segment {
	if len(points) < 2 {
		return nil
	}

	segments := make([]Segment, 0, len(points)-1)
	from := points[0]
	for _, offset := range points[1:] {
		to := from.Add(offset)
		segments = append(segments, Segment{From: from, To: to})
		from = to
	}
	return segments
}

// Trim drops the first cell of the segment. A single-cell segment trims to
// nothing.
func (s Segment) Trim() (Segment, bool) {
	step := Coord{sign(s.To.X - s.From.X), sign(s.To.Y - s.From.Y)}
	if step.IsZero() {
		return Segment{}, false
	}
	return Segment{From: s.From.Add(step), To: s.To}, true
}

// OnSegment reports whether c lies on s. A segment that crosses the 0/W or
// 0/H boundary covers two sub-ranges, handled as a modular distance from the
// low end.
func (t Torus) OnSegment(c Coord, s Segment) bool {
	c = t.Wrap(c)
	switch {
	case s.From.X == s.To.X:
		if c.X != mod(s.From.X, t.Width) {
			return false
		}
		return inRange(c.Y, s.From.Y, s.To.Y, t.Height)
	case s.From.Y == s.To.Y:
		if c.Y != mod(s.From.Y, t.Height) {
			return false
		}
		return inRange(c.X, s.From.X, s.To.X, t.Width)
	}
	return false
}

func inRange(v, a, b, m int32) bool {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi-lo >= m-1 {
		return true
	}
	return mod(v-lo, m) <= hi-lo
}
