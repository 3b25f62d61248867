package geom

import (
	"strconv"
	"strings"
)

type Direction int32

const (
	None Direction = iota
	Up
	Down
	Left
	Right
)

var Directions = []Direction{Up, Down, Left, Right}

func ParseDirection(s string) Direction {
	switch strings.ToLower(s) {
	case "up":
		return Up
	case "down":
		return Down
	case "left":
		return Left
	case "right":
		return Right
	default:
		return None
	}
}

func (d Direction) String() string {
	switch d {
	case None:
		return "none"
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return strconv.Itoa(int(d))
	}
}

func (d Direction) Valid() bool {
	return d >= Up && d <= Right
}

func (d Direction) Invert() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return None
}

// Offset is the unit step taken when moving in d. Y grows downward.
func (d Direction) Offset() Coord {
	switch d {
	case Up:
		return Coord{0, -1}
	case Down:
		return Coord{0, 1}
	case Left:
		return Coord{-1, 0}
	case Right:
		return Coord{1, 0}
	}
	return Coord{}
}

// DirectionFromOffset infers the heading of a body segment from the offset
// that points from its front toward the tail: a tail to the right (x>0)
// means the segment travels left.
func DirectionFromOffset(offset Coord) Direction {
	if offset.X > 0 {
		return Left
	}
	if offset.X < 0 {
		return Right
	}
	if offset.Y > 0 {
		return Up
	}
	return Down
}

// ControlPoint is the unit offset from a head that just moved in d back to
// the cell it came from.
func ControlPoint(d Direction) Coord {
	return d.Invert().Offset()
}
