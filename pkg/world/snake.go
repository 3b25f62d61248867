package world

import (
	"strconv"

	"github.com/cfoust/snek/pkg/geom"
)

type SnakeState int32

const (
	Alive SnakeState = iota
	Zombie
)

func (s SnakeState) String() string {
	switch s {
	case Alive:
		return "alive"
	case Zombie:
		return "zombie"
	default:
		return strconv.Itoa(int(s))
	}
}

// Snake stores its body as a head followed by offsets, each relative to the
// previous key point and pointing toward the tail.
type Snake struct {
	PlayerID int32          `cbor:"1,keyasint" json:"playerId"`
	State    SnakeState     `cbor:"2,keyasint" json:"state"`
	Heading  geom.Direction `cbor:"3,keyasint" json:"heading"`
	Points   []geom.Coord   `cbor:"4,keyasint" json:"points"`
}

func (s Snake) Head() geom.Coord {
	if len(s.Points) == 0 {
		return geom.Coord{}
	}
	return s.Points[0]
}

func (s Snake) Alive() bool {
	return s.State == Alive
}

func (s Snake) Cells(t geom.Torus) []geom.Coord {
	return t.Walk(s.Points)
}

// Length counts the cells the snake occupies.
func (s Snake) Length() int {
	if len(s.Points) == 0 {
		return 0
	}
	length := 1
	for _, offset := range s.Points[1:] {
		length += int(abs(offset.X) + abs(offset.Y))
	}
	return length
}

// Kill turns the snake into a zombie: no owner, heading frozen.
func (s Snake) Kill() Snake {
	s.State = Zombie
	s.PlayerID = NoPlayer
	return s
}

func (s Snake) clone() Snake {
	s.Points = append([]geom.Coord(nil), s.Points...)
	return s
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
