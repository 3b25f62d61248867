package world

import (
	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/protocol/role"

	opt "github.com/repeale/fp-go/option"
)

// GameState is an immutable snapshot of a game. Changes go through the With*
// methods, which copy.
type GameState struct {
	Config  GameConfig   `cbor:"1,keyasint" json:"config"`
	Players Players      `cbor:"2,keyasint" json:"players"`
	Snakes  []Snake      `cbor:"3,keyasint" json:"snakes"`
	Foods   []geom.Coord `cbor:"4,keyasint" json:"foods"`
	Order   int32        `cbor:"5,keyasint" json:"order"`
}

func NewState(config GameConfig) GameState {
	return GameState{Config: config}
}

// Newer reports whether s should replace a snapshot with the given order.
func (s GameState) Newer(order int32) bool {
	return s.Order > order
}

func (s GameState) WithPlayers(players Players) GameState {
	s.Players = players
	return s
}

func (s GameState) WithSnakes(snakes []Snake) GameState {
	s.Snakes = snakes
	return s
}

func (s GameState) WithFoods(foods []geom.Coord) GameState {
	s.Foods = foods
	return s
}

func (s GameState) WithOrder(order int32) GameState {
	s.Order = order
	return s
}

// Clone deep-copies the slices so the result can be handed out while the
// original keeps being used.
func (s GameState) Clone() GameState {
	s.Players = append(Players(nil), s.Players...)
	snakes := make([]Snake, len(s.Snakes))
	for i, snake := range s.Snakes {
		snakes[i] = snake.clone()
	}
	s.Snakes = snakes
	s.Foods = append([]geom.Coord(nil), s.Foods...)
	return s
}

func (s GameState) Snake(playerID int32) (Snake, bool) {
	if playerID == NoPlayer {
		return Snake{}, false
	}
	for _, snake := range s.Snakes {
		if snake.PlayerID == playerID {
			return snake, true
		}
	}
	return Snake{}, false
}

func (s GameState) MasterID() int32 {
	master := s.Players.FindRole(role.Master)
	if opt.IsNone(master) {
		return NoPlayer
	}
	return master.Value.ID
}

// Occupied returns every cell covered by a snake, live or zombie.
func (s GameState) Occupied() map[geom.Coord]struct{} {
	torus := s.Config.Torus()
	cells := make(map[geom.Coord]struct{})
	for _, snake := range s.Snakes {
		for _, cell := range snake.Cells(torus) {
			cells[cell] = struct{}{}
		}
	}
	return cells
}

func (s GameState) HasFood(c geom.Coord) bool {
	for _, food := range s.Foods {
		if food == c {
			return true
		}
	}
	return false
}
