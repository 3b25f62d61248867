// Package engine runs the game simulation on the master: spawning snakes,
// advancing them one tick at a time, resolving collisions and keeping the
// board stocked with food.
package engine

import (
	"errors"
	"math"
	"math/rand"

	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/topology"
	"github.com/cfoust/snek/pkg/world"

	opt "github.com/repeale/fp-go/option"
)

// ErrNoSpace is returned when no 5x5 region is free for a new snake.
var ErrNoSpace = errors.New("no free region for a new snake")

const spawnRegion = 5

type Engine struct {
	rng *rand.Rand
}

func New(rng *rand.Rand) *Engine {
	return &Engine{rng: rng}
}

type Result struct {
	State world.GameState
	// Deaths holds the owners of snakes that died this tick.
	Deaths  []int32
	Changes []topology.Change
}

type cellSet map[geom.Coord]struct{}

func (s cellSet) has(c geom.Coord) bool {
	_, ok := s[c]
	return ok
}

func setOf(cells []geom.Coord) cellSet {
	set := make(cellSet, len(cells))
	for _, c := range cells {
		set[c] = struct{}{}
	}
	return set
}

// Tick computes the next state. steers holds the latest direction intent per
// player and removals the players that timed out since the last tick.
func (e *Engine) Tick(state world.GameState, steers map[int32]geom.Direction, removals []int32) Result {
	state = state.Clone()
	torus := state.Config.Torus()
	players := state.Players
	snakes := state.Snakes

	var changes []topology.Change

	for _, id := range removals {
		var more []topology.Change
		players, more = topology.Remove(players, topology.MasterID(players), id)
		changes = append(changes, more...)

		for i, snake := range snakes {
			if snake.Alive() && snake.PlayerID == id {
				snakes[i] = snake.Kill()
			}
		}
	}

	foods := setOf(state.Foods)
	eaten := make(cellSet)
	for i, snake := range snakes {
		heading := snake.Heading
		if intent, ok := steers[snake.PlayerID]; ok && snake.Alive() {
			if intent.Valid() && intent != heading.Invert() {
				heading = intent
			}
		}

		cells := snake.Cells(torus)
		head := torus.Wrap(geom.Move(cells[0], heading))
		next := append([]geom.Coord{head}, cells...)
		if foods.has(head) {
			eaten[head] = struct{}{}
			if snake.Alive() {
				players = players.Update(snake.PlayerID, func(p world.Player) world.Player {
					return p.WithScore(p.Score + 1)
				})
			}
		} else {
			next = next[:len(next)-1]
		}

		snake.Heading = heading
		snake.Points = torus.Compress(next)
		snakes[i] = snake
	}

	colliding := e.collisions(torus, snakes)

	var deaths []int32
	var survivors []world.Snake
	var wreckage []geom.Coord
	for i, snake := range snakes {
		if !colliding[i] {
			survivors = append(survivors, snake)
			continue
		}

		if snake.Alive() {
			deaths = append(deaths, snake.PlayerID)
			survivors = append(survivors, snake.Kill())
			continue
		}

		wreckage = append(wreckage, snake.Cells(torus)...)
	}

	remaining := make([]geom.Coord, 0, len(state.Foods))
	for _, food := range state.Foods {
		if !eaten.has(food) {
			remaining = append(remaining, food)
		}
	}

	state = state.WithSnakes(survivors)
	occupied := state.Occupied()
	placed := setOf(remaining)
	for _, cell := range wreckage {
		if _, ok := occupied[cell]; ok || placed.has(cell) {
			continue
		}
		if e.rng.Float32() < state.Config.DeadFoodProb {
			placed[cell] = struct{}{}
			remaining = append(remaining, cell)
		}
	}

	for _, id := range deaths {
		if opt.IsNone(players.Find(id)) {
			continue
		}
		var more []topology.Change
		players, more = topology.Demote(players, topology.MasterID(players), id)
		changes = append(changes, more...)
	}

	state = e.PlaceFood(state.WithPlayers(players).WithFoods(remaining))
	return Result{
		State:   state.WithOrder(state.Order + 1),
		Deaths:  deaths,
		Changes: changes,
	}
}

// collisions flags every snake whose head lies on a body: another snake's
// anywhere, head included, or its own past the head.
func (e *Engine) collisions(torus geom.Torus, snakes []world.Snake) []bool {
	bodies := make([][]geom.Segment, len(snakes))
	for i, snake := range snakes {
		bodies[i] = body(snake.Points)
	}

	colliding := make([]bool, len(snakes))
	for i, snake := range snakes {
		head := snake.Head()
		for j, segments := range bodies {
			if i == j {
				segments = withoutHead(segments)
			}
			if hits(torus, head, segments) {
				colliding[i] = true
				break
			}
		}
	}
	return colliding
}

func body(points []geom.Coord) []geom.Segment {
	if len(points) == 1 {
		return []geom.Segment{{From: points[0], To: points[0]}}
	}
	return geom.Segments(points)
}

func withoutHead(segments []geom.Segment) []geom.Segment {
	if len(segments) == 0 {
		return nil
	}
	out := append([]geom.Segment(nil), segments...)
	if first, ok := out[0].Trim(); ok {
		out[0] = first
		return out
	}
	return out[1:]
}

func hits(torus geom.Torus, c geom.Coord, segments []geom.Segment) bool {
	for _, segment := range segments {
		if torus.OnSegment(c, segment) {
			return true
		}
	}
	return false
}

// required is the number of foods the board should hold.
func required(state world.GameState) int {
	perPlayer := math.Floor(float64(len(state.Players)) * float64(state.Config.FoodPerPlayer))
	return int(state.Config.FoodStatic) + int(perPlayer)
}

// PlaceFood tops up the food until the required amount is on the board or
// no free cell is left. Free cells hold neither food nor any part of a snake.
func (e *Engine) PlaceFood(state world.GameState) world.GameState {
	missing := required(state) - len(state.Foods)
	if missing <= 0 {
		return state
	}

	torus := state.Config.Torus()
	occupied := state.Occupied()
	foods := setOf(state.Foods)

	var free []geom.Coord
	for y := int32(0); y < torus.Height; y++ {
		for x := int32(0); x < torus.Width; x++ {
			c := geom.Coord{X: x, Y: y}
			if _, ok := occupied[c]; ok || foods.has(c) {
				continue
			}
			free = append(free, c)
		}
	}

	e.rng.Shuffle(len(free), func(i, j int) {
		free[i], free[j] = free[j], free[i]
	})
	if missing > len(free) {
		missing = len(free)
	}

	next := append(append([]geom.Coord(nil), state.Foods...), free[:missing]...)
	return state.WithFoods(next)
}
