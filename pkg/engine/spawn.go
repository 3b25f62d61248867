package engine

import (
	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/world"
)

// Spawn places a two-cell snake for playerID in the first 5x5 region that
// holds no snake, scanning from a random offset. The head sits in the centre
// of the region and the tail on one of its neighbours; neither may be food.
func (e *Engine) Spawn(state world.GameState, playerID int32) (world.Snake, error) {
	torus := state.Config.Torus()
	occupied := cellSet(state.Occupied())
	foods := setOf(state.Foods)

	startX := e.rng.Int31n(torus.Width)
	startY := e.rng.Int31n(torus.Height)
	for dy := int32(0); dy < torus.Height; dy++ {
		for dx := int32(0); dx < torus.Width; dx++ {
			origin := geom.Coord{X: startX + dx, Y: startY + dy}
			if !regionFree(torus, occupied, origin) {
				continue
			}

			center := torus.Wrap(origin.Add(geom.Coord{X: spawnRegion / 2, Y: spawnRegion / 2}))
			if foods.has(center) {
				continue
			}

			directions := append([]geom.Direction(nil), geom.Directions...)
			e.rng.Shuffle(len(directions), func(i, j int) {
				directions[i], directions[j] = directions[j], directions[i]
			})
			for _, d := range directions {
				offset := d.Offset()
				if foods.has(torus.Wrap(center.Add(offset))) {
					continue
				}

				return world.Snake{
					PlayerID: playerID,
					State:    world.Alive,
					Heading:  geom.DirectionFromOffset(offset),
					Points:   []geom.Coord{center, offset},
				}, nil
			}
		}
	}

	return world.Snake{}, ErrNoSpace
}

func regionFree(torus geom.Torus, occupied cellSet, origin geom.Coord) bool {
	for y := int32(0); y < spawnRegion; y++ {
		for x := int32(0); x < spawnRegion; x++ {
			if occupied.has(torus.Wrap(origin.Add(geom.Coord{X: x, Y: y}))) {
				return false
			}
		}
	}
	return true
}
