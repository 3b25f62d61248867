package node

import (
	"context"
	"math/rand"
	"time"

	"github.com/cfoust/snek/pkg/engine"
	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/reliable"
	"github.com/cfoust/snek/pkg/transport"
	"github.com/cfoust/snek/pkg/utils"
	"github.com/cfoust/snek/pkg/world"

	"github.com/google/uuid"
	opt "github.com/repeale/fp-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// gameSession is everything that lives as long as the node is in a game.
// All fields are guarded by Node.mutex.
type gameSession struct {
	id        string
	session   utils.Session
	socket    *transport.Socket
	messenger *reliable.Messenger
	engine    *engine.Engine
	logger    zerolog.Logger

	selfID     int32
	state      world.GameState
	masterAddr string

	// Latest direction intent per player, consumed by the next tick.
	steers map[int32]geom.Direction
	// Players that timed out, removed by the next tick.
	removals []int32
	// Cancels the tick loop while this node is master.
	stopTick context.CancelFunc

	limiters map[string]*rate.Limiter

	// Set while a JOIN is waiting for its answer.
	joining chan error
	joinSeq uint64
}

func newGameSession(ctx context.Context, socket *transport.Socket, config world.GameConfig) *gameSession {
	id := uuid.NewString()
	return &gameSession{
		id:      id,
		session: utils.NewSession(ctx),
		socket:  socket,
		engine:  engine.New(rand.New(rand.NewSource(time.Now().UnixNano()))),
		logger: log.With().
			Str("session", id).
			Int("port", socket.Port()).
			Logger(),
		selfID:   world.NoPlayer,
		state:    world.NewState(config),
		steers:   make(map[int32]geom.Direction),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (g *gameSession) self() opt.Option[world.Player] {
	return g.state.Players.Find(g.selfID)
}

// role is the local node's role. A node that is not in the table (yet) is
// treated as a viewer.
func (g *gameSession) role() role.ID {
	self := g.self()
	if opt.IsNone(self) {
		return role.Viewer
	}
	return self.Value.Role
}

func (g *gameSession) masterID() int32 {
	return g.state.MasterID()
}

func (g *gameSession) ticking() bool {
	return g.stopTick != nil
}

func (g *gameSession) allow(addr string, limit rate.Limit, burst int) bool {
	limiter, ok := g.limiters[addr]
	if !ok {
		limiter = rate.NewLimiter(limit, burst)
		g.limiters[addr] = limiter
	}
	return limiter.Allow()
}

// resolveJoin finishes a pending JoinGame call.
func (g *gameSession) resolveJoin(err error) {
	if g.joining == nil {
		return
	}
	g.joining <- err
	g.joining = nil
}
