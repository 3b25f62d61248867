package node

import (
	"context"
	"time"

	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/protocol"
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/reliable"
	"github.com/cfoust/snek/pkg/topology"
	"github.com/cfoust/snek/pkg/world"

	opt "github.com/repeale/fp-go/option"
)

func (n *Node) startTicking(game *gameSession) {
	if game.ticking() {
		return
	}

	ctx, cancel := context.WithCancel(game.session.Ctx())
	game.stopTick = cancel
	interval := game.state.Config.TickInterval()
	game.session.Go(func(context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.tick(game)
			}
		}
	})
}

func (n *Node) stopTicking(game *gameSession) {
	if !game.ticking() {
		return
	}
	game.stopTick()
	game.stopTick = nil
}

// becomeMaster takes over the game: every peer hears about it, a DEPUTY is
// assigned if missing and the simulation starts.
func (n *Node) becomeMaster(game *gameSession) {
	if game.ticking() {
		return
	}

	players, changes := topology.Assume(game.state.Players, game.selfID)
	game.state = game.state.WithPlayers(players)
	n.populate(game)
	n.sendChanges(game, changes)
	n.startTicking(game)

	game.logger.Info().Msg("became master")
}

func (n *Node) tick(game *gameSession) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game != game || game.role() != role.Master {
		return
	}

	result := game.engine.Tick(game.state, game.steers, game.removals)
	game.steers = make(map[int32]geom.Direction)
	game.removals = nil
	game.state = result.State

	for _, id := range result.Deaths {
		game.logger.Info().Int32("id", id).Msg("snake died")
	}

	n.broadcastState(game)
	n.sendChanges(game, result.Changes)
	n.publish(game.state)

	if game.role() != role.Master {
		game.logger.Info().Msg("handed master off")
		n.stopTicking(game)
	}
}

// heartbeatTargets is who the messenger keeps alive: every player for the
// master, the master for everybody else.
func (n *Node) heartbeatTargets(game *gameSession) (int32, []reliable.Target) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game != game || game.selfID == world.NoPlayer {
		return world.NoPlayer, nil
	}

	if game.role() != role.Master {
		masterID := game.masterID()
		if masterID == world.NoPlayer || game.masterAddr == "" {
			return game.selfID, nil
		}
		return game.selfID, []reliable.Target{{ID: masterID, Addr: game.masterAddr}}
	}

	var targets []reliable.Target
	for _, p := range game.state.Players {
		if p.ID == game.selfID || p.Addr == "" {
			continue
		}
		targets = append(targets, reliable.Target{ID: p.ID, Addr: p.Addr})
	}
	return game.selfID, targets
}

// onTimeout handles a peer that stopped acknowledging. The master removes
// it at the next tick; anybody else assumes the master died.
func (n *Node) onTimeout(game *gameSession, target int32, addr string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game != game {
		return
	}

	if game.joining != nil {
		game.resolveJoin(ErrJoinTimeout)
		return
	}

	if game.role() == role.Master {
		if target != game.selfID && opt.IsSome(game.state.Players.Find(target)) {
			game.logger.Info().Int32("id", target).Msg("removing silent player")
			game.removals = append(game.removals, target)
		}
		return
	}

	masterID := game.masterID()
	if target != masterID {
		game.logger.Debug().Int32("id", target).Msg("ignoring timeout of non-master")
		return
	}

	n.failover(game, masterID)
}

func (n *Node) failover(game *gameSession, masterID int32) {
	outcome := topology.Failover(game.state.Players, game.selfID, masterID)
	game.state = game.state.WithPlayers(outcome.Players)
	game.messenger.Forget(masterID)

	game.logger.Warn().
		Int32("old", masterID).
		Int32("new", outcome.MasterID).
		Msg("master timed out")

	if outcome.Promoted {
		// The old master's snake turns into a zombie at the next tick.
		game.removals = append(game.removals, masterID)
		n.populate(game)
		n.sendChanges(game, outcome.Changes)
		n.startTicking(game)
		game.logger.Info().Msg("became master")
	} else if master := game.state.Players.Find(outcome.MasterID); opt.IsSome(master) {
		game.masterAddr = master.Value.Addr
	}

	n.publish(game.state)
}

// populate fills in a world that never came from a master, which happens
// when a node is promoted before its first STATE arrived: every playing
// member gets a snake and food is placed.
func (n *Node) populate(game *gameSession) {
	if game.state.Order >= 0 {
		return
	}

	state := game.state
	for _, p := range state.Players {
		if !p.Role.Plays() {
			continue
		}
		if _, ok := state.Snake(p.ID); ok {
			continue
		}

		snake, err := game.engine.Spawn(state, p.ID)
		if err != nil {
			game.logger.Warn().Err(err).Int32("id", p.ID).Msg("no room for snake")
			continue
		}
		snakes := append(append([]world.Snake(nil), state.Snakes...), snake)
		state = state.WithSnakes(snakes)
	}

	game.state = game.engine.PlaceFood(state.WithOrder(0))
}

func (n *Node) announceLoop(ctx context.Context, game *gameSession) {
	if !n.options.Multicast && n.registry == nil {
		return
	}

	ticker := time.NewTicker(n.options.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n.announce(ctx, game, now)
		}
	}
}

// announce advertises the game while this node is its master. It goes out
// from the session socket so listeners learn the address to join.
func (n *Node) announce(ctx context.Context, game *gameSession, now time.Time) {
	n.mutex.Lock()
	if n.game != game || game.role() != role.Master {
		n.mutex.Unlock()
		return
	}
	announcement := protocol.Announcement{
		Config:  game.state.Config,
		Players: game.state.Players,
	}
	selfID := game.selfID
	n.mutex.Unlock()

	if n.options.Multicast {
		game.messenger.SendUnreliable(protocol.Message{
			SenderID:     selfID,
			ReceiverID:   world.NoPlayer,
			Announcement: &announcement,
		}, n.options.MulticastGroup)
	}

	if n.registry != nil {
		err := n.registry.Publish(ctx, n.advertisedAddr(game), announcement, now)
		if err != nil && ctx.Err() == nil {
			game.logger.Warn().Err(err).Msg("failed to publish game to redis")
		}
	}
}
