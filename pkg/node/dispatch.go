package node

import (
	"fmt"
	"time"

	"github.com/cfoust/snek/pkg/protocol"
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/topology"
	"github.com/cfoust/snek/pkg/transport"
	"github.com/cfoust/snek/pkg/world"

	opt "github.com/repeale/fp-go/option"
)

type handlerFunc func(n *Node, game *gameSession, msg protocol.Message, addr string)

type handler struct {
	// roles that may process the message; empty means any.
	roles  []role.ID
	handle handlerFunc
}

var (
	masterOnly  = []role.ID{role.Master}
	nonMasters  = []role.ID{role.Normal, role.Deputy, role.Viewer}
	messageKind = map[protocol.Kind]handler{
		protocol.JoinKind:         {masterOnly, (*Node).handleJoin},
		protocol.SteerKind:        {masterOnly, (*Node).handleSteer},
		protocol.StateKind:        {nonMasters, (*Node).handleState},
		protocol.PingKind:         {nil, (*Node).handlePing},
		protocol.AckKind:          {nil, (*Node).handleAck},
		protocol.AnnouncementKind: {nil, (*Node).handleAnnouncement},
		protocol.RoleChangeKind:   {nil, (*Node).handleRoleChange},
		protocol.ErrorKind:        {nil, (*Node).handleError},
	}
)

func (h handler) accepts(r role.ID) bool {
	if len(h.roles) == 0 {
		return true
	}
	for _, allowed := range h.roles {
		if allowed == r {
			return true
		}
	}
	return false
}

func (n *Node) dispatch(game *gameSession, datagram transport.SocketMessage) {
	addr := datagram.Addr.String()
	msg, err := protocol.Decode(datagram.Data)
	if err != nil {
		game.logger.Debug().Err(err).Str("addr", addr).Msg("dropping malformed datagram")
		return
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game != game {
		return
	}

	kind := msg.Kind()
	h, ok := messageKind[kind]
	if !ok {
		return
	}

	if !h.accepts(game.role()) {
		game.logger.Debug().
			Str("kind", kind.String()).
			Str("role", game.role().String()).
			Msg("ignoring message for another role")
		if kind == protocol.JoinKind {
			game.messenger.Reject(msg.Seq, game.selfID, "not the master", addr)
		}
		return
	}

	h.handle(n, game, msg, addr)
}

func (n *Node) handleJoin(game *gameSession, msg protocol.Message, addr string) {
	// A retransmitted JOIN whose ACK got lost.
	if existing := game.state.Players.FindByAddr(addr); opt.IsSome(existing) {
		game.messenger.Ack(msg.Seq, game.selfID, existing.Value.ID, addr)
		return
	}

	if !game.allow(addr, n.options.JoinRate, n.options.JoinBurst) {
		game.logger.Warn().Str("addr", addr).Msg("join rate limited")
		return
	}

	id := game.state.Players.NextID()
	snake, err := game.engine.Spawn(game.state, id)
	if err != nil {
		game.logger.Warn().Err(err).Str("addr", addr).Msg("rejecting join")
		game.messenger.Reject(msg.Seq, game.selfID, err.Error(), addr)
		return
	}

	name := msg.Join.Name
	if name == "" {
		name = fmt.Sprintf("player-%d", id)
	}

	players, changes := topology.Join(game.state.Players, world.Player{
		ID:   id,
		Name: name,
		Addr: addr,
	})
	snakes := append(append([]world.Snake(nil), game.state.Snakes...), snake)
	game.state = game.state.WithPlayers(players).WithSnakes(snakes)

	game.messenger.Ack(msg.Seq, game.selfID, id, addr)
	n.sendChanges(game, changes)
	n.publish(game.state)

	game.logger.Info().
		Int32("id", id).
		Str("name", name).
		Str("addr", addr).
		Msg("player joined")
}

// sender identifies who sent a message, by id when the address agrees and
// by address otherwise.
func (n *Node) sender(game *gameSession, msg protocol.Message, addr string) opt.Option[world.Player] {
	if p := game.state.Players.Find(msg.SenderID); opt.IsSome(p) && p.Value.Addr == addr {
		return p
	}
	return game.state.Players.FindByAddr(addr)
}

func (n *Node) handleSteer(game *gameSession, msg protocol.Message, addr string) {
	sender := n.sender(game, msg, addr)
	if opt.IsNone(sender) {
		return
	}
	id := sender.Value.ID
	game.messenger.Ack(msg.Seq, game.selfID, id, addr)

	snake, ok := game.state.Snake(id)
	if !ok || !snake.Alive() || !msg.Steer.Direction.Valid() {
		return
	}
	game.steers[id] = msg.Steer.Direction
}

// reconcile keeps addresses the incoming table does not know. The sender
// is reachable at the address its packet came from.
func reconcile(local, incoming world.Players, senderID int32, senderAddr string) world.Players {
	out := make(world.Players, len(incoming))
	for i, p := range incoming {
		switch {
		case p.ID == senderID:
			p = p.WithAddr(senderAddr)
		case p.Addr == "":
			if known := local.Find(p.ID); opt.IsSome(known) {
				p = p.WithAddr(known.Value.Addr)
			}
		}
		out[i] = p
	}
	return out
}

func (n *Node) handleState(game *gameSession, msg protocol.Message, addr string) {
	game.messenger.Ack(msg.Seq, game.selfID, msg.SenderID, addr)

	incoming := msg.State.State
	if !incoming.Newer(game.state.Order) {
		game.logger.Debug().
			Int32("order", incoming.Order).
			Int32("current", game.state.Order).
			Msg("dropping stale state")
		return
	}

	players := reconcile(game.state.Players, incoming.Players, msg.SenderID, addr)
	game.state = incoming.WithPlayers(players)
	game.masterAddr = addr

	if game.role() == role.Master {
		n.becomeMaster(game)
	}
	n.publish(game.state)
}

func (n *Node) handlePing(game *gameSession, msg protocol.Message, addr string) {
	game.messenger.Ack(msg.Seq, game.selfID, msg.SenderID, addr)
}

func (n *Node) handleAck(game *gameSession, msg protocol.Message, addr string) {
	if p := game.state.Players.Find(msg.SenderID); opt.IsSome(p) && p.Value.Addr == "" && msg.SenderID != game.selfID {
		game.state = game.state.WithPlayers(game.state.Players.Update(msg.SenderID, func(p world.Player) world.Player {
			return p.WithAddr(addr)
		}))
	}

	pending, ok := game.messenger.Resolve(msg.Seq)
	if !ok || pending.Kind != protocol.JoinKind || game.joining == nil {
		return
	}

	game.selfID = msg.ReceiverID
	// A STATE or ROLE_CHANGE may have overtaken a retransmitted ACK.
	self := world.Player{
		ID:   game.selfID,
		Name: n.options.Name,
		Role: role.Normal,
	}
	if known := game.state.Players.Find(game.selfID); opt.IsSome(known) {
		self = known.Value
	}
	game.state = game.state.WithPlayers(game.state.Players.Put(self))
	game.logger = game.logger.With().Int32("id", game.selfID).Logger()
	game.resolveJoin(nil)
	n.publish(game.state)

	game.logger.Info().Msg("joined game")
}

func (n *Node) handleAnnouncement(game *gameSession, msg protocol.Message, addr string) {
	n.cache.Observe(addr, *msg.Announcement, time.Now())
}

func (n *Node) handleRoleChange(game *gameSession, msg protocol.Message, addr string) {
	game.messenger.Ack(msg.Seq, game.selfID, msg.SenderID, addr)

	change := msg.RoleChange
	wasMaster := game.role() == role.Master
	oldMaster := game.masterID()

	players := topology.Apply(game.state.Players, msg.SenderID, change.SenderRole, game.selfID, change.ReceiverRole)
	if change.SenderRole == role.Master {
		players = players.Update(msg.SenderID, func(p world.Player) world.Player {
			return p.WithAddr(addr)
		})
		game.masterAddr = addr
		if oldMaster != msg.SenderID && oldMaster != world.NoPlayer && oldMaster != game.selfID {
			game.messenger.Redirect(oldMaster, msg.SenderID, addr)
		}
	}
	game.state = game.state.WithPlayers(players)

	game.logger.Info().
		Int32("from", msg.SenderID).
		Str("senderRole", change.SenderRole.String()).
		Str("role", game.role().String()).
		Msg("role changed")

	switch {
	case game.role() == role.Master:
		n.becomeMaster(game)
	case wasMaster:
		n.stopTicking(game)
	}
	n.publish(game.state)
}

func (n *Node) handleError(game *gameSession, msg protocol.Message, addr string) {
	pending, ok := game.messenger.Resolve(msg.Seq)
	game.logger.Warn().
		Str("addr", addr).
		Str("error", msg.Error.Message).
		Msg("peer reported an error")

	if ok && pending.Kind == protocol.JoinKind {
		game.resolveJoin(fmt.Errorf("%w: %s", ErrJoinRejected, msg.Error.Message))
	}
}
