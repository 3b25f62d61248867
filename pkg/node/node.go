// Package node ties the pieces of a peer together: it owns the game session,
// routes inbound messages by kind and role, runs the background loops and
// exposes the operations a front end drives.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cfoust/snek/pkg/discovery"
	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/protocol"
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/reliable"
	"github.com/cfoust/snek/pkg/topology"
	"github.com/cfoust/snek/pkg/transport"
	"github.com/cfoust/snek/pkg/utils"
	"github.com/cfoust/snek/pkg/world"

	opt "github.com/repeale/fp-go/option"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

var (
	ErrInGame       = errors.New("already in a game")
	ErrNotInGame    = errors.New("not in a game")
	ErrUnknownGame  = errors.New("game is not known")
	ErrJoinRejected = errors.New("join rejected")
	ErrJoinTimeout  = errors.New("join timed out")
)

const DefaultMulticastGroup = "239.192.0.4:9192"

type Options struct {
	Name string
	// Port for the unicast socket of a game session, 0 for any.
	Port int
	// AdvertiseHost is the host other peers reach this node on. Only used
	// for the Redis registry; multicast peers learn it from the packet.
	AdvertiseHost string

	// Multicast enables listening for and sending announcements.
	Multicast        bool
	MulticastGroup   string
	AnnounceInterval time.Duration
	DiscoveryTTL     time.Duration
	SweepInterval    time.Duration
	Redis            *discovery.RedisSettings

	// JOIN requests allowed per second from one address.
	JoinRate  rate.Limit
	JoinBurst int
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "snek"
	}
	if o.AdvertiseHost == "" {
		o.AdvertiseHost = "127.0.0.1"
	}
	if o.MulticastGroup == "" {
		o.MulticastGroup = DefaultMulticastGroup
	}
	if o.AnnounceInterval <= 0 {
		o.AnnounceInterval = time.Second
	}
	if o.DiscoveryTTL <= 0 {
		o.DiscoveryTTL = discovery.DefaultTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = discovery.DefaultSweepInterval
	}
	if o.JoinRate <= 0 {
		o.JoinRate = 1
	}
	if o.JoinBurst <= 0 {
		o.JoinBurst = 3
	}
	return o
}

type Node struct {
	options Options

	cache     *discovery.Cache
	registry  *discovery.RedisRegistry
	discovery utils.Session
	multicast *transport.Socket

	mutex deadlock.Mutex
	game  *gameSession

	snapshot atomic.Pointer[world.GameState]
	updates  *utils.Topic[world.GameState]
}

// New starts discovery. It fails only if the multicast socket cannot be
// bound.
func New(ctx context.Context, options Options) (*Node, error) {
	options = options.withDefaults()

	n := &Node{
		options:   options,
		cache:     discovery.NewCache(options.DiscoveryTTL),
		discovery: utils.NewSession(ctx),
		updates:   utils.NewTopic[world.GameState](),
	}

	if options.Multicast {
		socket, err := transport.NewMulticastSocket(options.MulticastGroup)
		if err != nil {
			n.discovery.Close()
			return nil, err
		}
		n.multicast = socket

		incoming := socket.Service(n.discovery.Ctx())
		n.discovery.Go(func(ctx context.Context) {
			n.cache.Listen(ctx, incoming)
		})
	}

	if options.Redis != nil && options.Redis.Address != "" {
		n.registry = discovery.NewRedisRegistry(*options.Redis)
		n.discovery.Go(func(ctx context.Context) {
			n.registry.Poll(ctx, n.cache, options.AnnounceInterval)
		})
	}

	n.discovery.Go(func(ctx context.Context) {
		n.cache.Poll(ctx, options.SweepInterval)
	})

	return n, nil
}

// Cache holds the games this node has heard about.
func (n *Node) Cache() *discovery.Cache {
	return n.cache
}

func (n *Node) ListKnownGames() []discovery.GameInfo {
	return n.cache.Games()
}

// CurrentSnapshot returns the latest state without taking any lock. The
// second value is false outside of a game.
func (n *Node) CurrentSnapshot() (world.GameState, bool) {
	state := n.snapshot.Load()
	if state == nil {
		return world.GameState{}, false
	}
	return *state, true
}

// Subscribe delivers every new snapshot. Slow subscribers miss updates.
func (n *Node) Subscribe() *utils.Subscriber[world.GameState] {
	return n.updates.Subscribe()
}

func (n *Node) publish(state world.GameState) {
	state = state.Clone()
	n.snapshot.Store(&state)
	n.updates.Publish(state)
}

func (n *Node) Role() role.ID {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game == nil {
		return role.None
	}
	return n.game.role()
}

func (n *Node) PlayerID() int32 {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game == nil {
		return world.NoPlayer
	}
	return n.game.selfID
}

func (n *Node) MasterID() int32 {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game == nil {
		return world.NoPlayer
	}
	return n.game.masterID()
}

// Port is the unicast port of the current game session, or 0.
func (n *Node) Port() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game == nil {
		return 0
	}
	return n.game.socket.Port()
}

func (n *Node) openSession(config world.GameConfig) (*gameSession, error) {
	socket, err := transport.NewDatagramSocket(n.options.Port)
	if err != nil {
		return nil, err
	}

	game := newGameSession(n.discovery.Ctx(), socket, config)
	game.messenger = reliable.New(socket, reliable.Options{
		PingInterval: config.PingInterval(),
		PeerTimeout:  config.PeerTimeout(),
		OnTimeout: func(target int32, addr string) {
			n.onTimeout(game, target, addr)
		},
	})
	return game, nil
}

func (n *Node) startLoops(game *gameSession) {
	incoming := game.socket.Service(game.session.Ctx())
	game.session.Go(func(ctx context.Context) {
		for msg := range incoming {
			n.dispatch(game, msg)
		}
	})

	game.session.Go(func(ctx context.Context) {
		game.messenger.Poll(ctx, func() (int32, []reliable.Target) {
			return n.heartbeatTargets(game)
		})
	})

	game.session.Go(func(ctx context.Context) {
		n.announceLoop(ctx, game)
	})
}

// CreateGame starts a new game with this node as its only player and MASTER.
func (n *Node) CreateGame(config world.GameConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.game != nil {
		return ErrInGame
	}

	game, err := n.openSession(config)
	if err != nil {
		return err
	}

	game.selfID = 0
	state := game.state.WithPlayers(world.Players{{
		ID:   0,
		Name: n.options.Name,
		Role: role.Master,
	}})

	snake, err := game.engine.Spawn(state, 0)
	if err != nil {
		game.session.Close()
		game.socket.Close()
		return fmt.Errorf("could not create game: %w", err)
	}
	game.state = game.engine.PlaceFood(state.WithSnakes([]world.Snake{snake}))

	n.game = game
	n.startLoops(game)
	n.startTicking(game)
	n.publish(game.state)

	game.logger.Info().
		Int32("width", config.Width).
		Int32("height", config.Height).
		Msg("created game")
	return nil
}

// JoinGame asks the master of a known game to let this node in and waits
// for the answer. Other loops keep running while it waits.
func (n *Node) JoinGame(ctx context.Context, addr string) error {
	known := n.cache.Lookup(addr)
	if opt.IsNone(known) {
		return fmt.Errorf("%w: %s", ErrUnknownGame, addr)
	}
	announcement := known.Value.Announcement

	n.mutex.Lock()
	if n.game != nil {
		n.mutex.Unlock()
		return ErrInGame
	}

	game, err := n.openSession(announcement.Config)
	if err != nil {
		n.mutex.Unlock()
		return err
	}

	game.state = game.state.
		WithPlayers(announcement.Players.Update(topology.MasterID(announcement.Players), func(p world.Player) world.Player {
			return p.WithAddr(addr)
		})).
		WithOrder(-1)
	game.masterAddr = addr
	result := make(chan error, 1)
	game.joining = result

	n.game = game
	n.startLoops(game)

	seq, err := game.messenger.Send(protocol.Message{
		SenderID:   world.NoPlayer,
		ReceiverID: game.masterID(),
		Join:       &protocol.Join{Name: n.options.Name},
	}, addr, game.masterID())
	game.joinSeq = seq
	n.publish(game.state)
	timeout := announcement.Config.PeerTimeout()
	n.mutex.Unlock()

	if err != nil {
		n.leave(game, false)
		return err
	}

	game.logger.Info().Str("master", addr).Msg("joining game")

	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(2 * timeout):
		err = ErrJoinTimeout
	}

	if err != nil {
		game.logger.Warn().Err(err).Msg("join failed")
		n.leave(game, false)
		return err
	}

	return nil
}

// SubmitDirection steers the local snake. The master applies it to its own
// snake at the next tick, everybody else sends it to the master.
func (n *Node) SubmitDirection(d geom.Direction) error {
	if !d.Valid() {
		return fmt.Errorf("invalid direction %s", d)
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	game := n.game
	if game == nil || game.selfID == world.NoPlayer {
		return ErrNotInGame
	}

	if game.role() == role.Master {
		snake, ok := game.state.Snake(game.selfID)
		if !ok || !snake.Alive() || d == snake.Heading.Invert() {
			return nil
		}
		game.steers[game.selfID] = d
		return nil
	}

	masterID := game.masterID()
	_, err := game.messenger.Send(protocol.Message{
		SenderID:   game.selfID,
		ReceiverID: masterID,
		Steer:      &protocol.Steer{Direction: d},
	}, game.masterAddr, masterID)
	return err
}

// ExitGame leaves the current game. A master with other players hands its
// role off first. Calling it outside a game does nothing.
func (n *Node) ExitGame() {
	n.mutex.Lock()
	game := n.game
	n.mutex.Unlock()

	if game != nil {
		n.leave(game, true)
	}
}

// leave tears a session down if it is still the current one.
func (n *Node) leave(game *gameSession, handoff bool) {
	n.mutex.Lock()
	if n.game != game {
		n.mutex.Unlock()
		return
	}

	if handoff && game.role() == role.Master {
		n.handoff(game)
	}

	n.game = nil
	if game.stopTick != nil {
		game.stopTick()
		game.stopTick = nil
	}
	game.resolveJoin(ErrNotInGame)
	n.snapshot.Store(nil)
	n.mutex.Unlock()

	game.session.Close()
	game.socket.Close()

	if n.registry != nil {
		n.registry.Withdraw(context.Background(), n.advertisedAddr(game))
	}

	game.logger.Info().Msg("left game")
}

// handoff passes MASTER on before this node goes away. Nothing is
// retransmitted after the session closes; peers that miss it fail over.
func (n *Node) handoff(game *gameSession) {
	players, changes := topology.Handoff(game.state.Players, game.selfID)
	if len(changes) == 0 {
		return
	}

	game.state = game.state.WithPlayers(players).WithOrder(game.state.Order + 1)
	n.broadcastState(game)
	n.sendChanges(game, changes)
}

// Shutdown leaves the current game and stops discovery.
func (n *Node) Shutdown() {
	n.ExitGame()
	n.discovery.Close()
	if n.multicast != nil {
		n.multicast.Close()
	}
	if n.registry != nil {
		n.registry.Close()
	}
}

func (n *Node) advertisedAddr(game *gameSession) string {
	return fmt.Sprintf("%s:%d", n.options.AdvertiseHost, game.socket.Port())
}

// sendChanges delivers role changes. Targets without a known address are
// skipped; they catch up from the next STATE.
func (n *Node) sendChanges(game *gameSession, changes []topology.Change) {
	for _, change := range changes {
		if change.TargetID == game.selfID {
			continue
		}

		target := game.state.Players.Find(change.TargetID)
		if opt.IsNone(target) || target.Value.Addr == "" {
			continue
		}

		game.messenger.Send(protocol.Message{
			SenderID:   change.SenderID,
			ReceiverID: change.TargetID,
			RoleChange: &protocol.RoleChange{
				SenderRole:   change.SenderRole,
				ReceiverRole: change.ReceiverRole,
			},
		}, target.Value.Addr, change.TargetID)
	}
}

// broadcastState sends the current state to every other player.
func (n *Node) broadcastState(game *gameSession) {
	state := game.state
	for _, p := range state.Players {
		if p.ID == game.selfID || p.Addr == "" {
			continue
		}

		game.messenger.Send(protocol.Message{
			SenderID:   game.selfID,
			ReceiverID: p.ID,
			State:      &protocol.State{State: state},
		}, p.Addr, p.ID)
	}
}
