package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/cfoust/snek/pkg/engine"
	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/protocol"
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/reliable"
	"github.com/cfoust/snek/pkg/utils"
	"github.com/cfoust/snek/pkg/world"

	opt "github.com/repeale/fp-go/option"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	waitFor = 5 * time.Second
	every   = 10 * time.Millisecond
)

// A large board with slow ticks keeps snakes from running into each other
// while a test waits on the network.
func testConfig() world.GameConfig {
	return world.GameConfig{
		Width:         100,
		Height:        100,
		FoodStatic:    0,
		FoodPerPlayer: 0,
		StateDelayMs:  200,
		DeadFoodProb:  0,
		PingDelayMs:   20,
		NodeTimeoutMs: 300,
	}
}

func newNode(t *testing.T, name string) *Node {
	n, err := New(context.Background(), Options{Name: name})
	require.NoError(t, err)
	t.Cleanup(n.Shutdown)
	return n
}

func addrOf(n *Node) string {
	return fmt.Sprintf("127.0.0.1:%d", n.Port())
}

// introduce makes b aware of the game a is hosting, the way a multicast
// announcement would.
func introduce(t *testing.T, a, b *Node) {
	state, ok := a.CurrentSnapshot()
	require.True(t, ok)
	b.Cache().Observe(addrOf(a), protocol.Announcement{
		Config:  state.Config,
		Players: state.Players,
	}, time.Now())
}

func join(t *testing.T, a, b *Node) {
	introduce(t, a, b)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, b.JoinGame(ctx, addrOf(a)))
}

// crash drops a node out of its game without telling anybody.
func crash(n *Node) {
	n.mutex.Lock()
	game := n.game
	n.mutex.Unlock()
	n.leave(game, false)
}

func roleIn(state world.GameState, id int32) role.ID {
	p := state.Players.Find(id)
	if opt.IsNone(p) {
		return role.None
	}
	return p.Value.Role
}

func TestCreateGame(t *testing.T) {
	n := newNode(t, "alice")
	config := testConfig()
	config.Width, config.Height = 10, 10
	require.NoError(t, n.CreateGame(config))

	assert.Equal(t, role.Master, n.Role())
	assert.Equal(t, int32(0), n.PlayerID())
	assert.Equal(t, int32(0), n.MasterID())

	state, ok := n.CurrentSnapshot()
	require.True(t, ok)
	require.Len(t, state.Players, 1)
	assert.Equal(t, "alice", state.Players[0].Name)
	require.Len(t, state.Snakes, 1)
	assert.Equal(t, 2, state.Snakes[0].Length())

	start := state.Order
	require.Eventually(t, func() bool {
		state, _ := n.CurrentSnapshot()
		return state.Order > start
	}, waitFor, every)

	assert.ErrorIs(t, n.CreateGame(config), ErrInGame)
}

func TestCreateInvalid(t *testing.T) {
	n := newNode(t, "alice")
	config := testConfig()
	config.Width = 5
	assert.ErrorIs(t, n.CreateGame(config), world.ErrInvalidConfig)
	assert.Equal(t, role.None, n.Role())

	_, ok := n.CurrentSnapshot()
	assert.False(t, ok)
}

func TestJoinUnknown(t *testing.T) {
	n := newNode(t, "bob")
	err := n.JoinGame(context.Background(), "127.0.0.1:1")
	assert.ErrorIs(t, err, ErrUnknownGame)
	assert.ErrorIs(t, n.SubmitDirection(geom.Up), ErrNotInGame)
}

func TestJoin(t *testing.T) {
	a := newNode(t, "alice")
	b := newNode(t, "bob")
	require.NoError(t, a.CreateGame(testConfig()))

	join(t, a, b)
	assert.Equal(t, int32(1), b.PlayerID())
	assert.Equal(t, int32(0), b.MasterID())

	state, _ := a.CurrentSnapshot()
	assert.Equal(t, role.Deputy, roleIn(state, 1))
	_, ok := state.Snake(1)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		return b.Role() == role.Deputy
	}, waitFor, every)

	// The joiner follows the master's snapshots.
	require.Eventually(t, func() bool {
		mine, _ := b.CurrentSnapshot()
		theirs, _ := a.CurrentSnapshot()
		return mine.Order > 0 && mine.Order <= theirs.Order && len(mine.Snakes) == 2
	}, waitFor, every)

	introduce(t, a, b)
	assert.ErrorIs(t, b.JoinGame(context.Background(), addrOf(a)), ErrInGame)
}

func TestSteer(t *testing.T) {
	a := newNode(t, "alice")
	b := newNode(t, "bob")
	require.NoError(t, a.CreateGame(testConfig()))
	join(t, a, b)

	state, _ := a.CurrentSnapshot()
	snake, ok := state.Snake(1)
	require.True(t, ok)

	var turn geom.Direction
	for _, d := range geom.Directions {
		if d != snake.Heading && d != snake.Heading.Invert() {
			turn = d
			break
		}
	}

	require.NoError(t, b.SubmitDirection(turn))
	require.Eventually(t, func() bool {
		state, _ := a.CurrentSnapshot()
		snake, ok := state.Snake(1)
		return ok && snake.Heading == turn
	}, waitFor, every)
}

func TestFailover(t *testing.T) {
	a := newNode(t, "alice")
	b := newNode(t, "bob")
	c := newNode(t, "carol")
	require.NoError(t, a.CreateGame(testConfig()))
	join(t, a, b)
	join(t, a, c)

	require.Eventually(t, func() bool {
		return b.Role() == role.Deputy && c.Role() == role.Normal
	}, waitFor, every)

	crash(a)

	require.Eventually(t, func() bool {
		masters := 0
		for _, n := range []*Node{b, c} {
			if n.Role() == role.Master {
				masters++
			}
		}
		return masters == 1 && b.MasterID() == c.MasterID() && b.MasterID() != 0
	}, waitFor, every)

	// The new master keeps the game going.
	before, _ := c.CurrentSnapshot()
	require.Eventually(t, func() bool {
		state, _ := c.CurrentSnapshot()
		return state.Order > before.Order
	}, waitFor, every)

	// The dead master's snake is left behind as a zombie.
	require.Eventually(t, func() bool {
		state, _ := c.CurrentSnapshot()
		zombies := 0
		for _, snake := range state.Snakes {
			if snake.PlayerID == 0 {
				return false
			}
			if snake.State == world.Zombie {
				zombies++
			}
		}
		return zombies == 1
	}, waitFor, every)
}

func TestExitHandsOff(t *testing.T) {
	a := newNode(t, "alice")
	b := newNode(t, "bob")
	require.NoError(t, a.CreateGame(testConfig()))
	join(t, a, b)

	require.Eventually(t, func() bool {
		return b.Role() == role.Deputy
	}, waitFor, every)

	a.ExitGame()
	a.ExitGame()
	assert.Equal(t, role.None, a.Role())
	assert.Equal(t, 0, a.Port())

	require.Eventually(t, func() bool {
		return b.Role() == role.Master
	}, waitFor, every)
}

type nopTransport struct{}

func (nopTransport) SendDatagram(string, []byte) error { return nil }

func offline(t *testing.T, state world.GameState, selfID int32) (*Node, *gameSession) {
	n := &Node{updates: utils.NewTopic[world.GameState]()}
	game := &gameSession{
		session: utils.NewSession(context.Background()),
		engine:  engine.New(rand.New(rand.NewSource(1))),
		messenger: reliable.New(nopTransport{}, reliable.Options{
			PingInterval: 20 * time.Millisecond,
			PeerTimeout:  100 * time.Millisecond,
		}),
		logger:   zerolog.Nop(),
		selfID:   selfID,
		state:    state,
		steers:   make(map[int32]geom.Direction),
		limiters: make(map[string]*rate.Limiter),
	}
	n.game = game
	t.Cleanup(game.session.Close)
	return n, game
}

func TestStaleState(t *testing.T) {
	players := world.Players{
		{ID: 0, Name: "a", Role: role.Master},
		{ID: 1, Name: "b", Addr: "10.0.0.2:1", Role: role.Deputy},
		{ID: 2, Name: "c", Role: role.Normal},
	}
	state := world.NewState(testConfig()).WithPlayers(players).WithOrder(5)
	n, game := offline(t, state, 2)

	stale := state.WithOrder(4).WithFoods([]geom.Coord{{X: 1, Y: 1}})
	n.handleState(game, protocol.Message{SenderID: 0, State: &protocol.State{State: stale}}, "10.0.0.1:1")
	assert.Equal(t, int32(5), game.state.Order)
	assert.Empty(t, game.state.Foods)

	same := state.WithFoods([]geom.Coord{{X: 1, Y: 1}})
	n.handleState(game, protocol.Message{SenderID: 0, State: &protocol.State{State: same}}, "10.0.0.1:1")
	assert.Empty(t, game.state.Foods)

	fresh := world.NewState(testConfig()).
		WithPlayers(world.Players{
			{ID: 0, Name: "a", Role: role.Master},
			{ID: 1, Name: "b", Role: role.Deputy},
			{ID: 2, Name: "c", Role: role.Normal},
		}).
		WithOrder(6).
		WithFoods([]geom.Coord{{X: 2, Y: 2}})
	n.handleState(game, protocol.Message{SenderID: 0, State: &protocol.State{State: fresh}}, "10.0.0.1:1")
	assert.Equal(t, int32(6), game.state.Order)
	assert.Equal(t, []geom.Coord{{X: 2, Y: 2}}, game.state.Foods)
	assert.Equal(t, "10.0.0.1:1", game.masterAddr)

	// Addresses come from the packet for the sender and from the old table
	// for everybody else.
	assert.Equal(t, "10.0.0.1:1", game.state.Players.Find(0).Value.Addr)
	assert.Equal(t, "10.0.0.2:1", game.state.Players.Find(1).Value.Addr)

	snapshot, ok := n.CurrentSnapshot()
	require.True(t, ok)
	assert.Equal(t, int32(6), snapshot.Order)
}

func TestRoleChangeDemotesMaster(t *testing.T) {
	players := world.Players{
		{ID: 0, Name: "a", Role: role.Master},
		{ID: 1, Name: "b", Addr: "10.0.0.2:1", Role: role.Deputy},
	}
	state := world.NewState(testConfig()).WithPlayers(players)
	n, game := offline(t, state, 0)

	n.handleRoleChange(game, protocol.Message{
		SenderID:   1,
		ReceiverID: 0,
		RoleChange: &protocol.RoleChange{SenderRole: role.Master, ReceiverRole: role.Viewer},
	}, "10.0.0.9:1")

	assert.Equal(t, role.Viewer, game.role())
	assert.Equal(t, int32(1), game.masterID())
	assert.Equal(t, "10.0.0.9:1", game.masterAddr)
	assert.Equal(t, "10.0.0.9:1", game.state.Players.Find(1).Value.Addr)
}

func TestJoinRejectedByNonMaster(t *testing.T) {
	a := newNode(t, "alice")
	b := newNode(t, "bob")
	c := newNode(t, "carol")
	require.NoError(t, a.CreateGame(testConfig()))
	join(t, a, b)

	// Pretend b is hosting: its answer is an ERROR since it is not the master.
	state, _ := b.CurrentSnapshot()
	c.Cache().Observe(addrOf(b), protocol.Announcement{
		Config:  state.Config,
		Players: state.Players,
	}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := c.JoinGame(ctx, addrOf(b))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJoinRejected), "got %v", err)
	assert.Equal(t, role.None, c.Role())
}

func TestFailoverZombifiesMaster(t *testing.T) {
	players := world.Players{
		{ID: 0, Name: "a", Role: role.Master},
		{ID: 1, Name: "b", Role: role.Deputy},
	}
	snakes := []world.Snake{
		{PlayerID: 0, State: world.Alive, Heading: geom.Right, Points: []geom.Coord{{X: 10, Y: 10}, {X: -1, Y: 0}}},
		{PlayerID: 1, State: world.Alive, Heading: geom.Right, Points: []geom.Coord{{X: 10, Y: 50}, {X: -1, Y: 0}}},
	}
	state := world.NewState(testConfig()).WithPlayers(players).WithSnakes(snakes).WithOrder(3)
	n, game := offline(t, state, 1)

	n.mutex.Lock()
	n.failover(game, 0)
	assert.Equal(t, role.Master, game.role())
	assert.Equal(t, []int32{0}, game.removals)
	n.stopTicking(game)
	n.mutex.Unlock()

	n.tick(game)

	snake := game.state.Snakes[0]
	assert.Equal(t, world.Zombie, snake.State)
	assert.Equal(t, world.NoPlayer, snake.PlayerID)
	assert.Equal(t, int32(4), game.state.Order)
	assert.True(t, opt.IsNone(game.state.Players.Find(0)))
}

func TestFailoverBeforeFirstState(t *testing.T) {
	// Only the announcement is known: no snakes and no order yet.
	players := world.Players{
		{ID: 0, Name: "a", Role: role.Master},
		{ID: 1, Name: "b", Role: role.Deputy},
		{ID: 2, Name: "c", Role: role.Normal},
		{ID: 3, Name: "d", Role: role.Viewer},
	}
	state := world.NewState(testConfig()).WithPlayers(players).WithOrder(-1)
	n, game := offline(t, state, 1)

	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.failover(game, 0)
	n.stopTicking(game)

	assert.Equal(t, role.Master, game.role())
	assert.Equal(t, int32(0), game.state.Order)
	require.Len(t, game.state.Snakes, 2)
	for _, id := range []int32{1, 2} {
		snake, ok := game.state.Snake(id)
		require.True(t, ok, "player %d has no snake", id)
		assert.True(t, snake.Alive())
	}
	_, ok := game.state.Snake(3)
	assert.False(t, ok)
}

func TestLateJoinAckKeepsRole(t *testing.T) {
	players := world.Players{
		{ID: 0, Name: "a", Addr: "10.0.0.1:1", Role: role.Master},
	}
	state := world.NewState(testConfig()).WithPlayers(players).WithOrder(-1)
	n, game := offline(t, state, world.NoPlayer)
	n.options.Name = "b"

	result := make(chan error, 1)
	game.joining = result
	seq, err := game.messenger.Send(protocol.Message{
		SenderID:   world.NoPlayer,
		ReceiverID: 0,
		Join:       &protocol.Join{Name: "b"},
	}, "10.0.0.1:1", 0)
	require.NoError(t, err)

	// A STATE naming this node DEPUTY arrives before the ACK.
	game.state = game.state.WithPlayers(game.state.Players.Put(world.Player{
		ID:   1,
		Name: "b",
		Addr: "10.0.0.2:1",
		Role: role.Deputy,
	})).WithOrder(2)

	n.handleAck(game, protocol.Message{
		Seq:        seq,
		SenderID:   0,
		ReceiverID: 1,
		Ack:        &protocol.Ack{},
	}, "10.0.0.1:1")

	require.NoError(t, <-result)
	assert.Equal(t, int32(1), game.selfID)
	assert.Equal(t, role.Deputy, game.role())
	assert.Equal(t, "10.0.0.2:1", game.state.Players.Find(1).Value.Addr)
}
