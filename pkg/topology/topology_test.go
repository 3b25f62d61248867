package topology

import (
	"testing"

	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/world"

	opt "github.com/repeale/fp-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(roles ...role.ID) world.Players {
	var players world.Players
	for i, r := range roles {
		players = players.Put(world.Player{ID: int32(i), Name: "p", Role: r})
	}
	return players
}

func roleOf(t *testing.T, players world.Players, id int32) role.ID {
	player := players.Find(id)
	require.True(t, opt.IsSome(player), "player %d missing", id)
	return player.Value.Role
}

func masters(players world.Players) int {
	return players.Count(role.Master)
}

func TestJoinPromotesFirstPlayer(t *testing.T) {
	players := table(role.Master)

	players, changes := Join(players, world.Player{ID: 1, Name: "b"})
	assert.Equal(t, role.Deputy, roleOf(t, players, 1))
	require.Len(t, changes, 1)
	assert.Equal(t, Change{SenderID: 0, SenderRole: role.None, TargetID: 1, ReceiverRole: role.Deputy}, changes[0])

	players, changes = Join(players, world.Player{ID: 2, Name: "c"})
	assert.Equal(t, role.Normal, roleOf(t, players, 2))
	assert.Empty(t, changes)
}

func TestDemote(t *testing.T) {
	players := table(role.Master, role.Deputy, role.Normal, role.Normal)

	players, changes := Demote(players, 0, 1)
	assert.Equal(t, role.Viewer, roleOf(t, players, 1))
	assert.Equal(t, role.Deputy, roleOf(t, players, 2))
	require.Len(t, changes, 2)
	assert.Equal(t, role.Viewer, changes[0].ReceiverRole)
	assert.Equal(t, int32(2), changes[1].TargetID)
	assert.Equal(t, role.Deputy, changes[1].ReceiverRole)

	// Already a viewer
	again, changes := Demote(players, 0, 1)
	assert.Equal(t, players, again)
	assert.Empty(t, changes)
}

func TestHandoff(t *testing.T) {
	players := table(role.Master, role.Normal, role.Deputy)

	players, changes := Demote(players, 0, 0)
	assert.Equal(t, role.Viewer, roleOf(t, players, 0))
	assert.Equal(t, role.Master, roleOf(t, players, 2))
	assert.Equal(t, 1, masters(players))
	require.Len(t, changes, 1)
	assert.Equal(t, Change{SenderID: 0, SenderRole: role.Viewer, TargetID: 2, ReceiverRole: role.Master}, changes[0])
}

func TestHandoffWithoutSuccessor(t *testing.T) {
	players := table(role.Master, role.Viewer)

	after, changes := Handoff(players, 0)
	assert.Equal(t, players, after)
	assert.Empty(t, changes)
}

func TestFailover(t *testing.T) {
	players := table(role.Master, role.Deputy, role.Normal, role.Viewer)

	// As seen by the deputy
	outcome := Failover(players, 1, 0)
	assert.True(t, outcome.Promoted)
	assert.Equal(t, int32(1), outcome.MasterID)
	assert.Equal(t, role.Master, roleOf(t, outcome.Players, 1))
	assert.Equal(t, role.Deputy, roleOf(t, outcome.Players, 2))
	assert.Equal(t, 1, masters(outcome.Players))
	assert.True(t, opt.IsNone(outcome.Players.Find(0)))

	require.Len(t, outcome.Changes, 2)
	for _, change := range outcome.Changes {
		assert.Equal(t, int32(1), change.SenderID)
		assert.Equal(t, role.Master, change.SenderRole)
	}
	assert.Equal(t, role.Deputy, outcome.Changes[0].ReceiverRole)
	assert.Equal(t, role.None, outcome.Changes[1].ReceiverRole)

	// As seen by a normal player
	outcome = Failover(players, 2, 0)
	assert.False(t, outcome.Promoted)
	assert.Equal(t, int32(1), outcome.MasterID)
	assert.Empty(t, outcome.Changes)
}

func TestFailoverWithoutDeputy(t *testing.T) {
	players := table(role.Master, role.Viewer, role.Normal, role.Normal)

	outcome := Failover(players, 3, 0)
	assert.False(t, outcome.Promoted)
	assert.Equal(t, int32(2), outcome.MasterID)

	outcome = Failover(table(role.Master, role.Viewer), 1, 0)
	assert.Equal(t, world.NoPlayer, outcome.MasterID)
}

func TestApply(t *testing.T) {
	players := table(role.Master, role.Deputy, role.Normal)

	// Node 2 learns that node 1 took over and that it is the new deputy.
	players = Apply(players, 1, role.Master, 2, role.Deputy)
	assert.Equal(t, role.Viewer, roleOf(t, players, 0))
	assert.Equal(t, role.Master, roleOf(t, players, 1))
	assert.Equal(t, role.Deputy, roleOf(t, players, 2))
	assert.Equal(t, 1, masters(players))
	assert.Equal(t, 1, players.Count(role.Deputy))

	// Voluntary handoff from 1 to 2
	players = Apply(players, 1, role.Viewer, 2, role.Master)
	assert.Equal(t, role.Viewer, roleOf(t, players, 1))
	assert.Equal(t, role.Master, roleOf(t, players, 2))
	assert.Equal(t, 1, masters(players))
}

func TestAssume(t *testing.T) {
	players := table(role.Master, role.Normal, role.Normal)

	players, changes := Assume(players, 2)
	assert.Equal(t, role.Viewer, roleOf(t, players, 0))
	assert.Equal(t, role.Deputy, roleOf(t, players, 1))
	assert.Equal(t, role.Master, roleOf(t, players, 2))
	require.Len(t, changes, 2)
	assert.Equal(t, int32(0), changes[0].TargetID)
	assert.Equal(t, role.Deputy, changes[1].ReceiverRole)
}

func TestRemove(t *testing.T) {
	players := table(role.Master, role.Deputy, role.Normal)

	players, changes := Remove(players, 0, 1)
	assert.Len(t, players, 2)
	assert.Equal(t, role.Deputy, roleOf(t, players, 2))
	require.Len(t, changes, 1)

	players, changes = Remove(players, 0, 7)
	assert.Len(t, players, 2)
	assert.Empty(t, changes)
}
