// Package topology is the role state machine of a game: who is MASTER, who
// is DEPUTY and how those roles move between players. Every function is pure:
// it returns a new player table and the role changes that have to be sent to
// peers, and leaves networking to the caller.
package topology

import (
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/world"

	opt "github.com/repeale/fp-go/option"
)

// Change is a ROLE_CHANGE message to send. SenderRole or ReceiverRole is
// role.None when that side does not change.
type Change struct {
	SenderID     int32
	SenderRole   role.ID
	TargetID     int32
	ReceiverRole role.ID
}

func Master(players world.Players) opt.Option[world.Player] {
	return players.FindRole(role.Master)
}

func Deputy(players world.Players) opt.Option[world.Player] {
	return players.FindRole(role.Deputy)
}

func MasterID(players world.Players) int32 {
	master := Master(players)
	if opt.IsNone(master) {
		return world.NoPlayer
	}
	return master.Value.ID
}

func setRole(players world.Players, id int32, r role.ID) world.Players {
	return players.Update(id, func(p world.Player) world.Player {
		return p.WithRole(r)
	})
}

// exclusive gives r to id and takes it away from everybody else holding it.
func exclusive(players world.Players, id int32, r role.ID, demoted role.ID) world.Players {
	out := make(world.Players, len(players))
	for i, p := range players {
		switch {
		case p.ID == id:
			p = p.WithRole(r)
		case p.Role == r:
			p = p.WithRole(demoted)
		}
		out[i] = p
	}
	return out
}

// EnsureDeputy promotes the NORMAL player with the lowest ID when the game
// has no DEPUTY.
func EnsureDeputy(players world.Players, masterID int32) (world.Players, []Change) {
	if opt.IsSome(Deputy(players)) {
		return players, nil
	}

	for _, p := range players {
		if p.Role != role.Normal || p.ID == masterID {
			continue
		}

		players = setRole(players, p.ID, role.Deputy)
		return players, []Change{{
			SenderID:     masterID,
			SenderRole:   role.None,
			TargetID:     p.ID,
			ReceiverRole: role.Deputy,
		}}
	}

	return players, nil
}

// Join registers p as a NORMAL player, promoting it right away when the
// game lacks a DEPUTY.
func Join(players world.Players, p world.Player) (world.Players, []Change) {
	masterID := MasterID(players)
	players = players.Put(p.WithRole(role.Normal))
	return EnsureDeputy(players, masterID)
}

// Demote moves a player whose snake died to VIEWER. The MASTER cannot simply
// step down and hands its role off instead.
func Demote(players world.Players, masterID, id int32) (world.Players, []Change) {
	if id == masterID {
		return Handoff(players, masterID)
	}

	player := players.Find(id)
	if opt.IsNone(player) || player.Value.Role == role.Viewer {
		return players, nil
	}

	players = setRole(players, id, role.Viewer)
	changes := []Change{{
		SenderID:     masterID,
		SenderRole:   role.None,
		TargetID:     id,
		ReceiverRole: role.Viewer,
	}}

	players, more := EnsureDeputy(players, masterID)
	return players, append(changes, more...)
}

// Handoff transfers MASTER to the DEPUTY (or the first NORMAL player if
// there is none) and makes the old master a VIEWER. With nobody to hand to,
// the master keeps its role.
func Handoff(players world.Players, masterID int32) (world.Players, []Change) {
	successor := Deputy(players)
	if opt.IsNone(successor) {
		for _, p := range players {
			if p.Role == role.Normal && p.ID != masterID {
				successor = opt.Some(p)
				break
			}
		}
	}
	if opt.IsNone(successor) {
		return players, nil
	}

	id := successor.Value.ID
	players = setRole(players, masterID, role.Viewer)
	players = exclusive(players, id, role.Master, role.Viewer)
	return players, []Change{{
		SenderID:     masterID,
		SenderRole:   role.Viewer,
		TargetID:     id,
		ReceiverRole: role.Master,
	}}
}

// Outcome is the result of a failover as seen by one node.
type Outcome struct {
	Players world.Players
	// MasterID is the new master, or world.NoPlayer if nobody could take over.
	MasterID int32
	// Promoted is set when the local node is the new master. Changes is only
	// filled in that case.
	Promoted bool
	Changes  []Change
}

// Failover drops a silent master. The DEPUTY takes over; without one the
// NORMAL player with the lowest ID does, so every node reaches the same
// answer from the same table.
func Failover(players world.Players, selfID, masterID int32) Outcome {
	players = players.Remove(masterID)

	successor := Deputy(players)
	if opt.IsNone(successor) {
		for _, p := range players {
			if p.Role == role.Normal {
				successor = opt.Some(p)
				break
			}
		}
	}
	if opt.IsNone(successor) {
		return Outcome{Players: players, MasterID: world.NoPlayer}
	}

	id := successor.Value.ID
	if id != selfID {
		return Outcome{
			Players:  exclusive(players, id, role.Master, role.Viewer),
			MasterID: id,
		}
	}

	players, changes := Assume(players, selfID)
	return Outcome{
		Players:  players,
		MasterID: selfID,
		Promoted: true,
		Changes:  changes,
	}
}

// Assume makes selfID the MASTER and builds the notices that tell every
// other player about it. A DEPUTY is assigned if missing, folded into the
// notice for that player.
func Assume(players world.Players, selfID int32) (world.Players, []Change) {
	players = exclusive(players, selfID, role.Master, role.Viewer)

	deputyID := world.NoPlayer
	players, promoted := EnsureDeputy(players, selfID)
	if len(promoted) > 0 {
		deputyID = promoted[0].TargetID
	}

	var changes []Change
	for _, p := range players {
		if p.ID == selfID {
			continue
		}

		receiver := role.None
		if p.ID == deputyID {
			receiver = role.Deputy
		}
		changes = append(changes, Change{
			SenderID:     selfID,
			SenderRole:   role.Master,
			TargetID:     p.ID,
			ReceiverRole: receiver,
		})
	}

	return players, changes
}

// Apply folds an inbound role change into the local table. At most one
// player ends up as MASTER and at most one as DEPUTY.
func Apply(players world.Players, senderID int32, senderRole role.ID, selfID int32, receiverRole role.ID) world.Players {
	assign := func(players world.Players, id int32, r role.ID) world.Players {
		switch r {
		case role.None:
			return players
		case role.Master:
			return exclusive(players, id, role.Master, role.Viewer)
		case role.Deputy:
			return exclusive(players, id, role.Deputy, role.Normal)
		default:
			return setRole(players, id, r)
		}
	}

	players = assign(players, senderID, senderRole)
	return assign(players, selfID, receiverRole)
}

// Remove drops a player and replaces it if it was the DEPUTY.
func Remove(players world.Players, masterID, id int32) (world.Players, []Change) {
	player := players.Find(id)
	if opt.IsNone(player) {
		return players, nil
	}

	players = players.Remove(id)
	if player.Value.Role != role.Deputy {
		return players, nil
	}
	return EnsureDeputy(players, masterID)
}
