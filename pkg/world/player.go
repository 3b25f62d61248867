package world

import (
	"fmt"
	"sort"

	"github.com/cfoust/snek/pkg/protocol/role"

	opt "github.com/repeale/fp-go/option"
)

// NoPlayer owns zombie snakes and marks an unknown peer.
const NoPlayer int32 = -1

type Player struct {
	ID    int32   `cbor:"1,keyasint" json:"id"`
	Name  string  `cbor:"2,keyasint" json:"name"`
	Addr  string  `cbor:"3,keyasint" json:"addr"`
	Role  role.ID `cbor:"4,keyasint" json:"role"`
	Score int32   `cbor:"5,keyasint" json:"score"`
}

func (p Player) String() string {
	return fmt.Sprintf("%s (%d, %s)", p.Name, p.ID, p.Role)
}

func (p Player) WithRole(r role.ID) Player {
	p.Role = r
	return p
}

func (p Player) WithAddr(addr string) Player {
	p.Addr = addr
	return p
}

func (p Player) WithScore(score int32) Player {
	p.Score = score
	return p
}

// Players is a player table ordered by ID. Every method returns a new table
// and leaves the receiver untouched.
type Players []Player

func (ps Players) Find(id int32) opt.Option[Player] {
	for _, p := range ps {
		if p.ID == id {
			return opt.Some(p)
		}
	}
	return opt.None[Player]()
}

func (ps Players) FindByAddr(addr string) opt.Option[Player] {
	if addr == "" {
		return opt.None[Player]()
	}
	for _, p := range ps {
		if p.Addr == addr {
			return opt.Some(p)
		}
	}
	return opt.None[Player]()
}

func (ps Players) FindRole(r role.ID) opt.Option[Player] {
	for _, p := range ps {
		if p.Role == r {
			return opt.Some(p)
		}
	}
	return opt.None[Player]()
}

func (ps Players) Count(r role.ID) int {
	count := 0
	for _, p := range ps {
		if p.Role == r {
			count++
		}
	}
	return count
}

// Put inserts p or replaces the player with the same ID.
func (ps Players) Put(p Player) Players {
	out := make(Players, 0, len(ps)+1)
	replaced := false
	for _, existing := range ps {
		if existing.ID == p.ID {
			out = append(out, p)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, p)
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out
}

func (ps Players) Remove(id int32) Players {
	out := make(Players, 0, len(ps))
	for _, p := range ps {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// Update applies fn to the player with the given ID, if present.
func (ps Players) Update(id int32, fn func(Player) Player) Players {
	out := make(Players, len(ps))
	for i, p := range ps {
		if p.ID == id {
			p = fn(p)
		}
		out[i] = p
	}
	return out
}

func (ps Players) NextID() int32 {
	next := int32(0)
	for _, p := range ps {
		if p.ID >= next {
			next = p.ID + 1
		}
	}
	return next
}
