package protocol

import (
	"strconv"

	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/protocol/role"
	"github.com/cfoust/snek/pkg/world"
)

type Kind int

const (
	InvalidKind Kind = iota - 1
	PingKind
	SteerKind
	AckKind
	StateKind
	AnnouncementKind
	JoinKind
	ErrorKind
	RoleChangeKind
)

func (k Kind) String() string {
	switch k {
	case PingKind:
		return "ping"
	case SteerKind:
		return "steer"
	case AckKind:
		return "ack"
	case StateKind:
		return "state"
	case AnnouncementKind:
		return "announcement"
	case JoinKind:
		return "join"
	case ErrorKind:
		return "error"
	case RoleChangeKind:
		return "role_change"
	default:
		return strconv.Itoa(int(k))
	}
}

type Ping struct{}

type Steer struct {
	Direction geom.Direction `cbor:"1,keyasint"`
}

type Ack struct{}

type State struct {
	State world.GameState `cbor:"1,keyasint"`
}

// Announcement advertises a game on the multicast group.
type Announcement struct {
	Config  world.GameConfig `cbor:"1,keyasint"`
	Players world.Players    `cbor:"2,keyasint"`
}

type Join struct {
	Name string `cbor:"1,keyasint"`
}

type Error struct {
	Message string `cbor:"1,keyasint"`
}

// RoleChange carries role.None for a side whose role stays the same.
type RoleChange struct {
	SenderRole   role.ID `cbor:"1,keyasint"`
	ReceiverRole role.ID `cbor:"2,keyasint"`
}

// Message is one datagram. Exactly one payload field is set.
type Message struct {
	Seq        uint64 `cbor:"1,keyasint"`
	SenderID   int32  `cbor:"2,keyasint"`
	ReceiverID int32  `cbor:"3,keyasint"`

	Ping         *Ping         `cbor:"10,keyasint,omitempty"`
	Steer        *Steer        `cbor:"11,keyasint,omitempty"`
	Ack          *Ack          `cbor:"12,keyasint,omitempty"`
	State        *State        `cbor:"13,keyasint,omitempty"`
	Announcement *Announcement `cbor:"14,keyasint,omitempty"`
	Join         *Join         `cbor:"15,keyasint,omitempty"`
	Error        *Error        `cbor:"16,keyasint,omitempty"`
	RoleChange   *RoleChange   `cbor:"17,keyasint,omitempty"`
}

// Kind reports which payload is set, or InvalidKind when there is not
// exactly one.
func (m Message) Kind() Kind {
	kind := InvalidKind
	set := 0
	mark := func(present bool, k Kind) {
		if present {
			kind = k
			set++
		}
	}

	mark(m.Ping != nil, PingKind)
	mark(m.Steer != nil, SteerKind)
	mark(m.Ack != nil, AckKind)
	mark(m.State != nil, StateKind)
	mark(m.Announcement != nil, AnnouncementKind)
	mark(m.Join != nil, JoinKind)
	mark(m.Error != nil, ErrorKind)
	mark(m.RoleChange != nil, RoleChangeKind)

	if set != 1 {
		return InvalidKind
	}
	return kind
}

// Tracked reports whether the sender expects an ACK for this message.
func (m Message) Tracked() bool {
	switch m.Kind() {
	case AckKind, ErrorKind, AnnouncementKind, InvalidKind:
		return false
	}
	return true
}
