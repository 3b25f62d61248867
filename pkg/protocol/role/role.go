package role

import (
	"strconv"
	"strings"
)

type ID int32

// None marks a role that is not set, for example in a role change that only
// concerns the other side.
const None ID = -1

const (
	Normal ID = iota
	Master
	Deputy
	Viewer
)

func Parse(s string) ID {
	switch strings.ToLower(s) {
	case "normal":
		return Normal
	case "master":
		return Master
	case "deputy":
		return Deputy
	case "viewer":
		return Viewer
	default:
		return None
	}
}

func (r ID) String() string {
	switch r {
	case Normal:
		return "normal"
	case Master:
		return "master"
	case Deputy:
		return "deputy"
	case Viewer:
		return "viewer"
	case None:
		return "none"
	default:
		return strconv.Itoa(int(r))
	}
}

// Plays reports whether a player with this role controls a snake.
func (r ID) Plays() bool {
	return r != Viewer
}
