package discovery

import (
	"github.com/cfoust/snek/pkg/protocol/role"

	"github.com/repeale/fp-go"
	opt "github.com/repeale/fp-go/option"
)

// GameInfo is what a lobby shows about a known game.
type GameInfo struct {
	Addr          string  `json:"addr"`
	MasterName    string  `json:"masterName"`
	PlayerCount   int     `json:"playerCount"`
	Width         int32   `json:"width"`
	Height        int32   `json:"height"`
	FoodStatic    int32   `json:"foodStatic"`
	FoodPerPlayer float32 `json:"foodPerPlayer"`
}

func Info(game KnownGame) GameInfo {
	announcement := game.Announcement
	config := announcement.Config

	name := ""
	if master := announcement.Players.FindRole(role.Master); opt.IsSome(master) {
		name = master.Value.Name
	}

	return GameInfo{
		Addr:          game.Addr,
		MasterName:    name,
		PlayerCount:   len(announcement.Players),
		Width:         config.Width,
		Height:        config.Height,
		FoodStatic:    config.FoodStatic,
		FoodPerPlayer: config.FoodPerPlayer,
	}
}

// Games lists the known games for display, ordered by address.
func (c *Cache) Games() []GameInfo {
	return fp.Map(Info)(c.List())
}
