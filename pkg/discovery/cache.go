// Package discovery keeps track of the games announced on the network.
package discovery

import (
	"sort"
	"time"

	"github.com/cfoust/snek/pkg/protocol"

	opt "github.com/repeale/fp-go/option"
	"github.com/sasha-s/go-deadlock"
)

const (
	// DefaultTTL is how long a game stays listed after its last
	// announcement, regardless of the game's own timeouts.
	DefaultTTL = 1200 * time.Millisecond
	// DefaultSweepInterval is how often stale games are evicted.
	DefaultSweepInterval = 900 * time.Millisecond
)

type KnownGame struct {
	// Addr is where the master's announcement came from and where JOINs go.
	Addr         string
	Announcement protocol.Announcement
	LastSeen     time.Time
}

type Cache struct {
	ttl   time.Duration
	mutex deadlock.Mutex
	games map[string]KnownGame
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:   ttl,
		games: make(map[string]KnownGame),
	}
}

// Observe records an announcement. An older sighting never replaces a newer
// one.
func (c *Cache) Observe(addr string, announcement protocol.Announcement, now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, ok := c.games[addr]; ok && existing.LastSeen.After(now) {
		return
	}

	c.games[addr] = KnownGame{
		Addr:         addr,
		Announcement: announcement,
		LastSeen:     now,
	}
}

// Sweep evicts every game unseen for longer than the TTL and returns how
// many were dropped.
func (c *Cache) Sweep(now time.Time) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	evicted := 0
	for addr, game := range c.games {
		if now.Sub(game.LastSeen) > c.ttl {
			delete(c.games, addr)
			evicted++
		}
	}
	return evicted
}

// List returns the known games ordered by address.
func (c *Cache) List() []KnownGame {
	c.mutex.Lock()
	games := make([]KnownGame, 0, len(c.games))
	for _, game := range c.games {
		games = append(games, game)
	}
	c.mutex.Unlock()

	sort.Slice(games, func(i, j int) bool { return games[i].Addr < games[j].Addr })
	return games
}

func (c *Cache) Lookup(addr string) opt.Option[KnownGame] {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	game, ok := c.games[addr]
	if !ok {
		return opt.None[KnownGame]()
	}
	return opt.Some(game)
}

func (c *Cache) Clear() {
	c.mutex.Lock()
	c.games = make(map[string]KnownGame)
	c.mutex.Unlock()
}
