package discovery

import (
	"context"
	"time"

	"github.com/cfoust/snek/pkg/protocol"
	"github.com/cfoust/snek/pkg/transport"

	"github.com/rs/zerolog/log"
)

// Handle feeds one datagram into the cache. Anything that is not a valid
// announcement is dropped.
func (c *Cache) Handle(addr string, data []byte, now time.Time) bool {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("dropping undecodable announcement")
		return false
	}

	if msg.Kind() != protocol.AnnouncementKind {
		return false
	}

	c.Observe(addr, *msg.Announcement, now)
	return true
}

// Listen consumes datagrams from the multicast socket until the channel
// closes or the context ends.
func (c *Cache) Listen(ctx context.Context, incoming <-chan transport.SocketMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			c.Handle(msg.Addr.String(), msg.Data, time.Now())
		}
	}
}

// Poll evicts stale games every interval until the context ends.
func (c *Cache) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if evicted := c.Sweep(now); evicted > 0 {
				log.Debug().Int("evicted", evicted).Msg("dropped stale games")
			}
		}
	}
}
