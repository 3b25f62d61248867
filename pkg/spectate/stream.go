package spectate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cfoust/snek/pkg/world"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

func writeSnapshot(ctx context.Context, c *websocket.Conn, state world.GameState) error {
	data, err := cbor.Marshal(state)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageBinary, data)
}

// stream sends the current snapshot and then every new one until the
// client goes away.
func (s *Server) stream(ctx context.Context, c *websocket.Conn) error {
	subscriber := s.node.Subscribe()
	defer subscriber.Done()

	if state, ok := s.node.CurrentSnapshot(); ok {
		if err := writeSnapshot(ctx, c, state); err != nil {
			return err
		}
	}

	// Spectators only listen; reading handles control frames and notices
	// the close.
	ctx = c.CloseRead(ctx)

	for {
		select {
		case state := <-subscriber.Recv():
			if err := writeSnapshot(ctx, c, state); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("error accepting spectator")
		return
	}
	defer c.Close(websocket.StatusInternalError, "spectator stream failed")

	logger := log.With().Str("host", r.RemoteAddr).Logger()
	logger.Info().Msg("spectator connected")

	err = s.stream(r.Context(), c)
	if errors.Is(err, context.Canceled) {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return
	}
	if err != nil {
		logger.Debug().Err(err).Msg("spectator stream ended")
	}
}
