package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cfoust/snek/pkg/config"
	"github.com/cfoust/snek/pkg/node"
	"github.com/cfoust/snek/pkg/spectate"

	"github.com/rs/zerolog/log"
)

func serveCommand(configs []string) error {
	config, err := config.Process(configs)
	if err != nil {
		return fmt.Errorf("failed to load snek configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n, err := node.New(ctx, config.NodeOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind multicast socket")
	}
	defer n.Shutdown()

	log.Info().
		Str("name", config.Node.Name).
		Bool("multicast", config.Multicast.Enabled).
		Msg("node started")

	if config.Spectate.Enabled {
		server := spectate.NewServer(n, config.Game)
		go func() {
			err := server.ListenAndServe(ctx, config.Spectate.Address)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to start spectator")
			}
		}()
	}

	switch {
	case CLI.Serve.Create:
		if err := n.CreateGame(config.Game); err != nil {
			return fmt.Errorf("could not create game: %w", err)
		}
		log.Info().Int("port", n.Port()).Msg("hosting game")
	case CLI.Serve.Join != "":
		if err := joinWhenAnnounced(ctx, n, CLI.Serve.Join, config.Discovery.Announce); err != nil {
			return err
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

// joinWhenAnnounced waits until the game shows up in the cache, since a
// game has to be known before it can be joined.
func joinWhenAnnounced(ctx context.Context, n *node.Node, addr string, interval time.Duration) error {
	ticker := time.NewTicker(interval / 4)
	defer ticker.Stop()

	for {
		err := n.JoinGame(ctx, addr)
		if err == nil {
			log.Info().Str("addr", addr).Int32("id", n.PlayerID()).Msg("joined game")
			return nil
		}
		if !errors.Is(err, node.ErrUnknownGame) {
			return fmt.Errorf("could not join %s: %w", addr, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
