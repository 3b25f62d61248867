package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cfoust/snek/pkg/config"
	"github.com/cfoust/snek/pkg/node"
)

func gamesCommand(configs []string) error {
	config, err := config.Process(configs)
	if err != nil {
		return fmt.Errorf("failed to load snek configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only listen; the TTL has to outlast the wait for anything to be left.
	options := config.NodeOptions()
	if options.DiscoveryTTL < CLI.Games.Wait {
		options.DiscoveryTTL = CLI.Games.Wait
	}

	n, err := node.New(ctx, options)
	if err != nil {
		return fmt.Errorf("failed to listen for games: %w", err)
	}
	defer n.Shutdown()

	time.Sleep(CLI.Games.Wait)
	games := n.ListKnownGames()

	if CLI.Games.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(games)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tMASTER\tPLAYERS\tSIZE\tFOOD")
	for _, game := range games {
		fmt.Fprintf(w, "%s\t%s\t%d\t%dx%d\t%d+%gx\n",
			game.Addr,
			game.MasterName,
			game.PlayerCount,
			game.Width,
			game.Height,
			game.FoodStatic,
			game.FoodPerPlayer,
		)
	}
	return w.Flush()
}
