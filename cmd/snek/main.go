package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cfoust/snek/pkg/config"
	"github.com/cfoust/snek/pkg/version"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var CLI struct {
	Version bool `help:"Print version information and exit." short:"v"`
	Debug   bool `help:"Whether to enable debug logging."`

	Serve struct {
		Configs []string `arg:"" optional:"" name:"configs" help:"Configuration files for the node." type:"file"`
		Create  bool     `help:"Create a game as soon as the node starts."`
		Join    string   `help:"Join the game hosted at this address once it has been announced."`
	} `cmd:"" help:"Run a snek node."`

	Games struct {
		Configs []string      `arg:"" optional:"" name:"configs" help:"Configuration files for the node." type:"file"`
		Wait    time.Duration `help:"How long to listen for announcements." default:"3s"`
		JSON    bool          `help:"Print games as JSON." name:"json"`
	} `cmd:"" help:"Listen for announced games and print them."`

	Config struct {
	} `cmd:"" help:"Write snek's default configuration to standard output."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

// configPaths falls back to SNEK_CONFIG when no files were given.
func configPaths(paths []string) []string {
	if len(paths) > 0 {
		return paths
	}
	if path := os.Getenv("SNEK_CONFIG"); path != "" {
		return []string{path}
	}
	return nil
}

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(consoleWriter)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	if len(os.Args) == 1 {
		err := serveCommand(configPaths(nil))
		if err != nil {
			writeError(err)
		}
		return
	}

	ctx := kong.Parse(&CLI,
		kong.Name("snek"),
		kong.Description("a peer-to-peer multiplayer snake node"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if CLI.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Warn().Msg("debug logging enabled")
	}

	if CLI.Version {
		fmt.Printf(
			"snek %s (commit %s)\n",
			version.Version,
			version.GitCommit,
		)
		fmt.Printf(
			"built %s\n",
			version.BuildTime,
		)
		os.Exit(0)
	}

	var err error
	switch ctx.Command() {
	case "serve", "serve <configs>":
		err = serveCommand(configPaths(CLI.Serve.Configs))
	case "games", "games <configs>":
		err = gamesCommand(configPaths(CLI.Games.Configs))
	case "config":
		os.Stdout.Write(config.DEFAULT)
	}

	if err != nil {
		writeError(err)
	}
}
