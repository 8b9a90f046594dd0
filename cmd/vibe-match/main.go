// Command vibe-match compares Spotify users by their top tracks, artists and genres.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/justestif/go-spotify-vibe-match/internal/config"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
)

const usageText = `Usage: vibe-match [-config path] <command> [flags]

Commands:
  serve                 run the web server
  migrate [-down N]     apply database migrations (or roll back N steps)
  refresh [-force]      log in via the browser and refresh your snapshot
  compare [-force] A B  print the compatibility of two stored users
`

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("vibe-match", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usageText) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	cmd, cmdArgs := strings.ToLower(rest[0]), rest[1:]
	switch cmd {
	case "serve":
		return runServe(ctx, cfg)
	case "migrate":
		return runMigrate(cfg, cmdArgs)
	case "refresh":
		return runRefresh(ctx, cfg, cmdArgs)
	case "compare":
		return runCompare(ctx, cfg, cmdArgs)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
