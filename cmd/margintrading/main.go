// Command margintrading runs the trading engine snapshot service.
package main

import (
	"MarginTrading/internal/config"
	"MarginTrading/internal/observability"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "margintrading",
		Usage:   "Trading engine snapshot service",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"MARGIN_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			requestCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	return config.Load(c.String("config"))
}

func newLogger(cfg config.Config, component string) zerolog.Logger {
	level := observability.ParseLogLevel(cfg.Log.Level)
	if cfg.Log.Console {
		return observability.NewConsoleLogger(component, level)
	}
	return observability.NewLoggerWithLevel(component, level)
}
