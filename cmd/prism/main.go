package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "prism",
		Usage: "KiCAD project import, visual diff and output workflows",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP API",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "addr",
						Usage: "listen address (overrides PRISM_ADDR)",
					},
				},
				Action: serveAction,
			},
			{
				Name:      "analyze",
				Usage:     "List the KiCAD projects in a local directory or git repository",
				ArgsUsage: "<dir|url>",
				Flags: []cli.Flag{
					envFlag(),
				},
				Action: analyzeAction,
			},
			{
				Name:      "bom-diff",
				Usage:     "Compare two BOM CSV exports",
				ArgsUsage: "<old.csv> <new.csv>",
				Action:    bomDiffAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "env file to load before reading the environment",
		Value: ".env",
	}
}
