package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "storefront",
		Usage: "Storefront backend for the commerce catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override LOG_LEVEL (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Address to bind, overrides SERVER_ADDR",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runServe(ctx, cmd.String("log-level"), cmd.String("addr"))
				},
			},
			{
				Name:  "products",
				Usage: "Print the projected products of a market as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "market",
						Aliases: []string{"m"},
						Usage:   "Market id, defaults to the first configured market",
					},
					&cli.StringFlag{
						Name:    "tag",
						Aliases: []string{"t"},
						Usage:   "Only products carrying this tag name",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runProducts(ctx, os.Stdout, cmd.String("log-level"), cmd.String("market"), cmd.String("tag"))
				},
			},
			{
				Name:  "token",
				Usage: "Check that a market token can be issued",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "market",
						Aliases: []string{"m"},
						Usage:   "Market id, defaults to the first configured market",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runToken(ctx, os.Stdout, cmd.String("log-level"), cmd.String("market"))
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
