package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"schwabstream/config"
	"schwabstream/internal/collector"
	"schwabstream/internal/stream"
	"schwabstream/logger"
)

var (
	configPath string
	log        *zap.Logger
	cfg        *config.Config
)

func main() {
	app := cli.NewApp()
	app.Name = "schwabstream"
	app.Usage = "authorize against Schwab and stream level one market data"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to config.yaml (defaults to ../config next to the binary)",
			Destination: &configPath,
		},
	}
	app.Before = setup
	app.After = func(*cli.Context) error {
		if log != nil {
			_ = log.Sync()
		}
		return nil
	}
	app.Commands = []*cli.Command{
		authorizeCommand,
		refreshCommand,
		tokenCommand,
		quotesCommand,
		streamCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(*cli.Context) error {
	var err error
	// viper config
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	// zap logger
	if log, err = logger.New(cfg.Log); err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

// withCollector builds a Collector for the duration of fn.
func withCollector(c *cli.Context, fn func(*collector.Collector) error) error {
	col, err := collector.New(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := col.Close(); err != nil {
			log.Warn("close collector", zap.Error(err))
		}
	}()
	return fn(col)
}

var authorizeCommand = &cli.Command{
	Name:  "authorize",
	Usage: "run the interactive authorization-code flow and store the tokens",
	Action: func(c *cli.Context) error {
		return withCollector(c, func(col *collector.Collector) error {
			tok, err := col.Authority().Authorize(c.Context, col.Credentials(), os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			fmt.Printf("authorized, access token valid until %s, refresh token until %s\n",
				tok.ExpiresAt.Format(time.RFC3339), tok.RefreshExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var refreshCommand = &cli.Command{
	Name:  "refresh",
	Usage: "exchange the refresh token for a new access token now",
	Action: func(c *cli.Context) error {
		return withCollector(c, func(col *collector.Collector) error {
			tok, err := col.Authority().Refresh(c.Context, col.Credentials())
			if err != nil {
				return err
			}
			fmt.Printf("refreshed, access token valid until %s\n", tok.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "show the stored token expiry times",
	Action: func(c *cli.Context) error {
		return withCollector(c, func(col *collector.Collector) error {
			tok := col.Authority().Store().Get()
			if tok.IsZero() {
				fmt.Println("no token stored, run authorize")
				return nil
			}
			now := time.Now()
			fmt.Printf("access token:  expires %s (valid: %t)\n", tok.ExpiresAt.Format(time.RFC3339), tok.ValidFor(now, 0))
			fmt.Printf("refresh token: expires %s (expired: %t)\n", tok.RefreshExpiresAt.Format(time.RFC3339), tok.RefreshExpired(now))
			return nil
		})
	},
}

var quotesCommand = &cli.Command{
	Name:      "quotes",
	Usage:     "fetch quotes over REST",
	ArgsUsage: "<symbol> [symbol...]",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "fields",
			Usage: "quote, fundamental, extended, reference, regular",
		},
		&cli.BoolFlag{
			Name:  "indicative",
			Usage: "include indicative quotes for ETF symbols",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.ShowCommandHelp(c, "quotes")
		}
		return withCollector(c, func(col *collector.Collector) error {
			quotes, err := col.REST().GetQuotes(c.Context, c.Args().Slice(), c.StringSlice("fields"), c.Bool("indicative"))
			if err != nil {
				return err
			}
			return jsonOutput(quotes)
		})
	},
}

var streamCommand = &cli.Command{
	Name:  "stream",
	Usage: "stream the configured subscriptions as JSON lines until interrupted",
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withCollector(c, func(col *collector.Collector) error {
			enc := json.NewEncoder(os.Stdout)
			return col.Stream(ctx, func(msg stream.StreamerMessage) {
				if err := enc.Encode(struct {
					Service string                 `json:"service"`
					Message stream.StreamerMessage `json:"message"`
				}{string(msg.Service()), msg}); err != nil {
					log.Warn("failed to encode message", zap.Error(err))
				}
			})
		})
	},
}

func jsonOutput(in any) error {
	j, err := json.MarshalIndent(in, "", " ")
	if err != nil {
		return err
	}
	fmt.Println(string(j))
	return nil
}

