package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hypercore-one/bridge-health/internal/config"
	"github.com/hypercore-one/bridge-health/internal/coordinator"
	"github.com/hypercore-one/bridge-health/internal/logging"
	"github.com/rs/zerolog"
	"github.com/urfave/cli"
)

var (
	envFile = cli.StringFlag{
		Name:  "env-file",
		Usage: "Path to a dotenv file read before the environment",
		Value: ".env",
	}
	keyCount = cli.IntFlag{
		Name:  "count",
		Usage: "Number of API keys to generate",
		Value: 1,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "bridge-health"
	app.Version = "v1.0.0"
	app.Usage = "Polls the bridge orchestrator fleet and serves its health"
	app.Flags = []cli.Flag{envFile}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the refresh scheduler and the HTTP API until interrupted",
			Action: serve,
		},
		{
			Name:   "poll",
			Usage:  "Poll every node once and print the snapshot as JSON",
			Action: pollOnce,
		},
		{
			Name:   "genkey",
			Usage:  "Generate random API keys for BH_API_KEYS",
			Flags:  []cli.Flag{keyCount},
			Action: genKeys,
		},
	}
	app.Action = serve

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func setup(c *cli.Context) (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFile(c.GlobalString(envFile.Name))
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.NewWithOptions(cfg.LogLevel, cfg.LogFormat), nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	logger.Info().Str("version", c.App.Version).Msg("bridge-health starting")

	coord, err := coordinator.New(logger, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return coord.Run(ctx)
}

func pollOnce(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(logger, cfg)
	if err != nil {
		return err
	}
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := coord.PollOnce(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snap)
}

func genKeys(c *cli.Context) error {
	keys, err := generateKeys(c.Int(keyCount.Name))
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
