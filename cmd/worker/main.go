// Command worker runs a fleet worker node: the persistent pub/sub
// session, the bounded local pool, the config/rotation caches and the
// signed request protocol against the coordinator. It also offers small
// diagnostic subcommands for fetching a config or rotation straight from
// the coordinator for debugging.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/thrasher-corp/wowlab-fleet/internal/log"
	"github.com/thrasher-corp/wowlab-fleet/internal/worker"
)

func loadConfig(c *cli.Context) worker.Config {
	v := viper.New()
	v.SetEnvPrefix("WOWLAB_WORKER")
	v.AutomaticEnv()
	v.SetDefault("api_url", "http://127.0.0.1:8080")
	v.SetDefault("bus_url", "ws://127.0.0.1:8081/bus")
	v.SetDefault("enabled_cores", 1)
	v.SetDefault("storage_dir", "./wowlab-worker")
	v.SetDefault("log_level", "info")

	if cfgFile := c.String("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		_ = v.ReadInConfig()
	}

	return worker.Config{
		APIURL:       v.GetString("api_url"),
		BusURL:       v.GetString("bus_url"),
		EnabledCores: v.GetInt("enabled_cores"),
		StorageDir:   v.GetString("storage_dir"),
		LogLevel:     v.GetString("log_level"),
	}
}

func main() {
	app := &cli.App{
		Name:  "worker",
		Usage: "fleet worker node: claims and runs simulation chunks",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a worker config file"},
		},
		Commands: []*cli.Command{
			runCommand(),
			dumpConfigCommand(),
			dumpRotationCommand(),
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a top-level run error to the process exit code: 1 for
// a fatal configuration error (anything before Bootstrap succeeds), 2
// for an unrecoverable auth failure surfaced during Run.
func exitCodeFor(err error) int {
	if _, ok := err.(*worker.AuthFailure); ok {
		return 2
	}
	return 1
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "bootstrap (if needed) and run the worker node until stopped",
		Action: func(c *cli.Context) error {
			cfg := loadConfig(c)
			log.Init(cfg.LogLevel)

			if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := worker.Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}

			if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func dumpConfigCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump-config",
		Usage:     "fetch and print a SimConfig by content hash, for debugging",
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			hash := c.Args().First()
			if hash == "" {
				return cli.Exit("dump-config: missing <hash> argument", 1)
			}
			cfg := loadConfig(c)
			client := worker.NewCoordinatorClient(cfg.APIURL, "", nil)
			body, err := client.FetchConfig(context.Background(), hash)
			if err != nil {
				return err
			}
			var pretty map[string]any
			if err := json.Unmarshal(body, &pretty); err != nil {
				return err
			}
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func dumpRotationCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump-rotation",
		Usage:     "fetch and print a rotation script + checksum by id, for debugging",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("dump-rotation: missing <id> argument", 1)
			}
			cfg := loadConfig(c)
			client := worker.NewCoordinatorClient(cfg.APIURL, "", nil)
			script, checksum, err := client.FetchRotation(context.Background(), id)
			if err != nil {
				return err
			}
			fmt.Printf("checksum: %s\n\n%s\n", checksum, script)
			return nil
		},
	}
}
