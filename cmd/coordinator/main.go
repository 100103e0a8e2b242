// Command coordinator runs the central chunk-lifecycle service: the
// worker-facing HTTP API, the reclamation cron and (via the submit-job
// subcommand) the job-splitting entry point a web UI would otherwise
// drive.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator"
	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/api"
	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/store"
	"github.com/thrasher-corp/wowlab-fleet/internal/log"
	"github.com/thrasher-corp/wowlab-fleet/internal/pubsub"
)

type config struct {
	HTTPAddr         string
	BusAddr          string
	DBDriver         string
	DBConnection     string
	MigrationsDir    string
	LogLevel         string
}

func loadConfig(c *cli.Context) config {
	v := viper.New()
	v.SetEnvPrefix("WOWLAB_COORDINATOR")
	v.AutomaticEnv()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("bus_addr", ":8081")
	v.SetDefault("db_driver", "sqlite3")
	v.SetDefault("db_connection", "coordinator.db")
	v.SetDefault("migrations_dir", "internal/coordinator/store/migrations")
	v.SetDefault("log_level", "info")

	if cfgFile := c.String("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		_ = v.ReadInConfig() // absence of an explicit --config file is not fatal
	}

	return config{
		HTTPAddr:      v.GetString("http_addr"),
		BusAddr:       v.GetString("bus_addr"),
		DBDriver:      v.GetString("db_driver"),
		DBConnection:  v.GetString("db_connection"),
		MigrationsDir: v.GetString("migrations_dir"),
		LogLevel:      v.GetString("log_level"),
	}
}

func main() {
	app := &cli.App{
		Name:  "coordinator",
		Usage: "central chunk-lifecycle service for the sim fleet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a coordinator config file"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			submitJobCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "coordinator:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config) (*store.Store, error) {
	return store.Connect(ctx, store.Config{
		Driver:           store.Driver(cfg.DBDriver),
		ConnectionString: cfg.DBConnection,
		MigrationsDir:    cfg.MigrationsDir,
	})
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API, pub/sub hub and reclamation cron",
		Action: func(c *cli.Context) error {
			cfg := loadConfig(c)
			log.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			jobs := store.NewJobRepository(db)
			chunks := store.NewChunkRepository(db)
			nodes := store.NewNodeRepository(db)
			configs := store.NewConfigRepository(db)
			rotations := store.NewRotationRepository(db)
			nonces := store.NewNonceStore(db)
			assignment := coordinator.NewAssignmentRegistry()

			hub := pubsub.NewHub()

			srv := api.NewServer(jobs, chunks, nodes, configs, rotations, nonces, assignment)
			router := srv.Router()

			httpSrv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			busMux := http.NewServeMux()
			busMux.Handle("/bus", hub)
			busSrv := &http.Server{Addr: cfg.BusAddr, Handler: busMux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := busSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Coordinator.Error("bus listener exited", "error", err)
				}
			}()

			reclaimer := coordinator.NewReclaimer(chunks, nodes)
			go reclaimer.Run(ctx)

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
				_ = busSrv.Shutdown(shutdownCtx)
			}()

			log.Coordinator.Info("serving", "http_addr", cfg.HTTPAddr, "bus_addr", cfg.BusAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

// submitJobCommand stands in for the web UI's "submit job" action: it
// creates a job row and splits it into pending chunks through
// coordinator.JobService.Submit, but with no bus attached, so no
// chunks-available push is broadcast.
func submitJobCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit-job",
		Usage: "split a job into pending chunks (stand-in for the web UI's submit action)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-hash", Required: true},
			&cli.StringFlag{Name: "rotation-id", Required: true},
			&cli.StringFlag{Name: "rotation-checksum", Required: true},
			&cli.Int64Flag{Name: "iterations", Required: true},
			&cli.Int64Flag{Name: "chunk-size", Required: true},
			&cli.Uint64Flag{Name: "base-seed"},
			&cli.StringFlag{Name: "owning-user", Required: true},
			&cli.StringFlag{Name: "authorized-users", Usage: "comma-separated user list for the eligibility filter"},
		},
		Action: func(c *cli.Context) error {
			cfg := loadConfig(c)
			log.Init(cfg.LogLevel)

			ctx := context.Background()
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			var authorized []string
			if raw := c.String("authorized-users"); raw != "" {
				authorized = strings.Split(raw, ",")
			}

			svc := coordinator.NewJobService(
				store.NewJobRepository(db),
				store.NewChunkRepository(db),
				coordinator.NewAssignmentRegistry(),
				nil, // no live bus connection from the one-shot CLI: the chunks
				// are stored pending, and nothing advertises them to workers,
				// which only claim from jobs they have seen pushed on the bus.
			)

			id, err := svc.Submit(ctx, coordinator.SubmitJobParams{
				ConfigHash:       c.String("config-hash"),
				RotationID:       c.String("rotation-id"),
				RotationChecksum: c.String("rotation-checksum"),
				Iterations:       c.Int64("iterations"),
				ChunkSize:        c.Int64("chunk-size"),
				BaseSeed:         c.Uint64("base-seed"),
				OwningUser:       c.String("owning-user"),
				AuthorizedUsers:  authorized,
			})
			if err != nil {
				return err
			}
			fmt.Println(id.String())
			return nil
		},
	}
}
