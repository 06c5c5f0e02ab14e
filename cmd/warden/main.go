package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "moderation support daemon (alt detection, restrictions, watchlists)",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for the shared moderation cache; empty means in-process cache",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the admin HTTP API",
			Value:   ":3999",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "lists-file",
			Usage:   "JSON file with whitelist and watchlist entries",
			EnvVars: []string{"WARDEN_LISTS_FILE"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "Slack webhook URL for moderation event notifications",
			EnvVars: []string{"WARDEN_SLACK_WEBHOOK_URL"},
		},
		&cli.BoolFlag{
			Name:    "auto-restrict",
			Usage:   "restrict accounts connecting from the address of an address-linked restriction",
			Value:   true,
			EnvVars: []string{"WARDEN_AUTO_RESTRICT"},
		},
		&cli.BoolFlag{
			Name:    "notify-admins-on-alt",
			Value:   true,
			EnvVars: []string{"WARDEN_NOTIFY_ADMINS_ON_ALT"},
		},
		&cli.IntFlag{
			Name:    "alt-depth",
			Usage:   "default depth for connectivity searches",
			Value:   3,
			EnvVars: []string{"WARDEN_ALT_DEPTH"},
		},
		&cli.IntFlag{
			Name:    "page-size",
			Usage:   "page size for address history listings",
			Value:   10,
			EnvVars: []string{"WARDEN_PAGE_SIZE"},
		},
		&cli.BoolFlag{
			Name:    "default-chat-visible",
			Value:   true,
			EnvVars: []string{"WARDEN_DEFAULT_CHAT_VISIBLE"},
		},
		&cli.BoolFlag{
			Name:    "default-observing",
			Value:   false,
			EnvVars: []string{"WARDEN_DEFAULT_OBSERVING"},
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "how often to sweep for expired restrictions",
			Value:   time.Second,
			EnvVars: []string{"WARDEN_SWEEP_INTERVAL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := NewServer(Config{
			DatabaseURL:       cctx.String("database-url"),
			MaxDBConnections:  cctx.Int("max-db-connections"),
			RedisURL:          cctx.String("redis-url"),
			ListsFileJSON:     cctx.String("lists-file"),
			SlackWebhookURL:   cctx.String("slack-webhook-url"),
			AutoRestrict:      cctx.Bool("auto-restrict"),
			NotifyAdminsOnAlt: cctx.Bool("notify-admins-on-alt"),
			AltDepth:          cctx.Int("alt-depth"),
			PageSize:          cctx.Int("page-size"),
			DefaultVisible:    cctx.Bool("default-chat-visible"),
			DefaultObserving:  cctx.Bool("default-observing"),
			Logger:            logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		go srv.engine.RunSweeper(ctx, cctx.Duration("sweep-interval"))

		if err := srv.RunAPI(ctx, cctx.String("bind")); err != nil {
			return fmt.Errorf("failed to run admin API: %w", err)
		}
		return nil
	},
}
