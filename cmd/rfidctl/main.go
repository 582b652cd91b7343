package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/rfidctl/internal/auth"
	"github.com/danmuck/rfidctl/internal/discovery"
	"github.com/danmuck/rfidctl/internal/logging"
	"github.com/danmuck/rfidctl/internal/observability"
	"github.com/danmuck/rfidctl/internal/server"
	"github.com/danmuck/rfidctl/internal/supervisor"
	"github.com/danmuck/rfidctl/internal/tagstore"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rfidctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseArgs(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logging.ConfigureRuntime()
	logger := observability.InitLogger("rfidctl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

// parseArgs loads --config and applies explicitly set flags on top of it.
func parseArgs(args []string) (appConfig, error) {
	flagSet := pflag.NewFlagSet("rfidctl", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to a TOML config file")
	address := flagSet.String("address", "", "reader command address host:port")
	admin := flagSet.String("admin", "", "admin HTTP listen address")
	dbPath := flagSet.String("db", "", "sighting database path (empty disables)")
	delivery := flagSet.String("delivery", "", "tag delivery: poll, stream or none")
	if err := flagSet.Parse(args); err != nil {
		return appConfig{}, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return appConfig{}, fmt.Errorf("unexpected argument: %s", extra[0])
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return appConfig{}, err
	}
	if flagSet.Changed("address") {
		cfg.Supervisor.Address = *address
	}
	if flagSet.Changed("admin") {
		cfg.AdminAddr = *admin
	}
	if flagSet.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if flagSet.Changed("delivery") {
		cfg.Supervisor.Delivery = supervisor.Delivery(*delivery)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg appConfig, logger zerolog.Logger) error {
	sup, err := supervisor.New(cfg.Supervisor, supervisor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sup.Close()

	var opts []server.Option
	opts = append(opts, server.WithLogger(logger))

	if cfg.DBPath != "" {
		store, err := tagstore.Open(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, server.WithTags(store))

		tags := sup.SubscribeTags()
		consumed := make(chan struct{})
		go func() {
			defer close(consumed)
			store.Consume(ctx, tags.C(), logging.Component("tagstore.Store"))
		}()
		// Closing the supervisor completes the tag feed, ending Consume before the store closes.
		defer func() {
			sup.Close()
			<-consumed
		}()
	}

	if cfg.DiscoveryAddr != "" {
		disc, err := discovery.Listen(cfg.DiscoveryAddr, discovery.WithLogger(logger))
		if err != nil {
			logger.Warn().Msgf("rfidctl discovery disabled addr=%s err=%v", cfg.DiscoveryAddr, err)
		} else {
			defer disc.Close()
			opts = append(opts, server.WithReaders(disc))
		}
	}

	statuses := sup.SubscribeStatus()
	go func() {
		for st := range statuses.C() {
			ev := logger.Info()
			if st.Err != nil {
				ev = logger.Warn().Err(st.Err)
			}
			ev.Msgf("rfidctl reader status=%s address=%s", st.Kind, st.Address)
		}
	}()

	if err := sup.Start(); err != nil {
		return err
	}

	var token auth.Validator
	if cfg.AdminToken != "" {
		token = auth.StaticToken{Token: cfg.AdminToken}
	}
	srv := server.New(server.Config{
		Name:        "rfidctl",
		Addr:        cfg.AdminAddr,
		CORSOrigins: cfg.CORSOrigins,
		Token:       token,
	}, sup, opts...)
	return srv.Serve(ctx)
}
