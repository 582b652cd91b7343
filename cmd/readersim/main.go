package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/rfidctl/internal/logging"
	"github.com/danmuck/rfidctl/internal/observability"
	"github.com/danmuck/rfidctl/internal/simulator"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "readersim: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("readersim", pflag.ContinueOnError)
	listen := flagSet.StringP("listen", "l", "127.0.0.1:2323", "command port listen address")
	multi := flagSet.Bool("multi", false, "keep earlier clients connected when a new one arrives")
	noKeepalive := flagSet.Bool("no-keepalive", false, "ignore empty keepalive probes")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logging.ConfigureRuntime()
	logger := observability.InitLogger("readersim")

	sim, err := simulator.Listen(*listen,
		simulator.WithSingleClient(!*multi),
		simulator.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer sim.Close()
	if *noKeepalive {
		sim.SetKeepalive(false)
	}
	logger.Info().Msgf("readersim listening addr=%s user=%s", sim.Addr(), simulator.Username)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
