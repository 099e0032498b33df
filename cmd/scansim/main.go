package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/leapscan/internal/config"
	"github.com/danmuck/leapscan/internal/hwsim"
	"github.com/danmuck/leapscan/internal/logging"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scansim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		addr       string
	)
	flags := pflag.NewFlagSet("scansim", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "cmd/scansim/config.toml", "simulator config file")
	flags.StringVar(&addr, "addr", "", "listen address (overrides config)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logging.ConfigureRuntime()

	cfg, err := config.LoadSimConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	simCfg, err := cfg.HWSim()
	if err != nil {
		return err
	}
	sim, err := hwsim.New(simCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return sim.Serve(ctx, ln)
}
