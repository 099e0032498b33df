package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/leapscan/internal/config"
	"github.com/danmuck/leapscan/internal/daemon"
	"github.com/danmuck/leapscan/internal/logging"
	"github.com/danmuck/leapscan/internal/rrr"
	"github.com/danmuck/leapscan/internal/strtab"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scand: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		once       bool
		outPath    string
	)
	flags := pflag.NewFlagSet("scand", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "cmd/scand/config.toml", "daemon config file")
	flags.BoolVar(&once, "once", false, "run one scan and exit")
	flags.StringVarP(&outPath, "out", "o", "", "write the --once report here instead of stdout")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if outPath != "" && !once {
		return fmt.Errorf("--out requires --once")
	}

	logging.ConfigureRuntime()

	cfg, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		return err
	}
	table, err := strtab.Load(cfg.StringsPath)
	if err != nil {
		return err
	}
	log.Info().Str("path", cfg.StringsPath).Int("strings", table.Len()).Msg("scand string table loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := rrr.Dial(ctx, cfg.RRR)
	if err != nil {
		return err
	}
	defer conn.Close()

	d, err := daemon.New(cfg, conn, table)
	if err != nil {
		return err
	}

	if !once {
		return d.Run(ctx)
	}

	var out io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return d.Once(out)
}
