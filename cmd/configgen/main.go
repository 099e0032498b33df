package main

import (
	"errors"
	"log"
	"os"

	"github.com/danmuck/leapscan/internal/config"
	"github.com/spf13/pflag"
)

func defaultPath(kind string) string {
	switch kind {
	case "scand":
		return "cmd/scand/config.toml"
	case "scansim":
		return "cmd/scansim/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}

func main() {
	flags := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := flags.String("kind", "scand", "config kind: scand|scansim")
	output := flags.String("output", "", "output path for config template")
	validate := flags.Bool("validate", false, "validate an existing config file")
	input := flags.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flags.Bool("force", false, "overwrite existing config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := config.Validate(path, *kind); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
