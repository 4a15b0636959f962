// Command netbootd is an all-in-one PXE network-boot appliance: DHCP/
// ProxyDHCP, TFTP, HTTP, and NBD served out of one process against a
// shared, chrooted boot directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/tinkerbell/netbootd/config"
)

func main() {
	exitCode := 0
	defer func() {
		os.Exit(exitCode)
	}()

	ctx, done := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer done()

	if err := execute(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "{\"err\":\"%v\"}\n", err)
		exitCode = 1
	}
}

func execute(ctx context.Context, args []string) error {
	cfg := &config.Config{}
	fs := flag.NewFlagSet("netbootd", flag.ExitOnError)
	cfg.RegisterFlags(fs)

	var configPath string
	var dumpConfig, dumpConfigMerged bool
	fs.StringVar(&configPath, "config", "", "path to a YAML config file, merged underneath CLI flags")
	fs.BoolVar(&dumpConfig, "dump-config", false, "print the config as set by flags alone (no config file, no defaults) and exit")
	fs.BoolVar(&dumpConfigMerged, "dump-config-merged", false, "print the fully-merged config (flags + file + defaults) and exit")

	cmd := &ffcli.Command{
		Name:       "netbootd",
		ShortUsage: "netbootd [flags]",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix("NETBOOTD")},
		Exec: func(ctx context.Context, _ []string) error {
			if dumpConfig {
				out, err := cfg.Dump()
				if err != nil {
					return err
				}
				fmt.Println(out)

				return nil
			}

			if err := cfg.Merge(configPath); err != nil {
				return err
			}

			if dumpConfigMerged {
				out, err := cfg.Dump()
				if err != nil {
					return err
				}
				fmt.Println(out)

				return nil
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log := newLogger(cfg.LogLevel, cfg.Debug, cfg.Syslog)

			return run(ctx, cfg, log)
		},
	}
	if err := cmd.Parse(args); err != nil {
		return err
	}

	return cmd.Run(ctx)
}
