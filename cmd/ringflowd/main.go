// Command ringflowd runs the ringflow queue behind the configured front-ends.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	configpkg "github.com/drblury/ringflow/internal/runtime/config"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
	"github.com/drblury/ringflow/transport"
)

const serviceName = "ringflowd"

var version = "0.0.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    serviceName,
		Usage:   "Ring-buffer event queue with network front-ends",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				EnvVars: []string{configpkg.EnvPrefix + "_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{configpkg.EnvPrefix + "_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			configCmd(),
			frontendsCmd(),
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the queue and its front-ends until interrupted",
		Action: func(c *cli.Context) error {
			conf, err := configpkg.LoadAndValidate(c.String("config"))
			if err != nil {
				return err
			}
			logger := loggingpkg.NewSlogServiceLogger(loggingpkg.NewJSONLogger(os.Stdout, c.String("log-level")))

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := newDaemon(ctx, conf, logger)
			if err != nil {
				return err
			}
			logger.Info("Starting "+serviceName, loggingpkg.LogFields{
				"version":   version,
				"frontends": conf.Frontends,
			})
			return d.run(ctx)
		},
	}
}

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration with secrets redacted",
		Action: func(c *cli.Context) error {
			conf, err := configpkg.Load(c.String("config"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, conf.String())
			return conf.Validate()
		},
	}
}

func frontendsCmd() *cli.Command {
	return &cli.Command{
		Name:  "frontends",
		Usage: "List the available front-ends",
		Action: func(c *cli.Context) error {
			for _, name := range transport.DefaultRegistry.Names() {
				caps := transport.GetCapabilities(name)
				fmt.Fprintf(c.App.Writer, "%-10s reply=%t drops-when-busy=%t\n", name, caps.SupportsReply, caps.DropsWhenBusy())
			}
			return nil
		},
	}
}
