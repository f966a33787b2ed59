// Command mpbridge replicates Launchpad merge proposals into pull requests
// on a mirrored forge repository.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "mpbridge",
		Usage:   "replicate Launchpad merge proposals into pull requests",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (.toml, .yaml)",
				EnvVars: []string{"MPBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override log.format (json, console)",
			},
		},
		Commands: []*cli.Command{
			workerCommand(),
			submitCommand(),
			statusCommand(),
			migrateCommand(),
			syncCommand(),
			replicateCommand(),
			initConfigCommand(),
		},
	}
}
