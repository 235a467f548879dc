package main

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/tomek7667/gpusense/internal/gpuload"
	"github.com/tomek7667/gpusense/internal/http"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:        "gpusenseserver",
		Description: "http server resolving gpu and cpu utilization from shared memory, engine counters and hardware sensors",
		Usage:       "serve or manage the gpusenseserver binary (use subcommands)",
		Version:     appVersion(),
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				EnvVars: []string{"PORT"},
				Value:   8085,
			},
		},
		Commands: []*cli.Command{
			cmdUpdate(),
			cmdCompleteUpdate(),
		},
		CommandNotFound: func(c *cli.Context, command string) {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
			cli.ShowAppHelpAndExit(c, 1)
		},
		Action: func(c *cli.Context) error {
			svc := gpuload.NewService()
			server := http.New(c.Int("port"), svc)
			server.AddIndexRoute()
			server.AddLoadRoutes()
			return server.Serve()
		},
		BashComplete: cli.ShowCompletions,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func appVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return "unknown"
	}

	version := bi.Main.Version
	var rev string
	var modified bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}

	if version != "" && version != "(devel)" {
		return version
	}
	if rev != "" {
		if modified {
			return rev + " (modified)"
		}
		return rev
	}
	if version != "" {
		return version
	}
	return "unknown"
}
