package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

const defaultConfigPath = "./config.yaml"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bell:", err)
		os.Exit(1)
	}
}

func newApp(w io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "bell"
	app.Usage = "school bell scheduler"
	app.UsageText = "bell [--config FILE] <command> [arguments...]"
	app.Version = version
	app.Writer = w
	app.ErrWriter = w
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  defaultConfigPath,
			Usage:  "path to the YAML or JSON config file",
			EnvVar: "BELL_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "run the bell daemon in the foreground",
			Description: "SIGINT and SIGTERM stop the daemon. SIGUSR1 is an emergency stop:\n" +
				"   playback is cut and no bell rings until the daemon restarts or\n" +
				"   scheduler.enabled is toggled in the config.",
			Action: runDaemon,
		},
		{
			Name:      "next",
			Aliases:   []string{"n"},
			Usage:     "show upcoming bells",
			UsageText: "bell next [-n COUNT]",
			Action:    nextBells,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "count, n", Value: 5, Usage: "number of bells to show"},
			},
		},
		{
			Name:   "today",
			Usage:  "show today's bells with past and next markers",
			Action: todayBells,
		},
		{
			Name:   "stats",
			Usage:  "show schedule statistics",
			Action: stats,
		},
		{
			Name:      "test",
			Usage:     "play an event's audio sequence now",
			UsageText: "bell test <day> <event-id>",
			Action:    testBell,
		},
		{
			Name:   "sounds",
			Usage:  "list playable files in the audio directory",
			Action: sounds,
		},
		{
			Name:   "log",
			Usage:  "show recent activity",
			Action: activity,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "count, n", Value: 20, Usage: "number of entries to show"},
			},
		},
		{
			Name:        "events",
			Aliases:     []string{"e"},
			Usage:       "manage scheduled events",
			Subcommands: eventCommands,
		},
		{
			Name:        "service",
			Usage:       "inspect or restart the systemd unit",
			Subcommands: serviceCommands,
		},
	}
	return app
}
