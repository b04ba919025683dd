package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"schoolbell/pkg/systemd"
)

var unitFlag = cli.StringFlag{Name: "unit, u", Value: systemd.DefaultUnit, Usage: "systemd unit name"}

var serviceCommands = []cli.Command{
	{
		Name:   "status",
		Usage:  "show the daemon's systemd unit state",
		Action: serviceStatus,
		Flags:  []cli.Flag{unitFlag},
	},
	{
		Name:   "restart",
		Usage:  "restart the daemon through systemd",
		Action: serviceRestart,
		Flags:  []cli.Flag{unitFlag},
	},
}

func serviceStatus(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := systemd.GetUnitStatus(ctx, c.String("unit"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if st.LoadState == "not-found" {
		return cli.NewExitError(fmt.Sprintf("%s is not installed", st.Name), 1)
	}
	since := ""
	if !st.Since.IsZero() {
		since = " since " + humanize.Time(st.Since)
	}
	fmt.Fprintf(c.App.Writer, "%s: %s (%s)%s\n", st.Name, st.Active, st.SubState, since)
	return nil
}

func serviceRestart(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := systemd.RestartUnit(ctx, c.String("unit")); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Fprintf(c.App.Writer, "restarted %s\n", c.String("unit"))
	return nil
}
