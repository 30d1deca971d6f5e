// The raffle command runs a raffle locally or talks to the raffle service of
// a conode.
package main

import (
	"os"

	"go.dedis.ch/onet/v3/log"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	app := cli.NewApp()
	app.Name = "raffle"
	app.Usage = "run a raffle with verifiable randomness"
	app.Version = "0.1"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
		cli.StringFlag{
			Name:  "roster, r",
			Value: "public.toml",
			Usage: "group file of the conodes",
		},
		cli.IntFlag{
			Name:  "node, n",
			Value: 0,
			Usage: "index in the roster of the conode to talk to",
		},
	}
	app.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "simulate",
			Usage:  "run rounds on a local raffle",
			Action: simulateCmd,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Usage: "raffle.toml, defaults are used if empty"},
				cli.StringFlag{Name: "db", Usage: "overrides Storage.Path"},
			},
		},
		{
			Name:      "history",
			Usage:     "print the winners recorded by simulate",
			ArgsUsage: "raffle.db",
			Action:    historyCmd,
		},
		{
			Name:   "init",
			Usage:  "configure the raffle of a conode",
			Action: initCmd,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Usage: "raffle.toml, defaults are used if empty"},
				cli.BoolFlag{Name: "keeper", Usage: "run a keeper on the conode"},
			},
		},
		{
			Name:   "enter",
			Usage:  "enter the current round",
			Action: enterCmd,
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "amount, a", Usage: "amount paid, at least the entrance fee"},
				cli.StringFlag{Name: "private, p", Usage: "hex private key, a new one is created if empty"},
			},
		},
		{
			Name:   "check",
			Usage:  "tell whether the round can be closed",
			Action: checkCmd,
		},
		{
			Name:   "upkeep",
			Usage:  "close the round and request randomness",
			Action: upkeepCmd,
		},
		{
			Name:   "status",
			Usage:  "print the state of the raffle",
			Action: statusCmd,
		},
		{
			Name:      "player",
			Usage:     "print the participant at an index",
			ArgsUsage: "index",
			Action:    playerCmd,
		},
		{
			Name:      "balance",
			Usage:     "print what a participant has won",
			ArgsUsage: "participant",
			Action:    balanceCmd,
		},
		{
			Name:   "retry",
			Usage:  "pay the winners whose payout failed",
			Action: retryCmd,
		},
		{
			Name:   "keeper",
			Usage:  "poll the conode and close rounds until interrupted",
			Action: keeperCmd,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "period", Usage: "polling period, Automation.Period if zero"},
				cli.StringFlag{Name: "config, c", Usage: "raffle.toml"},
			},
		},
	}
	log.ErrFatal(app.Run(os.Args))
}
