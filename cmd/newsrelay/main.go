package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/andrewyi/newsrelay/src/server"
)

func main() {

	app := cli.NewApp()

	app.Name = "newsrelay"
	app.Version = "0.1.0"
	app.Usage = "crawl news categories and relay fresh articles to delivery"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "config file",
			Value: "./config.yaml",
		},
	}

	s := server.NewServer()

	app.Commands = []cli.Command{
		{
			Name:      "crawl",
			Usage:     "crawl one category page once and save the result",
			ArgsUsage: "[lv1 [lv2 [lv3]]]",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit,l", Usage: "max articles to extract"},
				cli.StringFlag{Name: "code", Usage: "resolve the category path from a code"},
				cli.BoolFlag{Name: "no-save", Usage: "do not write the result file"},
			},
			Action: s.Crawl,
		},
		{
			Name:   "watch",
			Usage:  "periodically publish today's articles of every third level category",
			Action: s.Watch,
		},
		{
			Name:   "relay",
			Usage:  "store new articles and forward them for delivery",
			Action: s.Relay,
		},
		{
			Name:  "categories",
			Usage: "inspect or extend the category tree",
			Subcommands: []cli.Command{
				{
					Name:   "list",
					Usage:  "print the category tree",
					Action: s.ListCategories,
				},
				{
					Name:      "add",
					Usage:     "add a category and save the file",
					ArgsUsage: "<code> <name>",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "parent,p", Usage: "code of the parent category, empty for top level"},
					},
					Action: s.AddCategory,
				},
			},
		},
	}

	err := app.Run(os.Args)
	s.Stop()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
