// Package main is the twoview command line tool. It fits essential, fundamental and
// homography matrices to correspondences read from a JSON file and prints them with residual
// statistics.
package main

import (
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/mvg/config"
	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
)

const (
	configFlag = "config"
	debugFlag  = "debug"
	inputFlag  = "input"
	plotFlag   = "plot"
	npyFlag    = "npy"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var r runner
	inputFlags := []cli.Flag{
		&cli.PathFlag{
			Name:     inputFlag,
			Aliases:  []string{"i"},
			Usage:    "JSON file with points1, points2 and optional weights, k1, k2, lines1, lines2",
			Required: true,
		},
	}
	npyFlags := append([]cli.Flag{
		&cli.PathFlag{
			Name:  npyFlag,
			Usage: "also save the estimated matrix as a NumPy array to `FILE`",
		},
	}, inputFlags...)
	withInput := func(run func(*correspondences) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			in, err := readCorrespondences(c.Path(inputFlag))
			if err != nil {
				return err
			}
			r.out = c.App.Writer
			r.npyPath = c.Path(npyFlag)
			return run(in)
		}
	}

	return &cli.App{
		Name:  "twoview",
		Usage: "estimate two view geometry from point correspondences",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load estimator settings from `FILE`",
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			conf := &config.Estimator{}
			if path := c.Path(configFlag); path != "" {
				var err error
				if conf, err = config.Read(path); err != nil {
					return errors.Wrap(err, "cannot load config")
				}
			}
			table, err := conf.CapabilityTable()
			if err != nil {
				return err
			}
			tensor.ReplaceCapabilities(table)

			logger := logging.NewBlankLogger("twoview")
			logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
			logger.SetLevel(conf.Level())
			if c.Bool(debugFlag) {
				logger.SetLevel(logging.DEBUG)
			}
			logging.ReplaceGlobal(logger)

			r.conf = conf
			r.logger = logger
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "essential",
				Usage:  "estimate the essential matrix with the five point solver and recover the motion",
				Flags:  inputFlags,
				Action: withInput(r.essential),
			},
			{
				Name:   "fundamental",
				Usage:  "estimate the fundamental matrix with the weighted eight point solver",
				Flags:  npyFlags,
				Action: withInput(r.fundamental),
			},
			{
				Name:   "pose",
				Usage:  "estimate the relative camera pose of the second image",
				Flags:  inputFlags,
				Action: withInput(r.pose),
			},
			{
				Name:  "homography",
				Usage: "fit a homography to points, or to line segments when lines1 is given",
				Flags: append([]cli.Flag{
					&cli.PathFlag{
						Name:  plotFlag,
						Usage: "write a histogram of the transfer error to `FILE`",
					},
				}, npyFlags...),
				Action: func(c *cli.Context) error {
					return withInput(func(in *correspondences) error {
						return r.homography(in, c.Path(plotFlag))
					})(c)
				},
			},
		},
	}
}
