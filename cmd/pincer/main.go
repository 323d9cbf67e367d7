// Package main defines the pincer boundary server: a manifest-driven egress
// gateway that mediates outbound API calls from agent hosts, holding provider
// credentials in an encrypted vault so they never reach the callers.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/dhannusch/pincer/cmd/pincer/flags"
	"github.com/dhannusch/pincer/io/logs"
	"github.com/dhannusch/pincer/node"
	"github.com/dhannusch/pincer/runtime/version"
)

var log = logrus.WithField("prefix", "main")

func startBoundary(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(flags.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	boundary, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	boundary.Start()
	return nil
}

var appFlags = []cli.Flag{
	flags.VerbosityFlag,
	flags.DataDirFlag,
	flags.LogFormat,
	flags.LogFileName,
	flags.ConfigFileFlag,
	flags.ClearDB,
	flags.HTTPHost,
	flags.HTTPPort,
	flags.CorsDomainFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.DisableMonitoringFlag,
	flags.BootstrapTokenFlag,
	flags.KekFlag,
}

func init() {
	appFlags = flags.WrapFlags(appFlags)
}

func main() {
	app := cli.App{}
	app.Name = "pincer"
	app.Usage = "launches an egress boundary server that mediates outbound API calls from agent hosts"
	app.Version = version.Version()
	app.Flags = appFlags
	app.Action = startBoundary
	app.Before = func(ctx *cli.Context) error {
		// Load any flags from file, if specified.
		if ctx.IsSet(flags.ConfigFileFlag.Name) {
			if err := altsrc.InitInputSourceWithContext(
				appFlags,
				altsrc.NewYamlSourceFromFlagFunc(
					flags.ConfigFileFlag.Name))(ctx); err != nil {
				return err
			}
		}

		format := ctx.String(flags.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(flags.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(flags.LogFileName.Name)
		if logFileName != "" {
			if err := logs.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}

		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
