// Package flags defines the command line flags for the boundary server.
package flags

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

var (
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// DataDirFlag defines a path on disk for the key-value store.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the boundary database",
		Value: DefaultDataDir(),
	}
	// LogFormat specifies the log output format.
	LogFormat = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd.",
		Value: "text",
	}
	// LogFileName specifies the log output file name.
	LogFileName = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}
	// ConfigFileFlag specifies the filepath to load flag values.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "The filepath to a yaml file with flag values",
	}
	// ClearDB removes any previously stored data at the data directory.
	ClearDB = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Clears any previously stored data at the data directory",
	}
	// HTTPHost defines the address the boundary API listens on.
	HTTPHost = &cli.StringFlag{
		Name:  "http-host",
		Usage: "Host on which the boundary HTTP server runs",
		Value: "127.0.0.1",
	}
	// HTTPPort defines the port the boundary API listens on.
	HTTPPort = &cli.IntFlag{
		Name:  "http-port",
		Usage: "Port on which the boundary HTTP server runs",
		Value: 8787,
	}
	// CorsDomainFlag defines the allowed cross-origin domains for the admin console.
	CorsDomainFlag = &cli.StringSliceFlag{
		Name:  "cors-domain",
		Usage: "Comma separated list of domains from which to accept cross origin requests",
	}
	// MonitoringHostFlag defines the host the monitoring sidecar listens on.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for the monitoring sidecar",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag defines the port of the monitoring sidecar.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used to listen and respond to metrics requests for prometheus",
		Value: 9090,
	}
	// DisableMonitoringFlag defines a flag to disable the metrics collection.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable monitoring service.",
	}
	// BootstrapTokenFlag carries the secret required to create the admin account.
	BootstrapTokenFlag = &cli.StringFlag{
		Name:    "bootstrap-token",
		Usage:   "Secret token required by the one-time admin bootstrap endpoint",
		EnvVars: []string{"PINCER_BOOTSTRAP_TOKEN"},
	}
	// KekFlag carries the key-encryption key the vault seals under.
	KekFlag = &cli.StringFlag{
		Name:    "kek",
		Usage:   "Key-encryption key used to derive the vault sealing key",
		EnvVars: []string{"PINCER_KEK"},
	}
)

// DefaultDataDir is the default data directory to use for the database.
func DefaultDataDir() string {
	home := homeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Pincer")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Local", "Pincer")
		}
		return filepath.Join(home, ".pincer")
	}
	// As we cannot guess a stable location, return empty and handle later.
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}

// WrapFlags so that they can be loaded from alternative sources.
func WrapFlags(flags []cli.Flag) []cli.Flag {
	wrapped := make([]cli.Flag, 0, len(flags))
	for _, f := range flags {
		switch t := f.(type) {
		case *cli.BoolFlag:
			f = altsrc.NewBoolFlag(t)
		case *cli.DurationFlag:
			f = altsrc.NewDurationFlag(t)
		case *cli.Float64Flag:
			f = altsrc.NewFloat64Flag(t)
		case *cli.IntFlag:
			f = altsrc.NewIntFlag(t)
		case *cli.StringFlag:
			f = altsrc.NewStringFlag(t)
		case *cli.StringSliceFlag:
			f = altsrc.NewStringSliceFlag(t)
		case *cli.Uint64Flag:
			f = altsrc.NewUint64Flag(t)
		case *cli.UintFlag:
			f = altsrc.NewUintFlag(t)
		default:
			panic(fmt.Sprintf("cannot convert type %T", f))
		}
		wrapped = append(wrapped, f)
	}
	return wrapped
}
