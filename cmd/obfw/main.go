// The obfw tool writes firmware dump containers from the mounted read-only
// volumes of this machine, and reads them back.
package main

import (
	"fmt"
	"os"

	raven "github.com/getsentry/raven-go"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ndlib/obfw/catalog"
	"github.com/ndlib/obfw/server"
)

var versionGitCommit string
var versionBuildTime string

// config is loaded before any command runs.
var config *Config

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	version := fmt.Sprintf("%s.%s", versionGitCommit, versionBuildTime)
	server.Version = version

	app := &cli.App{
		Name:    "obfw",
		Usage:   "Firmware volume dump tool",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Configuration file (TOML)", EnvVars: []string{"OBFW_CONFIG"}},
			&cli.BoolFlag{Name: "debug", Usage: "Log debug messages", EnvVars: []string{"OBFW_DEBUG"}},
			&cli.StringFlag{Name: "location", Aliases: []string{"l"}, Usage: "Where containers are kept: a directory, file:/path or s3:/bucket/prefix", EnvVars: []string{"OBFW_LOCATION"}},
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "Read containers from this obfw server instead (http://host:port)", EnvVars: []string{"OBFW_SERVER"}},
			&cli.StringFlag{Name: "ql", Usage: "Catalog in this QL database file", EnvVars: []string{"OBFW_QL"}},
			&cli.StringFlag{Name: "mysql", Usage: "Catalog in this MySQL database (user:password@tcp(host:port)/db)", EnvVars: []string{"OBFW_MYSQL"}},
		},
		Before: setup,
		Commands: []*cli.Command{
			dumpCommand,
			lsCommand,
			extractCommand,
			serveCommand,
			catalogCommand,
			verifyCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		raven.CaptureErrorAndWait(err, nil)
		logrus.Fatal(err)
	}
}

// setup reads the configuration file and applies the global flags.
func setup(c *cli.Context) error {
	if c.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	var err error
	config, err = loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("location") {
		config.Output.Location = c.String("location")
	}
	if c.IsSet("ql") || c.IsSet("mysql") {
		config.Catalog = CatalogConfig{
			Ql:    c.String("ql"),
			Mysql: c.String("mysql"),
		}
	}
	if config.Sentry.DSN != "" {
		if err := raven.SetDSN(config.Sentry.DSN); err != nil {
			return err
		}
		raven.SetRelease(c.App.Version)
	}
	logrus.WithField("version", c.App.Version).Debugln("obfw")
	return nil
}

// openCatalog opens the configured catalog. It returns nil if none is
// configured.
func openCatalog() (catalog.Catalog, error) {
	switch {
	case config.Catalog.Mysql != "" && config.Catalog.Ql != "":
		return nil, fmt.Errorf("--mysql conflicts with --ql")
	case config.Catalog.Mysql != "":
		return catalog.NewMysql(config.Catalog.Mysql)
	case config.Catalog.Ql != "":
		return catalog.NewQl(config.Catalog.Ql)
	}
	return nil, nil
}
