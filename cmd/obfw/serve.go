package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ndlib/obfw/blobcache"
	"github.com/ndlib/obfw/server"
	"github.com/ndlib/obfw/store"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Browse the containers over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on"},
		&cli.StringFlag{Name: "cache-dir", Usage: "Keep extracted files in this directory"},
		&cli.Int64Flag{Name: "cache-size", Usage: "Largest size of the cache, in MB"},
		&cli.IntFlag{Name: "max-extract", Usage: "Number of extractions to run at once"},
	},
	Action: func(c *cli.Context) error {
		sc := &config.Server
		if c.IsSet("port") {
			sc.Port = c.String("port")
		}
		if c.IsSet("cache-dir") {
			sc.CacheDir = c.String("cache-dir")
		}
		if c.IsSet("cache-size") {
			sc.CacheSize = c.Int64("cache-size")
		}
		if c.IsSet("max-extract") {
			sc.MaxExtract = c.Int("max-extract")
		}

		containers, err := parselocation(config.Output.Location, "")
		if err != nil {
			return err
		}
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		s := &server.Server{
			PortNumber: sc.Port,
			Containers: containers,
			Cache:      openCache(sc),
			MaxExtract: sc.MaxExtract,
			Log:        logrus.WithField("module", "server"),
		}
		if cat != nil {
			s.Catalog = cat
			defer cat.Close()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			logrus.Infoln("stopping server")
			s.Stop()
		}()
		return s.Run()
	},
}

// openCache returns an LRU cache in the configured directory, or the empty
// cache when there is none.
func openCache(sc *ServerConfig) blobcache.Cache {
	if sc.CacheDir == "" || sc.CacheSize <= 0 {
		return blobcache.EmptyCache{}
	}
	if err := os.MkdirAll(sc.CacheDir, 0755); err != nil {
		logrus.WithError(err).Warnln("cache disabled")
		return blobcache.EmptyCache{}
	}
	cache := blobcache.NewLRU(store.NewFileSystem(sc.CacheDir), sc.CacheSize*1000000)
	go cache.Scan()
	return cache
}
