// Package server is a read-only HTTP browser for dump containers kept in a
// store. It lists containers and their contents, serves single files out of
// them, and shows the dump catalog.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/golang/groupcache/singleflight"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/obfw/blobcache"
	"github.com/ndlib/obfw/catalog"
	"github.com/ndlib/obfw/store"
	"github.com/ndlib/obfw/util"
)

// Version is reported by the welcome page.
var Version = "dev"

// Server holds the configuration for the HTTP server.
//
// Set the public fields and then call Run. Do not change any fields after
// calling Run or Handler.
type Server struct {
	// Port number to listen on. defaults to 14000
	PortNumber string

	// Containers is where the dump containers are read from. Required.
	Containers store.ROStore

	// Catalog, if not nil, is served under /dumps.
	Catalog catalog.Catalog

	// Cache keeps files already extracted from containers. nil means no
	// caching.
	Cache blobcache.Cache

	// MaxExtract limits how many extractions run at once. Default 4.
	MaxExtract int

	Log *logrus.Entry

	server httpdown.Server    // used to close our listening socket
	gate   util.Gate          // limits extractions
	fills  singleflight.Group // keyed by cache key
}

func (s *Server) init() {
	if s.Containers == nil {
		panic("server: Containers is nil")
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	if s.Cache == nil {
		s.Cache = blobcache.EmptyCache{}
	}
	if s.MaxExtract <= 0 {
		s.MaxExtract = 4
	}
	if s.Log == nil {
		s.Log = logrus.WithField("module", "server")
	}
	s.gate = util.NewGate(s.MaxExtract)
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	s.init()
	return s.addRoutes()
}

// Run listens on the given port and handles requests until Stop is called.
func (s *Server) Run() error {
	h := s.Handler()
	s.Log.WithFields(logrus.Fields{"version": Version, "port": s.PortNumber}).Infoln("starting server")

	var err error
	hd := httpdown.HTTP{StopTimeout: 10 * time.Second}
	s.server, err = hd.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: h,
	})
	if err != nil {
		s.Log.WithError(err).Errorln("listen")
		return err
	}
	return s.server.Wait()
}

// Stop closes the listening socket and waits for open requests to finish.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

func (s *Server) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"GET", "/container", s.ListContainersHandler},
		{"GET", "/container/:key", s.ContainerHandler},
		{"GET", "/container/:key/:part/*path", s.FileHandler},
		{"HEAD", "/container/:key/:part/*path", s.FileHandler},
		{"GET", "/dumps", s.ListDumpsHandler},
		{"GET", "/dumps/:key", s.DumpHandler},
		{"GET", "/", WelcomeHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, s.logWrapper(route.handler))
	}
	return r
}

// WelcomeHandler names the server and its version.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "obfw (%s)\n", Version)
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func (s *Server) logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.Log.WithFields(logrus.Fields{"method": r.Method, "url": r.URL.String()}).Debugln("request")
		handler(w, r, ps)
	}
}
