package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/obfw/blobcache"
	"github.com/ndlib/obfw/catalog"
	"github.com/ndlib/obfw/obf"
	"github.com/ndlib/obfw/store"
)

// fillTimeout bounds how long one cache fill may wait for and run an
// extraction.
const fillTimeout = 5 * time.Minute

// ListContainersHandler returns the sorted container keys, optionally only
// those starting with the query parameter "prefix".
func (s *Server) ListContainersHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	keys, err := s.Containers.ListPrefix(r.FormValue("prefix"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, keys)
}

// ContainerHandler lists the partitions and entries of one container.
func (s *Server) ContainerHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	l, err := s.list(ps.ByName("key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, l)
}

// FileHandler returns the content of one file of a container. Partitions
// are numbered from 0 in container order.
func (s *Server) FileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	part, err := strconv.Atoi(ps.ByName("part"))
	if err != nil || part < 0 {
		s.writeError(w, errNoPartition)
		return
	}
	// the star parameter in httprouter returns the leading slash
	path := strings.TrimPrefix(ps.ByName("path"), "/")
	ckey := blobcache.Key(key, part, path)

	rac, size, err := s.Cache.Get(ckey)
	if rac == nil && err == nil {
		if _, ok := s.Cache.(blobcache.EmptyCache); ok {
			s.stream(w, r, key, part, path)
			return
		}
		_, err = s.fills.Do(ckey, func() (interface{}, error) {
			// the fill is shared by every waiting request, so it must
			// not end when the first requester goes away
			ctx, cancel := context.WithTimeout(context.Background(), fillTimeout)
			defer cancel()
			return nil, s.fill(ctx, key, part, path, ckey)
		})
		if err == nil {
			rac, size, err = s.Cache.Get(ckey)
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rac == nil {
		// evicted already
		s.stream(w, r, key, part, path)
		return
	}
	defer rac.Close()
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	if r.Method == "HEAD" {
		return
	}
	io.Copy(w, store.NewReader(rac, size))
}

// fill extracts a file into the cache.
func (s *Server) fill(ctx context.Context, key string, part int, path string, ckey string) error {
	cw, err := s.Cache.Put(ckey)
	if err == blobcache.ErrPending || err == store.ErrKeyExists {
		return nil
	} else if err != nil {
		return err
	}
	_, err = s.extract(ctx, key, part, path, cw)
	if err != nil {
		if a, ok := cw.(interface{ Abort() }); ok {
			a.Abort()
		} else {
			cw.Close()
		}
		return err
	}
	return cw.Close()
}

// stream extracts a file straight into the response.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, key string, part int, path string) {
	var out io.Writer = w
	if r.Method == "HEAD" {
		out = ioutil.Discard
	}
	sw := &startWriter{w: out, start: func() {
		w.Header().Set("Content-Type", "application/octet-stream")
	}}
	n, err := s.extract(r.Context(), key, part, path, sw)
	if err != nil && !sw.started {
		s.writeError(w, err)
		return
	} else if err != nil {
		s.Log.WithField("key", key).WithError(err).Errorln("extract")
		return
	}
	if r.Method == "HEAD" {
		w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
	}
}

// startWriter calls start before the first write.
type startWriter struct {
	w       io.Writer
	start   func()
	started bool
}

func (sw *startWriter) Write(p []byte) (int, error) {
	if !sw.started {
		sw.started = true
		sw.start()
	}
	return sw.w.Write(p)
}

func writeJSON(w http.ResponseWriter, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(val)
}

// writeError picks a status code for err and writes it out.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotExist),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, errNoPartition),
		errors.Is(err, errNoEntry):
		status = http.StatusNotFound
	case errors.Is(err, errIsDirectory):
		status = http.StatusBadRequest
	case errors.Is(err, errBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, obf.ErrNotAContainer),
		errors.Is(err, obf.ErrTruncated),
		errors.As(err, new(*obf.UnknownItemError)),
		errors.As(err, new(*obf.UnknownVersionError)):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.Log.WithError(err).Errorln("request failed")
	}
	w.WriteHeader(status)
	fmt.Fprintln(w, err.Error())
}
