package server

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/obfw/catalog"
)

var errNoCatalog = errors.New("no catalog configured")

type dumpInfo struct {
	Key        string              `json:"key"`
	Created    time.Time           `json:"created"`
	Size       int64               `json:"size"`
	SHA256     string              `json:"sha256"`
	Items      uint32              `json:"items"`
	Partitions []catalog.Partition `json:"partitions"`
}

func newDumpInfo(r catalog.Run) dumpInfo {
	return dumpInfo{
		Key:        r.Key,
		Created:    r.Created,
		Size:       r.Size,
		SHA256:     hex.EncodeToString(r.SHA256),
		Items:      r.Items,
		Partitions: r.Partitions,
	}
}

// ListDumpsHandler returns the catalog, newest dump first.
func (s *Server) ListDumpsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Catalog == nil {
		s.writeError(w, errors.Wrap(catalog.ErrNotFound, errNoCatalog.Error()))
		return
	}
	runs, err := s.Catalog.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := []dumpInfo{}
	for _, run := range runs {
		result = append(result, newDumpInfo(run))
	}
	writeJSON(w, result)
}

// DumpHandler returns the catalog entry of one dump.
func (s *Server) DumpHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Catalog == nil {
		s.writeError(w, errors.Wrap(catalog.ErrNotFound, errNoCatalog.Error()))
		return
	}
	run, err := s.Catalog.Lookup(ps.ByName("key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, newDumpInfo(*run))
}
