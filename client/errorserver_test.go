package client

import (
	"net/http"
	"sync"
)

// faultServer passes requests through to h, except for those numbered in
// its fault table, which get a canned response instead. Requests are
// numbered from 0 starting at the last call to Inject.
type faultServer struct {
	h http.Handler

	mu     sync.Mutex
	n      int
	faults map[int]fault
}

type fault struct {
	status int
	body   string
}

func (fs *faultServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	fs.mu.Lock()
	f, ok := fs.faults[fs.n]
	delete(fs.faults, fs.n)
	fs.n++
	fs.mu.Unlock()

	if !ok {
		fs.h.ServeHTTP(w, req)
		return
	}
	w.WriteHeader(f.status)
	w.Write([]byte(f.body))
}

// Inject replaces the fault table and restarts the request count.
func (fs *faultServer) Inject(faults map[int]fault) {
	fs.mu.Lock()
	fs.n = 0
	fs.faults = faults
	fs.mu.Unlock()
}
