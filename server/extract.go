package server

import (
	"context"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/ndlib/obfw/obf"
	"github.com/ndlib/obfw/store"
)

var (
	errNoPartition = errors.New("no such partition")
	errNoEntry     = errors.New("no such file")
	errIsDirectory = errors.New("is a directory")
	errBusy        = errors.New("gave up waiting to extract")
)

type listing struct {
	Key        string             `json:"key"`
	Size       int64              `json:"size"`
	Partitions []partitionListing `json:"partitions"`
}

type partitionListing struct {
	Index   int            `json:"index"`
	FSType  string         `json:"fs"`
	Device  string         `json:"device"`
	Entries []entryListing `json:"entries"`
}

type entryListing struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// container is an open dump container.
type container struct {
	*obf.Reader
	rac  store.ReadAtCloser
	size int64
}

func (s *Server) open(key string) (*container, error) {
	rac, size, err := s.Containers.Open(key)
	if err != nil {
		return nil, err
	}
	r, err := obf.Open(store.NewReader(rac, size))
	if err != nil {
		rac.Close()
		return nil, errors.Wrap(err, key)
	}
	return &container{Reader: r, rac: rac, size: size}, nil
}

func (c *container) Close() error {
	return c.rac.Close()
}

// list reads the whole container to find the size of every file.
// Concurrent requests for one container share the work.
func (s *Server) list(key string) (*listing, error) {
	v, err := s.fills.Do("list\x00"+key, func() (interface{}, error) {
		c, err := s.open(key)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		result := &listing{Key: key, Size: c.size}
		for i := 0; ; i++ {
			p, err := c.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return nil, err
			}
			pl := partitionListing{
				Index:   i,
				FSType:  string(p.FSType),
				Device:  string(p.Device),
				Entries: []entryListing{},
			}
			for {
				e, err := p.Next()
				if err == io.EOF {
					break
				} else if err != nil {
					return nil, err
				}
				n, err := io.Copy(ioutil.Discard, e)
				if err != nil {
					return nil, err
				}
				pl.Entries = append(pl.Entries, entryListing{Path: e.Path, Type: e.Kind.String(), Size: n})
			}
			result.Partitions = append(result.Partitions, pl)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*listing), nil
}

// extract copies the content of one file to w. At most MaxExtract run at a
// time; ctx bounds the wait for a turn. Nothing is written to w unless the
// file is found.
func (s *Server) extract(ctx context.Context, key string, part int, path string, w io.Writer) (int64, error) {
	if !s.gate.Enter(ctx) {
		return 0, errBusy
	}
	defer s.gate.Leave()

	c, err := s.open(key)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	p, err := c.Next()
	for i := 0; i < part && err == nil; i++ {
		p, err = c.Next()
	}
	if err == io.EOF {
		return 0, errNoPartition
	} else if err != nil {
		return 0, err
	}
	for {
		e, err := p.Next()
		if err == io.EOF {
			return 0, errors.Wrap(errNoEntry, path)
		} else if err != nil {
			return 0, err
		}
		if e.Path != path {
			continue
		}
		if e.Kind == obf.Directory {
			return 0, errors.Wrap(errIsDirectory, path)
		}
		return io.Copy(w, e)
	}
}
