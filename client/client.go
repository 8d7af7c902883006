// Package client talks to an obfw server, so containers can be listed and
// extracted from another machine.
package client

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

// A Connection represents a connection with an obfw server.
// It can be shared between multiple goroutines.
type Connection struct {
	// The server this connection is to, e.g. "http://localhost:14000"
	HostURL string

	client *http.Client
}

// Exported errors
var (
	ErrNotFound       = errors.New("not found on server")
	ErrBadRequest     = errors.New("bad request")
	ErrBadContainer   = errors.New("server cannot read container")
	ErrUnexpectedResp = errors.New("unexpected response code")
)

// A Listing is the contents of one container.
type Listing struct {
	Key        string
	Size       int64
	Partitions []Partition
}

type Partition struct {
	Index   int
	FSType  string
	Device  string
	Entries []Entry
}

type Entry struct {
	Path string
	Type string // "directory" or "file"
	Size int64
}

// Containers returns the keys of the containers on the server starting
// with prefix.
func (c *Connection) Containers(prefix string) ([]string, error) {
	v, err := c.doJasonGet("/container?prefix=" + url.QueryEscape(prefix))
	if err != nil {
		return nil, err
	}
	arr, err := v.Array()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, a := range arr {
		s, err := a.String()
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// Container lists the partitions and entries of the container key.
func (c *Connection) Container(key string) (*Listing, error) {
	v, err := c.doJasonGet("/container/" + url.PathEscape(key))
	if err != nil {
		return nil, err
	}
	obj, err := v.Object()
	if err != nil {
		return nil, err
	}
	result := &Listing{}
	result.Key, _ = obj.GetString("key")
	result.Size, _ = obj.GetInt64("size")
	parts, _ := obj.GetObjectArray("partitions")
	for _, p := range parts {
		var part Partition
		index, _ := p.GetInt64("index")
		part.Index = int(index)
		part.FSType, _ = p.GetString("fs")
		part.Device, _ = p.GetString("device")
		entries, _ := p.GetObjectArray("entries")
		for _, e := range entries {
			var entry Entry
			entry.Path, _ = e.GetString("path")
			entry.Type, _ = e.GetString("type")
			entry.Size, _ = e.GetInt64("size")
			part.Entries = append(part.Entries, entry)
		}
		result.Partitions = append(result.Partitions, part)
	}
	return result, nil
}

// Dumps returns the server's catalog, newest first.
func (c *Connection) Dumps() ([]*jason.Object, error) {
	v, err := c.doJasonGet("/dumps")
	if err != nil {
		return nil, err
	}
	arr, err := v.Array()
	if err != nil {
		return nil, err
	}
	var result []*jason.Object
	for _, a := range arr {
		obj, err := a.Object()
		if err != nil {
			return nil, err
		}
		result = append(result, obj)
	}
	return result, nil
}

// Dump returns the catalog entry for key.
func (c *Connection) Dump(key string) (*jason.Object, error) {
	v, err := c.doJasonGet("/dumps/" + url.PathEscape(key))
	if err != nil {
		return nil, err
	}
	return v.Object()
}

// Download copies the file at path in partition part of container key to w.
func (c *Connection) Download(w io.Writer, key string, part int, path string) (int64, error) {
	segments := strings.Split(path, "/")
	for i := range segments {
		segments[i] = url.PathEscape(segments[i])
	}
	route := fmt.Sprintf("/container/%s/%d/%s", url.PathEscape(key), part, strings.Join(segments, "/"))

	req, err := http.NewRequest("GET", c.HostURL+route, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, route); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = errors.Wrapf(io.ErrUnexpectedEOF, "%s: got %d of %d bytes", route, n, resp.ContentLength)
	}
	return n, err
}

// do performs an http request using our client with a timeout. The
// timeout is arbitrary, and is just there so we don't hang indefinitely
// should the server never close the connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	if c.client == nil {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	}
	return c.client.Do(req)
}

func (c *Connection) doJasonGet(route string) (*jason.Value, error) {
	req, err := http.NewRequest("GET", c.HostURL+route, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, route); err != nil {
		return nil, err
	}
	return jason.NewValueFromReader(resp.Body)
}

// checkStatus maps a non-200 response to one of the exported errors. The
// server's message is kept in the error text.
func checkStatus(resp *http.Response, route string) error {
	if resp.StatusCode == 200 {
		return nil
	}
	msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
	text := route + ": " + strings.TrimSpace(string(msg))
	switch resp.StatusCode {
	case 404:
		return errors.Wrap(ErrNotFound, text)
	case 400:
		return errors.Wrap(ErrBadRequest, text)
	case 422:
		return errors.Wrap(ErrBadContainer, text)
	}
	return errors.Wrapf(ErrUnexpectedResp, "status %d %s", resp.StatusCode, text)
}
