package fsvol

import (
	"io"
	"os"
	"path"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/ndlib/obfw/volume"
)

// node is a referenced path on a Volume. Directories keep an open afero.File
// between ReadDir calls so sequential batches do not rescan the directory.
type node struct {
	vol      *Volume
	path     string
	typ      volume.NodeType
	f        afero.File // opened lazily
	pos      int64      // cookie f is positioned at, for directories
	released bool
}

var dots = []string{".", ".."}

func (v *Volume) lookup(p string) (*node, error) {
	fi, err := lstat(v.spec.FS, p)
	if err != nil {
		return nil, err
	}
	n := &node{vol: v, path: p, typ: modeType(fi.Mode())}
	v.ref(1)
	return n, nil
}

func lstat(fs afero.Fs, p string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(p)
		return fi, err
	}
	return fs.Stat(p)
}

func modeType(m os.FileMode) volume.NodeType {
	switch {
	case m.IsDir():
		return volume.TypeDirectory
	case m.IsRegular():
		return volume.TypeRegular
	}
	return volume.TypeOther
}

func (n *node) Type() volume.NodeType { return n.typ }

// ReadDir hands out "." and ".." at cookies 0 and 1, then the directory's
// names in the order the filesystem returns them.
func (n *node) ReadDir(cookie int64, max int) ([]volume.DirEntry, int64, bool, error) {
	if n.typ != volume.TypeDirectory {
		return nil, cookie, false, errors.Errorf("%s: not a directory", n.path)
	}
	if max <= 0 {
		return nil, cookie, false, nil
	}
	var out []volume.DirEntry
	for cookie < int64(len(dots)) && len(out) < max {
		out = append(out, volume.DirEntry{Name: dots[cookie]})
		cookie++
	}
	if len(out) == max {
		return out, cookie, false, nil
	}
	if err := n.seekDir(cookie); err != nil {
		return nil, cookie, false, err
	}
	names, err := n.f.Readdirnames(max - len(out))
	eof := false
	if err == io.EOF || len(names) == 0 {
		eof, err = true, nil
	}
	if err != nil {
		return nil, cookie, false, errors.Wrap(err, n.path)
	}
	for _, name := range names {
		out = append(out, volume.DirEntry{Name: name})
	}
	n.pos += int64(len(names))
	return out, cookie + int64(len(names)), eof, nil
}

// seekDir positions the open directory at cookie, reopening it if the
// caller went backwards.
func (n *node) seekDir(cookie int64) error {
	if n.f != nil && n.pos == cookie {
		return nil
	}
	if n.f != nil {
		n.f.Close()
		n.f = nil
	}
	f, err := n.vol.spec.FS.Open(n.path)
	if err != nil {
		return errors.Wrap(err, n.path)
	}
	n.f = f
	n.pos = int64(len(dots))
	if skip := int(cookie - n.pos); skip > 0 {
		names, err := f.Readdirnames(skip)
		n.pos += int64(len(names))
		if err != nil && err != io.EOF {
			return errors.Wrap(err, n.path)
		}
	}
	return nil
}

func (n *node) Lookup(name string) (volume.Node, error) {
	if n.typ != volume.TypeDirectory {
		return nil, errors.Errorf("%s: not a directory", n.path)
	}
	if name == "" || name == "." || name == ".." || path.Base(name) != name {
		return nil, errors.Errorf("%s: bad name %q", n.path, name)
	}
	c, err := n.vol.lookup(path.Join(n.path, name))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (n *node) ReadAt(p []byte, off int64) (int, error) {
	if n.typ != volume.TypeRegular {
		return 0, errors.Errorf("%s: not a regular file", n.path)
	}
	if n.f == nil {
		f, err := n.vol.spec.FS.Open(n.path)
		if err != nil {
			return 0, errors.Wrap(err, n.path)
		}
		n.f = f
	}
	k, err := n.f.ReadAt(p, off)
	// some afero files report a short read at the end with a nil error
	if err == nil && k < len(p) {
		err = io.EOF
	}
	return k, err
}

func (n *node) Release() {
	if n.released {
		panic("fsvol: node released twice: " + n.path)
	}
	n.released = true
	if n.f != nil {
		n.f.Close()
		n.f = nil
	}
	n.vol.ref(-1)
}
