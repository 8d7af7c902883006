package dump

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ndlib/obfw/obf"
	"github.com/ndlib/obfw/util"
	"github.com/ndlib/obfw/volume"
)

type pending struct {
	h    *volume.Handle
	path string
}

// walker writes the entries of one volume, breadth first. Every handle it
// acquires is either in the queue or being processed, and walk releases all
// of them before returning.
type walker struct {
	out   *obf.Writer
	buf   []byte
	rate  *util.RateCounter // may be nil
	queue []pending
	stats PartitionStats
}

func (w *walker) walk(v volume.Volume) error {
	root, err := volume.Root(v)
	if err != nil {
		return err
	}
	w.queue = append(w.queue[:0], pending{h: root})
	defer w.drop()

	for len(w.queue) > 0 {
		p := w.queue[0]
		w.queue[0] = pending{}
		w.queue = w.queue[1:]

		err := w.visit(p)
		p.h.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// drop releases whatever is still queued.
func (w *walker) drop() {
	for _, p := range w.queue {
		p.h.Release()
	}
	w.queue = w.queue[:0]
}

func (w *walker) visit(p pending) error {
	switch typ := p.h.Type(); typ {
	case volume.TypeDirectory:
		if err := w.out.Directory(p.path); err != nil {
			return err
		}
		w.stats.Dirs++
		return w.expand(p)
	case volume.TypeRegular:
		fw, err := w.out.File(p.path)
		if err != nil {
			return err
		}
		n, err := w.copy(fw, p.h)
		if err != nil {
			return err
		}
		w.stats.Files++
		w.stats.Bytes += n
		return fw.Close()
	default:
		return errors.Wrapf(ErrUnsupportedEntryType, "%q is %s", p.path, typ)
	}
}

// expand queues the children of the directory p.
func (w *walker) expand(p pending) error {
	var cookie int64
	for {
		ents, next, eof, err := p.h.ReadDir(cookie, DirBatch)
		if err != nil {
			return errors.Wrapf(err, "reading %q", p.path)
		}
		for _, e := range ents {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			child := childPath(p.path, e.Name)
			h, err := p.h.Lookup(e.Name)
			if err != nil {
				return errors.Wrapf(err, "looking up %q", child)
			}
			w.queue = append(w.queue, pending{h: h, path: child})
		}
		if eof || len(ents) == 0 {
			return nil
		}
		cookie = next
	}
}

// copy streams the content of h into fw, one block per read.
func (w *walker) copy(fw io.Writer, h *volume.Handle) (int64, error) {
	var off int64
	for {
		if w.rate != nil {
			if err := w.rate.Wait(); err != nil {
				return off, err
			}
		}
		n, err := h.ReadAt(w.buf, off)
		if w.rate != nil {
			w.rate.Use(int64(n))
		}
		if n > 0 {
			if _, werr := fw.Write(w.buf[:n]); werr != nil {
				return off, werr
			}
			off += int64(n)
		}
		if err == io.EOF || (err == nil && n == 0) {
			return off, nil
		}
		if err != nil {
			return off, err
		}
	}
}

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
