package obf

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/ndlib/obfw/util"
)

// A Reader walks a container front to back. It hands out one Partition at a
// time, and each Partition hands out one Entry at a time. Callers may abandon
// a Partition or a file's content at any point: the next call to Next on the
// parent skips whatever was left unread.
//
// If the source also implements io.Seeker, unread file content is skipped by
// seeking instead of reading. Errors are sticky; once the Reader returns a
// non-EOF error every later call returns it too.
type Reader struct {
	src  source
	part *Partition // the Partition handed out last, nil if none
	done bool       // read the outer End item
	err  error
	buf  []byte // block buffer shared by all file contents
}

// Open checks that r starts with the container magic and returns a Reader
// positioned at the first item.
func Open(r io.Reader) (*Reader, error) {
	rd := &Reader{src: source{r: r}}
	if s, ok := r.(io.Seeker); ok {
		rd.src.seeker = s
	}
	var magic [4]byte
	if err := readFull(r, magic[:]); err != nil {
		if errors.Is(err, ErrTruncated) {
			return nil, ErrNotAContainer
		}
		return nil, err
	}
	if magic != Magic {
		return nil, ErrNotAContainer
	}
	return rd, nil
}

// Next returns the next Partition, or io.EOF after the outer End item. Any
// unread part of the previously returned Partition is skipped first, and that
// Partition becomes stale.
func (r *Reader) Next() (*Partition, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.part != nil {
		if err := r.part.drain(); err != nil {
			return nil, r.fail(err)
		}
		r.part.stale = true
		r.part = nil
	}
	if r.done {
		return nil, io.EOF
	}
	tag, err := r.src.readByte()
	if err != nil {
		return nil, r.fail(err)
	}
	switch ItemTag(tag) {
	case ItemEnd:
		r.done = true
		return nil, io.EOF
	case ItemPartition:
		version, err := r.src.readByte()
		if err != nil {
			return nil, r.fail(err)
		}
		if version != PartitionVersion {
			return nil, r.fail(&UnknownVersionError{Tag: ItemPartition, Version: version})
		}
		p := &Partition{r: r}
		if p.FSType, err = r.src.readBytes(); err != nil {
			return nil, r.fail(err)
		}
		if p.Device, err = r.src.readBytes(); err != nil {
			return nil, r.fail(err)
		}
		r.part = p
		return p, nil
	}
	return nil, r.fail(&UnknownItemError{Tag: tag})
}

func (r *Reader) fail(err error) error {
	if r.err == nil {
		r.err = err
	}
	return r.err
}

// ReadItemCount returns the trailer appended by Writer.WriteItemCount. The
// value is only meaningful for containers written with the trailer. The
// position of rs is restored before returning.
func ReadItemCount(rs io.ReadSeeker) (uint32, error) {
	cur, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, util.Classify(ErrReadFailed, err)
	}
	if _, err := rs.Seek(-4, io.SeekEnd); err != nil {
		return 0, util.Classify(ErrReadFailed, err)
	}
	var b [4]byte
	err = readFull(rs, b[:])
	if _, serr := rs.Seek(cur, io.SeekStart); err == nil && serr != nil {
		err = util.Classify(ErrReadFailed, serr)
	}
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// A Partition is a view of one Partition item.
type Partition struct {
	FSType []byte // filesystem type name, e.g. "ufs"
	Device []byte // device the volume was mounted from

	r     *Reader
	file  *content // content of the File entry handed out last
	done  bool     // read the entry terminator
	stale bool
}

// Next returns the next entry of the Partition, or io.EOF after its last
// entry. Unread content of the previously returned File entry is skipped
// first.
func (p *Partition) Next() (*Entry, error) {
	if p.stale {
		return nil, ErrStale
	}
	r := p.r
	if r.err != nil {
		return nil, r.err
	}
	if p.file != nil {
		if err := p.file.skip(); err != nil {
			return nil, r.fail(err)
		}
		p.file = nil
	}
	if p.done {
		return nil, io.EOF
	}
	tag, err := r.src.readByte()
	if err != nil {
		return nil, r.fail(err)
	}
	switch EntryTag(tag) {
	case EntryEnd:
		p.done = true
		return nil, io.EOF
	case EntryDirectory:
		path, err := r.src.readBytes()
		if err != nil {
			return nil, r.fail(err)
		}
		return &Entry{Kind: Directory, Path: string(path)}, nil
	case EntryFile:
		path, err := r.src.readBytes()
		if err != nil {
			return nil, r.fail(err)
		}
		if r.buf == nil {
			r.buf = make([]byte, MaxChunk)
		}
		p.file = &content{r: r}
		return &Entry{Kind: File, Path: string(path), content: p.file}, nil
	}
	return nil, r.fail(&UnknownItemError{Tag: tag, Nested: true})
}

// drain skips every remaining entry.
func (p *Partition) drain() error {
	for {
		_, err := p.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// EntryKind tells the two kinds of Partition entry apart.
type EntryKind int

const (
	Directory EntryKind = iota + 1
	File
)

func (k EntryKind) String() string {
	switch k {
	case Directory:
		return "directory"
	case File:
		return "file"
	}
	return "unknown"
}

// An Entry is one Directory or File of a Partition. Path is relative to the
// partition root, uses forward slashes, and has no leading slash; the root
// itself has the empty path.
//
// A File entry is an io.Reader over its content. Reading a Directory entry
// returns io.EOF at once.
type Entry struct {
	Kind EntryKind
	Path string

	content *content
}

func (e *Entry) Read(p []byte) (int, error) {
	if e.content == nil {
		return 0, io.EOF
	}
	return e.content.Read(p)
}

// content decodes the block stream of one File entry.
type content struct {
	r     *Reader
	cur   []byte // unread part of the current block
	eof   bool   // read the zero length block
	stale bool   // skipped by Partition.Next
}

func (c *content) Read(p []byte) (int, error) {
	if c.stale {
		return 0, ErrStale
	}
	if c.r.err != nil {
		return 0, c.r.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for len(c.cur) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		block, err := DecodeNext(&c.r.src, c.r.buf)
		if err == io.EOF {
			c.eof = true
			return 0, io.EOF
		}
		if err != nil {
			return 0, c.r.fail(err)
		}
		c.cur = block
	}
	n := copy(p, c.cur)
	c.cur = c.cur[n:]
	return n, nil
}

// skip moves the source past the end-of-file block without copying data.
func (c *content) skip() error {
	c.cur = nil
	for !c.eof {
		n, err := decodeLength(&c.r.src)
		if err != nil {
			return err
		}
		if n == 0 {
			c.eof = true
			break
		}
		if err := c.r.src.skip(int64(n)); err != nil {
			return err
		}
	}
	c.stale = true
	return nil
}

// source is the container stream, with an optional way to skip forward
// without reading.
type source struct {
	r      io.Reader
	seeker io.Seeker
}

func (s *source) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *source) readByte() (byte, error) {
	var b [1]byte
	err := readFull(s.r, b[:])
	return b[0], err
}

// readBytes reads a length prefixed byte string. The data is copied in
// pieces so a corrupt length cannot make us allocate more than the source
// actually holds.
func (s *source) readBytes() ([]byte, error) {
	var hdr [8]byte
	if err := readFull(s.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if n > math.MaxInt64 {
		return nil, util.Classify(ErrTruncated, io.ErrUnexpectedEOF)
	}
	var buf bytes.Buffer
	copied, err := io.CopyN(&buf, s.r, int64(n))
	if copied < int64(n) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
			return nil, util.Classify(ErrTruncated, err)
		}
		return nil, util.Classify(ErrReadFailed, err)
	}
	return buf.Bytes(), nil
}

// skip discards n bytes. Seeking past the end of a truncated source is not
// caught here; the next read reports it.
func (s *source) skip(n int64) error {
	if s.seeker != nil {
		_, err := s.seeker.Seek(n, io.SeekCurrent)
		return util.Classify(ErrReadFailed, err)
	}
	copied, err := io.CopyN(io.Discard, s.r, n)
	if copied < n {
		if err == nil || err == io.EOF {
			return util.Classify(ErrTruncated, io.ErrUnexpectedEOF)
		}
		return util.Classify(ErrReadFailed, err)
	}
	return nil
}
