package obf

import (
	"encoding/binary"
	"io"

	"github.com/ndlib/obfw/util"
)

// An Encoder writes the framing primitives of the container format. It does
// no buffering and keeps no state besides a scratch buffer, so every call
// maps to exactly one Write on the underlying sink. Most code wants the
// higher level Writer instead.
type Encoder struct {
	w       io.Writer
	scratch [8]byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) write(p []byte) error {
	_, err := e.w.Write(p)
	return util.Classify(ErrWriteFailed, err)
}

// WriteMagic writes the container prefix.
func (e *Encoder) WriteMagic() error {
	return e.write(Magic[:])
}

// WriteItemHeader writes the type tag and format version of a top level
// item.
func (e *Encoder) WriteItemHeader(tag ItemTag, version uint8) error {
	e.scratch[0] = byte(tag)
	e.scratch[1] = version
	return e.write(e.scratch[:2])
}

// WriteEnd writes the outer End item, which has neither version nor payload.
func (e *Encoder) WriteEnd() error {
	e.scratch[0] = byte(ItemEnd)
	return e.write(e.scratch[:1])
}

// WriteEntryHeader writes the tag of a Partition entry.
func (e *Encoder) WriteEntryHeader(tag EntryTag) error {
	e.scratch[0] = byte(tag)
	return e.write(e.scratch[:1])
}

// WriteBytes writes a length prefixed byte string.
func (e *Encoder) WriteBytes(p []byte) error {
	binary.LittleEndian.PutUint64(e.scratch[:], uint64(len(p)))
	if err := e.write(e.scratch[:8]); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	return e.write(p)
}

// WriteItemCount writes the optional trailer following the outer End item.
func (e *Encoder) WriteItemCount(n uint32) error {
	binary.LittleEndian.PutUint32(e.scratch[:], n)
	return e.write(e.scratch[:4])
}
