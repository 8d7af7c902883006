package obf

import (
	"encoding/binary"
	"io"

	"github.com/ndlib/obfw/util"
)

// File content is stored as a stream of blocks, each a u16 length followed by
// that many bytes. A zero length block ends the stream. Block boundaries
// carry no meaning.

// EncodeChunk writes one block holding p. The length of p must be between 1
// and MaxChunk; a zero length block would end the stream early.
func EncodeChunk(w io.Writer, p []byte) error {
	if len(p) == 0 || len(p) > MaxChunk {
		return ErrChunkSize
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return util.Classify(ErrWriteFailed, err)
	}
	_, err := w.Write(p)
	return util.Classify(ErrWriteFailed, err)
}

// EncodeEOF writes the zero length block ending a file.
func EncodeEOF(w io.Writer) error {
	var hdr [2]byte
	_, err := w.Write(hdr[:])
	return util.Classify(ErrWriteFailed, err)
}

// DecodeNext reads the next block into buf, which must have room for
// MaxChunk bytes, and returns the filled part of buf. At the end-of-file
// block it returns io.EOF with the stream positioned just past the sentinel.
func DecodeNext(r io.Reader, buf []byte) ([]byte, error) {
	n, err := decodeLength(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	if err := readFull(r, buf[:n]); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func decodeLength(r io.Reader) (int, error) {
	var hdr [2]byte
	if err := readFull(r, hdr[:]); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint16(hdr[:])), nil
}

// readFull reads exactly len(p) bytes, reporting a short read as
// ErrTruncated and anything else as ErrReadFailed.
func readFull(r io.Reader, p []byte) error {
	_, err := io.ReadFull(r, p)
	switch err {
	case nil:
		return nil
	case io.EOF, io.ErrUnexpectedEOF:
		return util.Classify(ErrTruncated, err)
	}
	return util.Classify(ErrReadFailed, err)
}

// A BlockWriter encodes everything written to it as blocks. Each Write of at
// most MaxChunk bytes produces exactly one block; longer writes are split.
// Close writes the end-of-file block but does not close the underlying
// writer.
type BlockWriter struct {
	w      io.Writer
	n      int64
	closed bool
	done   func(int64) // called once by Close
}

// NewBlockWriter returns a BlockWriter encoding onto w.
func NewBlockWriter(w io.Writer) *BlockWriter {
	return &BlockWriter{w: w}
}

func (bw *BlockWriter) Write(p []byte) (int, error) {
	if bw.closed {
		return 0, ErrWriterState
	}
	var written int
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxChunk {
			chunk = chunk[:MaxChunk]
		}
		if err := EncodeChunk(bw.w, chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		bw.n += int64(len(chunk))
		p = p[len(chunk):]
	}
	return written, nil
}

// Size returns the number of content bytes written so far.
func (bw *BlockWriter) Size() int64 {
	return bw.n
}

// Close ends the block stream. Calling it more than once is an error.
func (bw *BlockWriter) Close() error {
	if bw.closed {
		return ErrWriterState
	}
	bw.closed = true
	err := EncodeEOF(bw.w)
	if bw.done != nil {
		bw.done(bw.n)
	}
	return err
}
