package obf

import (
	"io"

	"github.com/ndlib/obfw/util"
)

type writerState int

const (
	stateTop writerState = iota
	statePartition
	stateFile
	stateClosed
)

// A Writer produces a container one item at a time. Its methods must be
// called in container order:
//
//	NewWriter
//	  BeginPartition (Directory | File ... BlockWriter.Close)* EndPartition
//	  ...
//	Close
//	WriteItemCount (optional)
//
// The first write error is sticky: every later call returns it, and the
// output written so far is not a valid container. Writer does no buffering
// of its own.
type Writer struct {
	sink  *stickyWriter
	enc   *Encoder
	state writerState
	items uint32
}

// NewWriter writes the container magic to w and returns a Writer for the
// rest of the container.
func NewWriter(w io.Writer) (*Writer, error) {
	sink := &stickyWriter{w: w}
	cw := &Writer{sink: sink, enc: NewEncoder(sink)}
	if err := cw.enc.WriteMagic(); err != nil {
		return nil, err
	}
	return cw, nil
}

func (w *Writer) check(want writerState) error {
	if w.sink.err != nil {
		return util.Classify(ErrWriteFailed, w.sink.err)
	}
	if w.state != want {
		return ErrWriterState
	}
	return nil
}

// BeginPartition starts a version 0 Partition item.
func (w *Writer) BeginPartition(fsType, device []byte) error {
	if err := w.check(stateTop); err != nil {
		return err
	}
	if err := w.enc.WriteItemHeader(ItemPartition, PartitionVersion); err != nil {
		return err
	}
	if err := w.enc.WriteBytes(fsType); err != nil {
		return err
	}
	if err := w.enc.WriteBytes(device); err != nil {
		return err
	}
	w.state = statePartition
	w.items++
	return nil
}

// Directory adds a Directory entry to the current Partition.
func (w *Writer) Directory(path string) error {
	if err := w.check(statePartition); err != nil {
		return err
	}
	if err := w.enc.WriteEntryHeader(EntryDirectory); err != nil {
		return err
	}
	if err := w.enc.WriteBytes([]byte(path)); err != nil {
		return err
	}
	w.items++
	return nil
}

// File adds a File entry to the current Partition and returns the writer for
// its content. The BlockWriter must be closed before any other Writer method
// is called.
func (w *Writer) File(path string) (*BlockWriter, error) {
	if err := w.check(statePartition); err != nil {
		return nil, err
	}
	if err := w.enc.WriteEntryHeader(EntryFile); err != nil {
		return nil, err
	}
	if err := w.enc.WriteBytes([]byte(path)); err != nil {
		return nil, err
	}
	w.items++
	w.state = stateFile
	bw := NewBlockWriter(w.sink)
	bw.done = func(int64) { w.state = statePartition }
	return bw, nil
}

// EndPartition writes the entry terminator of the current Partition.
func (w *Writer) EndPartition() error {
	if err := w.check(statePartition); err != nil {
		return err
	}
	if err := w.enc.WriteEntryHeader(EntryEnd); err != nil {
		return err
	}
	w.state = stateTop
	return nil
}

// Close writes the outer End item. It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.check(stateTop); err != nil {
		return err
	}
	if err := w.enc.WriteEnd(); err != nil {
		return err
	}
	w.state = stateClosed
	return nil
}

// WriteItemCount appends the item count trailer. It may only follow Close.
func (w *Writer) WriteItemCount() error {
	if err := w.check(stateClosed); err != nil {
		return err
	}
	return w.enc.WriteItemCount(w.items)
}

// Items returns the number of Partitions and entries written so far.
func (w *Writer) Items() uint32 {
	return w.items
}

// stickyWriter remembers the first error from w and refuses further writes.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (s *stickyWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	s.err = err
	return n, err
}
