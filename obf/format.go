package obf

import (
	"fmt"

	"github.com/pkg/errors"
)

// Magic prefixes every container.
var Magic = [4]byte{0x7F, 'O', 'B', 'F'}

// ItemTag identifies a top level item.
type ItemTag uint8

const (
	ItemEnd       ItemTag = 0
	ItemPartition ItemTag = 1
)

func (t ItemTag) String() string {
	switch t {
	case ItemEnd:
		return "end"
	case ItemPartition:
		return "partition"
	}
	return fmt.Sprintf("item(%d)", uint8(t))
}

// PartitionVersion is the only Partition layout understood by this package.
const PartitionVersion = 0

// EntryTag identifies an entry nested inside a Partition.
type EntryTag uint8

const (
	EntryEnd       EntryTag = 0
	EntryDirectory EntryTag = 1
	EntryFile      EntryTag = 2
)

func (t EntryTag) String() string {
	switch t {
	case EntryEnd:
		return "end"
	case EntryDirectory:
		return "directory"
	case EntryFile:
		return "file"
	}
	return fmt.Sprintf("entry(%d)", uint8(t))
}

// MaxChunk is the largest amount of file content one block may carry.
const MaxChunk = 0xFFFF

var (
	// ErrNotAContainer means the source does not start with Magic.
	ErrNotAContainer = errors.New("not a firmware dump container")

	// ErrTruncated means the source ended before a length prefix or a
	// terminator said it would. The container is corrupt.
	ErrTruncated = errors.New("container truncated")

	// ErrReadFailed wraps I/O errors from the container source.
	ErrReadFailed = errors.New("container read failed")

	// ErrWriteFailed wraps I/O errors from the container sink.
	ErrWriteFailed = errors.New("container write failed")

	// ErrStale is returned by a Partition or Entry after the Reader has
	// moved past it.
	ErrStale = errors.New("reader has moved past this item")

	// ErrChunkSize is returned when asked to encode an empty or oversized
	// block.
	ErrChunkSize = errors.New("block length must be between 1 and 65535")

	// ErrWriterState is returned when the Writer methods are called out of
	// order, e.g. a Directory outside of any Partition.
	ErrWriterState = errors.New("container writer used out of order")
)

// UnknownItemError is returned for an item or entry tag the reader does not
// recognize.
type UnknownItemError struct {
	Tag    uint8
	Nested bool // true if the tag was read inside a Partition
}

func (e *UnknownItemError) Error() string {
	if e.Nested {
		return fmt.Sprintf("unknown partition entry type %d", e.Tag)
	}
	return fmt.Sprintf("unknown item type %d", e.Tag)
}

// UnknownVersionError is returned for a known item tag carrying a version
// this reader does not accept.
type UnknownVersionError struct {
	Tag     ItemTag
	Version uint8
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown %s version %d", e.Tag, e.Version)
}
