// Package obf reads and writes firmware dump containers.
//
// A container is a 4 byte magic value followed by a sequence of items and a
// single End item. All integers are little endian.
//
//	magic      0x7F 'O' 'B' 'F'
//	item       tag:u8 version:u8 payload     (repeated until tag == 0)
//	End        tag 0, no version and no payload
//	Partition  tag 1, version 0: fs:bytes dev:bytes entry* End-entry
//	entry      tag:u8 payload                (repeated until tag == 0)
//	Directory  entry tag 1: path:bytes
//	File       entry tag 2: path:bytes block*
//	block      len:u16 data[len]             (len == 0 ends the file)
//	bytes      len:u64 data[len]
//
// Containers may carry a trailing u32 holding the number of items written
// (Partitions plus their entries). Readers ignore anything after the outer
// End item; use ReadItemCount to get at it.
//
// The format is closed. A reader refuses any item tag or version it does not
// know instead of guessing at its layout.
package obf
