package util

import (
	"bytes"
	"crypto/sha256"
	"hash"
	"io"
)

// A HashWriter wraps an io.Writer and computes the SHA256 hash of the bytes
// written through it, along with their count. The dump writer puts one in
// front of its sink so the catalog can record a fixity value without
// reading the container back.
type HashWriter struct {
	w      io.Writer // nil if we only hash
	sha256 hash.Hash
	size   int64
}

// NewHashWriter returns a HashWriter wrapping w.
func NewHashWriter(w io.Writer) *HashWriter {
	return &HashWriter{
		w:      w,
		sha256: sha256.New(),
	}
}

// NewHashWriterPlain returns a HashWriter that does not wrap an output
// stream. It only computes the checksums of the data written to it.
func NewHashWriterPlain() *HashWriter {
	return NewHashWriter(nil)
}

// Write passes p to the wrapped writer and hashes the bytes it accepted.
func (hw *HashWriter) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if hw.w != nil {
		n, err = hw.w.Write(p)
	}
	hw.sha256.Write(p[:n])
	hw.size += int64(n)
	return n, err
}

// Sync forwards to the wrapped writer if it supports it, so a HashWriter
// placed in front of an *os.File does not hide the file's Sync method.
func (hw *HashWriter) Sync() error {
	if s, ok := hw.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Size returns the number of bytes written so far.
func (hw *HashWriter) Size() int64 {
	return hw.size
}

// SHA256 returns the SHA256 hash of everything written.
func (hw *HashWriter) SHA256() []byte {
	return hw.sha256.Sum(nil)
}

// CheckSHA256 returns the SHA256 hash for this writer and reports whether it
// equals goal. An empty goal is treated as matching.
func (hw *HashWriter) CheckSHA256(goal []byte) ([]byte, bool) {
	computed := hw.SHA256()
	return computed, len(goal) == 0 || bytes.Equal(goal, computed)
}

// VerifyStreamHash checksums r and compares the result with the given
// sha256. The reader is not closed when finished.
func VerifyStreamHash(r io.Reader, sha256 []byte) (bool, error) {
	if len(sha256) == 0 {
		return true, nil
	}
	hw := NewHashWriterPlain()
	_, err := io.Copy(hw, r)
	_, ok := hw.CheckSHA256(sha256)
	return ok, err
}
