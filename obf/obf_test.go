package obf

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	kind    EntryKind
	path    string
	content string
}

type testPartition struct {
	fs, dev string
	entries []testEntry
}

// build encodes parts into a container, writing file content in pieces of
// at most step bytes.
func build(t *testing.T, parts []testPartition, step int) []byte {
	var out bytes.Buffer
	w, err := NewWriter(&out)
	require.NoError(t, err)
	for _, p := range parts {
		require.NoError(t, w.BeginPartition([]byte(p.fs), []byte(p.dev)))
		for _, e := range p.entries {
			if e.kind == Directory {
				require.NoError(t, w.Directory(e.path))
				continue
			}
			bw, err := w.File(e.path)
			require.NoError(t, err)
			data := []byte(e.content)
			for len(data) > 0 {
				n := step
				if n > len(data) {
					n = len(data)
				}
				_, err = bw.Write(data[:n])
				require.NoError(t, err)
				data = data[n:]
			}
			require.NoError(t, bw.Close())
		}
		require.NoError(t, w.EndPartition())
	}
	require.NoError(t, w.Close())
	return out.Bytes()
}

// readAll decodes a container into the same shape build takes. If consume is
// false file contents are left unread.
func readAll(r io.Reader, consume bool) ([]testPartition, error) {
	rd, err := Open(r)
	if err != nil {
		return nil, err
	}
	var parts []testPartition
	for {
		p, err := rd.Next()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		tp := testPartition{fs: string(p.FSType), dev: string(p.Device)}
		for {
			e, err := p.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return parts, err
			}
			te := testEntry{kind: e.Kind, path: e.Path}
			if consume {
				b, err := io.ReadAll(e)
				if err != nil {
					return parts, err
				}
				te.content = string(b)
			}
			tp.entries = append(tp.entries, te)
		}
		parts = append(parts, tp)
	}
}

// onlyReader hides any Seek method of the wrapped reader.
type onlyReader struct{ io.Reader }

var sample = []testPartition{
	{fs: "ufs", dev: "/dev/da0", entries: []testEntry{
		{Directory, "", ""},
		{File, "a", "xyz"},
		{Directory, "b", ""},
		{File, "b/c", ""},
	}},
	{fs: "exfatfs", dev: "/dev/da1", entries: []testEntry{
		{Directory, "", ""},
		{File, "big", strings.Repeat("0123456789", 20000)},
		{File, "small", "hello"},
	}},
}

func TestRoundTrip(t *testing.T) {
	for _, step := range []int{1, 3, 4096, MaxChunk, 1 << 20} {
		t.Run(fmt.Sprintf("step-%d", step), func(t *testing.T) {
			data := build(t, sample, step)
			got, err := readAll(bytes.NewReader(data), true)
			require.NoError(t, err)
			assert.Equal(t, sample, got)
		})
	}
}

func TestEndToEndLayout(t *testing.T) {
	data := build(t, sample[:1], MaxChunk)
	var want bytes.Buffer
	want.WriteString("\x7fOBF")
	want.Write([]byte{1, 0})
	want.Write([]byte{3, 0, 0, 0, 0, 0, 0, 0})
	want.WriteString("ufs")
	want.Write([]byte{8, 0, 0, 0, 0, 0, 0, 0})
	want.WriteString("/dev/da0")
	want.Write([]byte{1, 0, 0, 0, 0, 0, 0, 0, 0})      // Directory ""
	want.Write([]byte{2, 1, 0, 0, 0, 0, 0, 0, 0, 'a'}) // File "a"
	want.Write([]byte{3, 0, 'x', 'y', 'z', 0, 0})      // one block then EOF
	want.Write([]byte{1, 1, 0, 0, 0, 0, 0, 0, 0, 'b'}) // Directory "b"
	want.Write([]byte{2, 3, 0, 0, 0, 0, 0, 0, 0, 'b', '/', 'c'})
	want.Write([]byte{0, 0}) // empty file is a single zero length block
	want.Write([]byte{0})    // end of entries
	want.Write([]byte{0})    // end of container
	assert.Equal(t, want.Bytes(), data)
}

func TestEmptyFile(t *testing.T) {
	parts := []testPartition{{fs: "ufs", dev: "d", entries: []testEntry{{File, "empty", ""}}}}
	data := build(t, parts, 10)
	// magic, item header, two byte strings, entry tag, path, EOF block, two terminators
	assert.Equal(t, 4+2+11+9+1+13+2+1+1, len(data))
	got, err := readAll(bytes.NewReader(data), true)
	require.NoError(t, err)
	assert.Equal(t, "", got[0].entries[0].content)
}

func TestAbandonedViews(t *testing.T) {
	data := build(t, sample, 1000)
	for name, src := range map[string]func() io.Reader{
		"seeker": func() io.Reader { return bytes.NewReader(data) },
		"reader": func() io.Reader { return onlyReader{bytes.NewReader(data)} },
	} {
		t.Run(name, func(t *testing.T) {
			// skip every file body
			got, err := readAll(src(), false)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "b/c", got[0].entries[3].path)
			assert.Equal(t, "small", got[1].entries[2].path)

			// read part of a file then move on
			rd, err := Open(src())
			require.NoError(t, err)
			p, err := rd.Next()
			require.NoError(t, err)
			_, err = p.Next() // root
			require.NoError(t, err)
			a, err := p.Next()
			require.NoError(t, err)
			buf := make([]byte, 1)
			_, err = a.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, "x", string(buf))
			b, err := p.Next()
			require.NoError(t, err)
			assert.Equal(t, Entry{Kind: Directory, Path: "b"}, *b)
			_, err = a.Read(buf)
			assert.Equal(t, ErrStale, err)

			// abandon the first partition entirely
			p2, err := rd.Next()
			require.NoError(t, err)
			assert.Equal(t, "exfatfs", string(p2.FSType))
			_, err = p.Next()
			assert.Equal(t, ErrStale, err)
			big, err := p2.Next()
			require.NoError(t, err)
			big, err = p2.Next()
			require.NoError(t, err)
			assert.Equal(t, "big", big.Path)
			small, err := p2.Next()
			require.NoError(t, err)
			body, err := io.ReadAll(small)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(body))

			_, err = rd.Next()
			assert.Equal(t, io.EOF, err)
			_, err = rd.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestTruncation(t *testing.T) {
	small := []testPartition{sample[0], {fs: "exfatfs", dev: "/dev/da1", entries: []testEntry{
		{Directory, "", ""},
		{File, "f", strings.Repeat("0123456789", 200)},
		{Directory, "d", ""},
	}}}
	data := build(t, small, 777)
	for cut := 0; cut < len(data); cut++ {
		for _, consume := range []bool{true, false} {
			_, err := readAll(bytes.NewReader(data[:cut]), consume)
			if cut < len(Magic) {
				require.Equal(t, ErrNotAContainer, err, "cut at %d", cut)
				continue
			}
			require.Error(t, err, "cut at %d", cut)
			require.True(t, errors.Is(err, ErrTruncated), "cut at %d: %v", cut, err)
			_, err = readAll(onlyReader{bytes.NewReader(data[:cut])}, consume)
			require.True(t, errors.Is(err, ErrTruncated), "cut at %d: %v", cut, err)
		}
	}
}

func TestBadMagic(t *testing.T) {
	_, err := Open(strings.NewReader("\x7fOBX\x00"))
	assert.Equal(t, ErrNotAContainer, err)
}

func TestUnknownVersion(t *testing.T) {
	data := build(t, sample[:1], 100)
	data[5] = 99 // Partition version
	rd, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = rd.Next()
	var uv *UnknownVersionError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, ItemPartition, uv.Tag)
	assert.Equal(t, uint8(99), uv.Version)
	// errors are sticky
	_, err2 := rd.Next()
	assert.Equal(t, err, err2)
}

func TestUnknownItem(t *testing.T) {
	_, err := readAll(strings.NewReader("\x7fOBF\x07\x00"), true)
	var ui *UnknownItemError
	require.True(t, errors.As(err, &ui))
	assert.Equal(t, uint8(7), ui.Tag)
	assert.False(t, ui.Nested)

	data := build(t, []testPartition{{fs: "ufs", dev: "d"}}, 1)
	data[len(data)-2] = 9 // replace the entry terminator
	_, err = readAll(bytes.NewReader(data), true)
	require.True(t, errors.As(err, &ui))
	assert.True(t, ui.Nested)
}

func TestItemCount(t *testing.T) {
	var out bytes.Buffer
	w, err := NewWriter(&out)
	require.NoError(t, err)
	require.NoError(t, w.BeginPartition([]byte("ufs"), []byte("d")))
	require.NoError(t, w.Directory(""))
	bw, err := w.File("f")
	require.NoError(t, err)
	_, err = bw.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	require.NoError(t, w.EndPartition())
	require.NoError(t, w.Close())
	require.NoError(t, w.WriteItemCount())

	src := bytes.NewReader(out.Bytes())
	n, err := ReadItemCount(src)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	// the trailer does not disturb the reader
	got, err := readAll(src, true)
	require.NoError(t, err)
	assert.Equal(t, "data", got[0].entries[1].content)
}

func TestWriterOrder(t *testing.T) {
	w, err := NewWriter(io.Discard)
	require.NoError(t, err)
	assert.Equal(t, ErrWriterState, w.Directory("x"))
	assert.Equal(t, ErrWriterState, w.EndPartition())
	require.NoError(t, w.BeginPartition(nil, nil))
	bw, err := w.File("f")
	require.NoError(t, err)
	assert.Equal(t, ErrWriterState, w.Directory("x"))
	require.NoError(t, bw.Close())
	assert.Equal(t, ErrWriterState, bw.Close())
	assert.Equal(t, ErrWriterState, w.Close())
	require.NoError(t, w.EndPartition())
	require.NoError(t, w.Close())
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after < len(p) {
		return 0, io.ErrClosedPipe
	}
	f.after -= len(p)
	return len(p), nil
}

func TestWriteFailureIsSticky(t *testing.T) {
	w, err := NewWriter(&failingWriter{after: 6})
	require.NoError(t, err)
	err = w.BeginPartition([]byte("ufs"), []byte("d"))
	require.True(t, errors.Is(err, ErrWriteFailed))
	require.True(t, errors.Is(err, io.ErrClosedPipe))
	err = w.Close()
	require.True(t, errors.Is(err, ErrWriteFailed))
}

func TestBlockCodec(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, ErrChunkSize, EncodeChunk(&buf, nil))
	assert.Equal(t, ErrChunkSize, EncodeChunk(&buf, make([]byte, MaxChunk+1)))
	require.NoError(t, EncodeChunk(&buf, make([]byte, MaxChunk)))
	require.NoError(t, EncodeChunk(&buf, []byte("ab")))
	require.NoError(t, EncodeEOF(&buf))
	buf.WriteString("rest")

	block := make([]byte, MaxChunk)
	b, err := DecodeNext(&buf, block)
	require.NoError(t, err)
	assert.Len(t, b, MaxChunk)
	b, err = DecodeNext(&buf, block)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(b))
	_, err = DecodeNext(&buf, block)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "rest", buf.String())

	// a short block is truncation
	_, err = DecodeNext(bytes.NewReader([]byte{5, 0, 'x'}), block)
	assert.True(t, errors.Is(err, ErrTruncated))
}

func TestBlockWriterSplits(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf)
	n, err := bw.Write(make([]byte, MaxChunk*2+5))
	require.NoError(t, err)
	assert.Equal(t, MaxChunk*2+5, n)
	require.NoError(t, bw.Close())
	assert.Equal(t, int64(MaxChunk*2+5), bw.Size())
	// three blocks and the sentinel
	assert.Equal(t, 3*2+MaxChunk*2+5+2, buf.Len())
}
