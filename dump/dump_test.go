package dump

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/obfw/obf"
	"github.com/ndlib/obfw/util"
	"github.com/ndlib/obfw/volume"
	"github.com/ndlib/obfw/volume/fsvol"
)

type entry struct {
	kind    obf.EntryKind
	path    string
	content string
}

type partition struct {
	fs, dev string
	entries []entry
}

func memFS(t *testing.T, files map[string]string, dirs ...string) afero.Fs {
	fs := afero.NewMemMapFs()
	for _, d := range dirs {
		require.NoError(t, fs.MkdirAll(d, 0755))
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
	}
	return fs
}

func decode(t *testing.T, data []byte) []partition {
	r, err := obf.Open(bytes.NewReader(data))
	require.NoError(t, err)
	var out []partition
	for {
		p, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		tp := partition{fs: string(p.FSType), dev: string(p.Device)}
		for {
			e, err := p.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			b, err := io.ReadAll(e)
			require.NoError(t, err)
			tp.entries = append(tp.entries, entry{e.Kind, e.Path, string(b)})
		}
		out = append(out, tp)
	}
	return out
}

type recorder struct {
	calls int
	stats *Stats
	err   error
}

func (r *recorder) Done(stats *Stats, err error) {
	r.calls++
	r.stats = stats
	r.err = err
}

func TestScenario(t *testing.T) {
	fs := memFS(t, map[string]string{"/a": "xyz", "/b/c": ""}, "/b")
	m := fsvol.New(fsvol.Spec{FSType: "ufs", Device: "/dev/da0", ReadOnly: true, FS: fs})
	note := &recorder{}
	d := &Writer{Volumes: m, Notify: note}

	var out bytes.Buffer
	stats, err := d.Run(&out)
	require.NoError(t, err)

	got := decode(t, out.Bytes())
	require.Len(t, got, 1)
	assert.Equal(t, "ufs", got[0].fs)
	assert.Equal(t, "/dev/da0", got[0].dev)
	assert.Equal(t, []entry{
		{obf.Directory, "", ""},
		{obf.File, "a", "xyz"},
		{obf.Directory, "b", ""},
		{obf.File, "b/c", ""},
	}, got[0].entries)

	// one block for "xyz" then the sentinel
	assert.True(t, bytes.Contains(out.Bytes(), []byte{3, 0, 'x', 'y', 'z', 0, 0}))

	assert.Equal(t, []PartitionStats{{FSType: "ufs", Device: "/dev/da0", Dirs: 2, Files: 2, Bytes: 3}}, stats.Partitions)
	assert.Equal(t, uint32(5), stats.Items)
	assert.Equal(t, int64(out.Len()), stats.Size)
	assert.Len(t, stats.SHA256, 32)
	assert.Equal(t, 1, note.calls)
	assert.NoError(t, note.err)
	assert.Equal(t, int64(0), m.Volumes()[0].Open())
}

func TestBreadthFirst(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/z/y/x/deep": "1",
		"/top":        "2",
		"/z/mid":      "3",
	}, "/z/y/x")
	m := fsvol.New(fsvol.Spec{FSType: "exfatfs", Device: "da1", ReadOnly: true, FS: fs})
	var out bytes.Buffer
	_, err := (&Writer{Volumes: m}).Run(&out)
	require.NoError(t, err)

	got := decode(t, out.Bytes())
	require.Len(t, got, 1)
	depth := -1
	for _, e := range got[0].entries {
		d := 0
		if e.path != "" {
			d = strings.Count(e.path, "/") + 1
		}
		assert.GreaterOrEqual(t, d, depth, e.path)
		depth = d
	}
	assert.Len(t, got[0].entries, 7)
}

func TestSkippedVolumes(t *testing.T) {
	files := map[string]string{"/f": "data"}
	m := fsvol.New(
		fsvol.Spec{FSType: "ext4", Device: "sda1", ReadOnly: true, FS: memFS(t, files)},
		fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: false, FS: memFS(t, files)},
		fsvol.Spec{FSType: "ufs", Device: "bad\xff", ReadOnly: true, FS: memFS(t, files)},
		fsvol.Spec{FSType: "exfatfs", Device: "da1", ReadOnly: true, FS: memFS(t, files)},
	)
	var out bytes.Buffer
	stats, err := (&Writer{Volumes: m}).Run(&out)
	require.NoError(t, err)
	got := decode(t, out.Bytes())
	require.Len(t, got, 1)
	assert.Equal(t, "da1", got[0].dev)
	assert.Len(t, stats.Partitions, 1)

	// a custom allow-list
	out.Reset()
	_, err = (&Writer{Volumes: m, FSTypes: []string{"ext4"}}).Run(&out)
	require.NoError(t, err)
	got = decode(t, out.Bytes())
	require.Len(t, got, 1)
	assert.Equal(t, "sda1", got[0].dev)
}

func TestNoVolumes(t *testing.T) {
	var out bytes.Buffer
	stats, err := (&Writer{Volumes: fsvol.New()}).Run(&out)
	require.NoError(t, err)
	assert.Equal(t, append(obf.Magic[:], 0), out.Bytes())
	assert.Equal(t, uint32(0), stats.Items)
}

func TestChunkSize(t *testing.T) {
	big := strings.Repeat("0123456789", 20000)
	fs := memFS(t, map[string]string{"/big": big, "/small": "s"})
	var results [][]partition
	var sizes []int
	for _, size := range []int{1, 7, 1000, 0, obf.MaxChunk + 10} {
		m := fsvol.New(fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: true, FS: fs})
		var out bytes.Buffer
		_, err := (&Writer{Volumes: m, ChunkSize: size}).Run(&out)
		require.NoError(t, err, "chunk size %d", size)
		results = append(results, decode(t, out.Bytes()))
		sizes = append(sizes, out.Len())
	}
	for i := range results {
		assert.Equal(t, results[0], results[i])
	}
	assert.Greater(t, sizes[0], sizes[2])
	assert.Equal(t, sizes[3], sizes[4])
	assert.Equal(t, big, results[0][0].entries[1].content)
}

func TestItemCountAndSync(t *testing.T) {
	fs := memFS(t, map[string]string{"/a": "xyz", "/b/c": ""}, "/b")
	m := fsvol.New(fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: true, FS: fs})
	out := &syncBuffer{}
	stats, err := (&Writer{Volumes: m, ItemCount: true}).Run(out)
	require.NoError(t, err)
	assert.Equal(t, 1, out.syncs)

	n, err := obf.ReadItemCount(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, stats.Items, n)
	assert.Equal(t, uint32(5), n)
	// the trailer does not disturb reading
	assert.Len(t, decode(t, out.Bytes()), 1)
}

type syncBuffer struct {
	bytes.Buffer
	syncs int
}

func (s *syncBuffer) Sync() error {
	s.syncs++
	return nil
}

// failWriter accepts limit bytes, then fails.
type failWriter struct {
	limit int
}

var errDiskFull = errors.New("disk full")

func (f *failWriter) Write(p []byte) (int, error) {
	if len(p) > f.limit {
		n := f.limit
		f.limit = 0
		return n, errDiskFull
	}
	f.limit -= len(p)
	return len(p), nil
}

func TestWriteFailure(t *testing.T) {
	big := strings.Repeat("x", 3*obf.MaxChunk)
	fs := memFS(t, map[string]string{"/a/big": big, "/a/b/c": "c", "/d": "d"}, "/a/b")
	for _, limit := range []int{0, 3, 10, obf.MaxChunk, 2 * obf.MaxChunk} {
		m := fsvol.New(fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: true, FS: fs})
		note := &recorder{}
		_, err := (&Writer{Volumes: m, Notify: note}).Run(&failWriter{limit: limit})
		require.Error(t, err, "limit %d", limit)
		assert.True(t, errors.Is(err, obf.ErrWriteFailed), "limit %d: %v", limit, err)
		assert.True(t, errors.Is(err, errDiskFull), "limit %d: %v", limit, err)
		assert.Equal(t, err, note.err)
		assert.Equal(t, int64(0), m.Volumes()[0].Open(), "limit %d", limit)
	}
}

// oddFs reports one path as a named pipe.
type oddFs struct {
	afero.Fs
	pipe string
}

type pipeInfo struct{ os.FileInfo }

func (pipeInfo) Mode() os.FileMode { return os.ModeNamedPipe | 0644 }
func (pipeInfo) IsDir() bool       { return false }

func (o oddFs) Stat(name string) (os.FileInfo, error) {
	fi, err := o.Fs.Stat(name)
	if err == nil && name == o.pipe {
		return pipeInfo{fi}, nil
	}
	return fi, err
}

func TestUnsupportedEntryType(t *testing.T) {
	fs := memFS(t, map[string]string{"/a": "a", "/p": "", "/q/r": "r"}, "/q")
	m := fsvol.New(
		fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: true, FS: oddFs{Fs: fs, pipe: "/p"}},
		fsvol.Spec{FSType: "ufs", Device: "da1", ReadOnly: true, FS: fs},
	)
	var out bytes.Buffer
	_, err := (&Writer{Volumes: m}).Run(&out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedEntryType), err.Error())
	assert.Contains(t, err.Error(), `"p"`)
	for _, v := range m.Volumes() {
		assert.Equal(t, int64(0), v.Open())
	}

	// the output is not a complete container
	r, err := obf.Open(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	p, err := r.Next()
	if err == nil {
		err = drain(p)
	}
	assert.True(t, errors.Is(err, obf.ErrTruncated), "%v", err)
}

func drain(p *obf.Partition) error {
	for {
		_, err := p.Next()
		if err != nil {
			return err
		}
	}
}

// badFs fails every read of one file.
type badFs struct {
	afero.Fs
	bad string
}

type badFile struct{ afero.File }

var errMedia = errors.New("media error")

func (badFile) ReadAt(p []byte, off int64) (int, error) { return 0, errMedia }

func (b badFs) Open(name string) (afero.File, error) {
	f, err := b.Fs.Open(name)
	if err == nil && name == b.bad {
		return badFile{f}, nil
	}
	return f, err
}

func TestReadFailure(t *testing.T) {
	fs := memFS(t, map[string]string{"/a": "a", "/d/bad": "zzz", "/d/e/f": "f"}, "/d/e")
	m := fsvol.New(fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: true, FS: badFs{Fs: fs, bad: "/d/bad"}})
	note := &recorder{}
	_, err := (&Writer{Volumes: m, Notify: note}).Run(io.Discard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, volume.ErrReadFailed), err.Error())
	assert.True(t, errors.Is(err, errMedia), err.Error())
	assert.Equal(t, 1, note.calls)
	assert.Equal(t, int64(0), m.Volumes()[0].Open())
}

func TestRateLimit(t *testing.T) {
	fs := memFS(t, map[string]string{"/a": "xyz", "/d/b": "b"}, "/d")
	m := fsvol.New(fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: true, FS: fs})

	rc := util.NewRateCounter(1 << 20)
	var out bytes.Buffer
	_, err := (&Writer{Volumes: m, Rate: rc}).Run(&out)
	require.NoError(t, err)
	assert.Len(t, decode(t, out.Bytes())[0].entries, 4)

	rc.Stop()
	_, err = (&Writer{Volumes: m, Rate: rc}).Run(io.Discard)
	assert.True(t, errors.Is(err, util.ErrStopped), "%v", err)
	assert.Equal(t, int64(0), m.Volumes()[0].Open())
}

func TestUnmountDuringDump(t *testing.T) {
	fs := memFS(t, map[string]string{"/a": "a"})
	m := fsvol.New(
		fsvol.Spec{FSType: "ufs", Device: "da0", ReadOnly: true, FS: fs},
		fsvol.Spec{FSType: "ufs", Device: "da1", ReadOnly: true, FS: fs},
	)
	vols := m.Volumes()
	pinned := &pinCheck{m: m, v: vols[0], other: vols[1]}
	_, err := (&Writer{Volumes: pinned}).Run(io.Discard)
	require.NoError(t, err)
	assert.True(t, pinned.checked)
	assert.Len(t, m.Volumes(), 1)
}

// pinCheck tries to unmount volumes while the first one is being dumped.
type pinCheck struct {
	m       *fsvol.Manager
	v       *fsvol.Volume
	other   *fsvol.Volume
	checked bool
}

func (p *pinCheck) LockList()   { p.m.LockList() }
func (p *pinCheck) UnlockList() { p.m.UnlockList() }

func (p *pinCheck) First() volume.Volume { return p.m.First() }

func (p *pinCheck) Next(v volume.Volume) volume.Volume { return p.m.Next(v) }

func (p *pinCheck) Busy(v volume.Volume) {
	p.m.Busy(v)
	if v == volume.Volume(p.v) && !p.checked {
		p.checked = true
		if p.m.Unmount(p.v) != fsvol.ErrBusy {
			panic("pinned volume was unmounted")
		}
		if err := p.m.Unmount(p.other); err != nil {
			panic(err)
		}
	}
}

func (p *pinCheck) Unbusy(v volume.Volume) { p.m.Unbusy(v) }
