// Package dump takes a snapshot of every read-only mounted volume and writes
// it out as a single obf container.
package dump

import (
	"bufio"
	"io"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/obfw/obf"
	"github.com/ndlib/obfw/util"
	"github.com/ndlib/obfw/volume"
)

// DefaultFSTypes lists the filesystem types dumped when Writer.FSTypes is
// empty.
var DefaultFSTypes = []string{"exfatfs", "ufs"}

// DirBatch is the number of directory entries asked for per ReadDir call.
const DirBatch = 64

// ErrUnsupportedEntryType is returned when a volume holds something other
// than directories and regular files. It aborts the dump.
var ErrUnsupportedEntryType = errors.New("unsupported directory entry type")

// A Writer dumps the read-only volumes of a volume.Manager. The zero value
// of every field except Volumes is usable.
type Writer struct {
	Volumes volume.Manager

	// FSTypes is the filesystem type allow-list. Volumes of other types are
	// skipped. Defaults to DefaultFSTypes.
	FSTypes []string

	// ChunkSize bounds the reads from a file, and so the size of the blocks
	// written for it. Zero or anything above obf.MaxChunk means
	// obf.MaxChunk.
	ChunkSize int

	// ItemCount appends the item count trailer after the container.
	ItemCount bool

	// Rate, if not nil, limits how fast file content is read.
	Rate *util.RateCounter

	Log    *logrus.Entry
	Notify Notifier // nil means LogNotifier
}

// Stats describes a finished run.
type Stats struct {
	Started    time.Time
	Finished   time.Time
	Partitions []PartitionStats
	Items      uint32 // Partition items plus entries
	Size       int64  // bytes written to the sink, trailer included
	SHA256     []byte
}

// PartitionStats counts what was written for one volume.
type PartitionStats struct {
	FSType string
	Device string
	Dirs   int
	Files  int
	Bytes  int64 // file content only
}

// Run writes a container to sink holding every read-only volume whose type
// is on the allow-list. The sink is synced if it has a Sync method, but is
// never closed.
//
// On error the bytes already written to sink do not form a valid container.
// Everything encoded before the failure is still flushed to it; removing it
// is up to the caller.
func (d *Writer) Run(sink io.Writer) (*Stats, error) {
	stats := &Stats{Started: time.Now()}
	err := d.run(sink, stats)
	stats.Finished = time.Now()
	d.notifier().Done(stats, err)
	return stats, err
}

func (d *Writer) run(sink io.Writer, stats *Stats) error {
	hw := util.NewHashWriter(sink)
	buf := bufio.NewWriterSize(hw, obf.MaxChunk+2)
	cw, err := obf.NewWriter(buf)
	if err != nil {
		return err
	}
	w := &walker{
		out:  cw,
		buf:  make([]byte, d.chunkSize()),
		rate: d.Rate,
	}
	_, err = volume.ForEachReadOnly(d.Volumes, func(v volume.Volume) (bool, error) {
		return true, d.partition(w, v, stats)
	})
	if err != nil {
		// leave what was written in place for inspection
		buf.Flush()
		return err
	}
	if err = cw.Close(); err != nil {
		return err
	}
	if d.ItemCount {
		if err = cw.WriteItemCount(); err != nil {
			return err
		}
	}
	stats.Items = cw.Items()
	if err = buf.Flush(); err != nil {
		return util.Classify(obf.ErrWriteFailed, err)
	}
	if err = hw.Sync(); err != nil {
		return util.Classify(obf.ErrWriteFailed, err)
	}
	stats.Size = hw.Size()
	stats.SHA256 = hw.SHA256()
	return nil
}

// partition writes one Partition item for v, or nothing if v is skipped.
func (d *Writer) partition(w *walker, v volume.Volume, stats *Stats) error {
	fs, dev := v.FSType(), v.Device()
	log := d.log().WithFields(logrus.Fields{"fs": fs, "dev": dev})
	if !d.allowed(fs) {
		log.WithField("skipped", "filesystem type").Debugln("volume")
		return nil
	}
	if !utf8.ValidString(dev) {
		log.WithField("skipped", "device name").Debugln("volume")
		return nil
	}
	if err := w.out.BeginPartition([]byte(fs), []byte(dev)); err != nil {
		return err
	}
	w.stats = PartitionStats{FSType: fs, Device: dev}
	if err := w.walk(v); err != nil {
		return errors.Wrapf(err, "dumping %s", dev)
	}
	if err := w.out.EndPartition(); err != nil {
		return err
	}
	stats.Partitions = append(stats.Partitions, w.stats)
	log.WithFields(logrus.Fields{
		"dirs":  w.stats.Dirs,
		"files": w.stats.Files,
		"bytes": w.stats.Bytes,
	}).Infoln("dumped volume")
	return nil
}

func (d *Writer) allowed(fs string) bool {
	types := d.FSTypes
	if len(types) == 0 {
		types = DefaultFSTypes
	}
	for _, t := range types {
		if t == fs {
			return true
		}
	}
	return false
}

func (d *Writer) chunkSize() int {
	if d.ChunkSize <= 0 || d.ChunkSize > obf.MaxChunk {
		return obf.MaxChunk
	}
	return d.ChunkSize
}

func (d *Writer) log() *logrus.Entry {
	if d.Log != nil {
		return d.Log
	}
	return logrus.WithField("module", "dump")
}

func (d *Writer) notifier() Notifier {
	if d.Notify != nil {
		return d.Notify
	}
	return LogNotifier{Log: d.log()}
}
