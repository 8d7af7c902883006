package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/ndlib/obfw/catalog"
	"github.com/ndlib/obfw/dump"
	"github.com/ndlib/obfw/util"
	"github.com/ndlib/obfw/volume/fsvol"
)

var dumpCommand = &cli.Command{
	Name:  "dump",
	Usage: "Write every read-only mounted volume into a new container",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Save the container under this key"},
		&cli.StringSliceFlag{Name: "volume", Usage: "Dump the directory dir as a read-only volume instead of the host mounts (fstype:device:dir)"},
		&cli.StringSliceFlag{Name: "fs-type", Usage: "Filesystem types to dump"},
		&cli.IntFlag{Name: "chunk-size", Usage: "Largest block written for file content"},
		&cli.BoolFlag{Name: "item-count", Usage: "Append the item count after the container"},
		&cli.Int64Flag{Name: "rate", Usage: "Read at most this many bytes per second from the volumes"},
	},
	Action: func(c *cli.Context) error {
		if c.IsSet("fs-type") {
			config.Dump.FSTypes = c.StringSlice("fs-type")
		}
		if c.IsSet("chunk-size") {
			config.Dump.ChunkSize = c.Int("chunk-size")
		}
		if c.IsSet("item-count") {
			config.Dump.ItemCount = c.Bool("item-count")
		}
		if c.IsSet("rate") {
			config.Dump.Rate = c.Int64("rate")
		}
		if c.IsSet("key") {
			config.Output.Key = c.String("key")
		}

		var specs []fsvol.Spec
		var err error
		if c.IsSet("volume") {
			for _, v := range c.StringSlice("volume") {
				spec, err := parseVolume(v)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
		} else {
			specs, err = fsvol.HostMounts(mountinfo.FSTypeFilter(config.Dump.FSTypes...))
			if err != nil {
				return err
			}
		}
		return doDump(fsvol.New(specs...), config.Output.Location, config.Output.Key)
	},
}

// parseVolume turns "fstype:device:dir" into a read-only Spec serving dir.
// The directory may itself contain colons.
func parseVolume(s string) (fsvol.Spec, error) {
	v := strings.SplitN(s, ":", 3)
	if len(v) != 3 || v[0] == "" || v[2] == "" {
		return fsvol.Spec{}, errors.Errorf("bad volume %q, expected fstype:device:dir", s)
	}
	return fsvol.Spec{
		FSType:     v[0],
		Device:     v[1],
		Mountpoint: v[2],
		ReadOnly:   true,
		FS:         afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), v[2])),
	}, nil
}

// doDump writes a container of the volumes of m under key. A failed dump
// leaves no key behind.
func doDump(m *fsvol.Manager, location, key string) error {
	s, err := parselocation(location, "")
	if err != nil {
		return err
	}
	cat, err := openCatalog()
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}

	out, err := s.Create(key)
	if err != nil {
		return errors.Wrapf(err, "creating %s", key)
	}
	d := &dump.Writer{
		Volumes:   m,
		FSTypes:   config.Dump.FSTypes,
		ChunkSize: config.Dump.ChunkSize,
		ItemCount: config.Dump.ItemCount,
		Log:       logrus.WithField("key", key),
	}
	if config.Dump.Rate > 0 {
		d.Rate = util.NewRateCounter(config.Dump.Rate)
		defer d.Rate.Stop()
	}
	stats, err := d.Run(out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.Delete(key)
		return err
	}

	fmt.Printf("%s: %d partitions, %d items, %d bytes, sha256 %s\n",
		key, len(stats.Partitions), stats.Items, stats.Size, hex.EncodeToString(stats.SHA256))

	if cat == nil {
		return nil
	}
	run := catalog.Run{
		Key:     key,
		Created: stats.Finished,
		Size:    stats.Size,
		SHA256:  stats.SHA256,
		Items:   stats.Items,
	}
	for _, p := range stats.Partitions {
		run.Partitions = append(run.Partitions, catalog.Partition{
			FSType: p.FSType,
			Device: p.Device,
			Dirs:   p.Dirs,
			Files:  p.Files,
			Bytes:  p.Bytes,
		})
	}
	return cat.Record(run)
}
