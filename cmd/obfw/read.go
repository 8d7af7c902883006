package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ndlib/obfw/client"
	"github.com/ndlib/obfw/obf"
	"github.com/ndlib/obfw/store"
)

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "List the containers, or the contents of one container",
	ArgsUsage: "[key]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "count", Usage: "Also print the item count trailer"},
	},
	Action: func(c *cli.Context) error {
		if host := c.String("server"); host != "" {
			return remoteList(os.Stdout, &client.Connection{HostURL: host}, c.Args().First())
		}
		s, err := parselocation(config.Output.Location, "")
		if err != nil {
			return err
		}
		if c.NArg() == 0 {
			for key := range s.List() {
				fmt.Println(key)
			}
			return nil
		}
		return list(os.Stdout, s, c.Args().First(), c.Bool("count"))
	},
}

var extractCommand = &cli.Command{
	Name:      "extract",
	Usage:     "Copy one file out of a container",
	ArgsUsage: "<key> <partition> <path>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to this file instead of stdout"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 3 {
			return errors.New("extract needs a key, a partition number and a path")
		}
		part, err := strconv.Atoi(c.Args().Get(1))
		if err != nil {
			return errors.Wrap(err, "partition number")
		}
		var out io.Writer = os.Stdout
		if name := c.String("output"); name != "" {
			f, err := os.Create(name)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		key, path := c.Args().Get(0), c.Args().Get(2)
		if host := c.String("server"); host != "" {
			conn := &client.Connection{HostURL: host}
			_, err = conn.Download(out, key, part, path)
			return err
		}
		s, err := parselocation(config.Output.Location, "")
		if err != nil {
			return err
		}
		_, err = extract(out, s, key, part, path)
		return err
	},
}

func openContainer(s store.ROStore, key string) (*obf.Reader, *io.SectionReader, io.Closer, error) {
	rac, size, err := s.Open(key)
	if err != nil {
		return nil, nil, nil, err
	}
	sr := store.NewReader(rac, size)
	r, err := obf.Open(sr)
	if err != nil {
		rac.Close()
		return nil, nil, nil, errors.Wrap(err, key)
	}
	return r, sr, rac, nil
}

// list prints every partition and entry of the container under key.
func list(w io.Writer, s store.ROStore, key string, count bool) error {
	r, sr, closer, err := openContainer(s, key)
	if err != nil {
		return err
	}
	defer closer.Close()

	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	defer tw.Flush()
	for i := 0; ; i++ {
		p, err := r.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		fmt.Fprintf(tw, "Partition %d\t%s\t%s\n", i, p.FSType, p.Device)
		for {
			e, err := p.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			n, err := io.Copy(ioutil.Discard, e)
			if err != nil {
				return err
			}
			if e.Kind == obf.Directory {
				fmt.Fprintf(tw, "\t%s/\t\n", e.Path)
			} else {
				fmt.Fprintf(tw, "\t%s\t%d\n", e.Path, n)
			}
		}
	}
	if count {
		n, err := obf.ReadItemCount(sr)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "Items\t%d\t\n", n)
	}
	return nil
}

// extract copies the file at path in partition part to w.
func extract(w io.Writer, s store.ROStore, key string, part int, path string) (int64, error) {
	r, _, closer, err := openContainer(s, key)
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	for i := 0; ; i++ {
		p, err := r.Next()
		if err == io.EOF {
			return 0, errors.Errorf("%s has no partition %d", key, part)
		} else if err != nil {
			return 0, err
		}
		if i < part {
			continue
		}
		for {
			e, err := p.Next()
			if err == io.EOF {
				return 0, errors.Errorf("%s: no file %q in partition %d", key, path, part)
			} else if err != nil {
				return 0, err
			}
			if e.Path != path {
				continue
			}
			if e.Kind == obf.Directory {
				return 0, errors.Errorf("%s: %q is a directory", key, path)
			}
			return io.Copy(w, e)
		}
	}
}

// remoteList prints the containers on a server, or the contents of the
// container key.
func remoteList(w io.Writer, conn *client.Connection, key string) error {
	if key == "" {
		keys, err := conn.Containers("")
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(w, k)
		}
		return nil
	}
	l, err := conn.Container(key)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	defer tw.Flush()
	for _, p := range l.Partitions {
		fmt.Fprintf(tw, "Partition %d\t%s\t%s\n", p.Index, p.FSType, p.Device)
		for _, e := range p.Entries {
			if e.Type == "directory" {
				fmt.Fprintf(tw, "\t%s/\t\n", e.Path)
			} else {
				fmt.Fprintf(tw, "\t%s\t%d\n", e.Path, e.Size)
			}
		}
	}
	return nil
}
