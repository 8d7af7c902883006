package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ndlib/obfw/catalog"
)

var catalogCommand = &cli.Command{
	Name:      "catalog",
	Usage:     "List the recorded dumps, or show one of them",
	ArgsUsage: "[key]",
	Action: func(c *cli.Context) error {
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		if cat == nil {
			return errors.New("no catalog configured, use --ql or --mysql")
		}
		defer cat.Close()
		if c.NArg() == 0 {
			runs, err := cat.List()
			if err != nil {
				return err
			}
			printRuns(os.Stdout, runs)
			return nil
		}
		run, err := cat.Lookup(c.Args().First())
		if err != nil {
			return err
		}
		printRun(os.Stdout, run)
		return nil
	},
}

func printRuns(w io.Writer, runs []catalog.Run) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", r.Key, r.Created.Format(time.RFC3339), r.Size, r.Items)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *catalog.Run) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "Key:\t%s\n", r.Key)
	fmt.Fprintf(tw, "Created:\t%s\n", r.Created.Format(time.RFC3339))
	fmt.Fprintf(tw, "Size:\t%d\n", r.Size)
	fmt.Fprintf(tw, "SHA256:\t%s\n", hex.EncodeToString(r.SHA256))
	fmt.Fprintf(tw, "Items:\t%d\n", r.Items)
	for i, p := range r.Partitions {
		fmt.Fprintf(tw, "Partition %d:\t%s %s\t%d dirs\t%d files\t%d bytes\n",
			i, p.FSType, p.Device, p.Dirs, p.Files, p.Bytes)
	}
	tw.Flush()
}
