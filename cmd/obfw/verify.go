package main

import (
	"fmt"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ndlib/obfw/catalog"
	"github.com/ndlib/obfw/obf"
	"github.com/ndlib/obfw/store"
	"github.com/ndlib/obfw/util"
)

var errChecksumMismatch = errors.New("checksum mismatch")

var verifyCommand = &cli.Command{
	Name:      "verify",
	Usage:     "Read a container through, checking it against the catalog if there is one",
	ArgsUsage: "<key>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("verify needs a key")
		}
		s, err := parselocation(config.Output.Location, "")
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
		entries, err := verify(s, cat, c.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("%s: ok, %d entries\n", c.Args().First(), entries)
		return nil
	},
}

// verify compares the size and checksum of the container under key with
// its catalog record, when cat is not nil, and then decodes all of it. It
// returns the number of partition entries read.
func verify(s store.ROStore, cat catalog.Catalog, key string) (int, error) {
	rac, size, err := s.Open(key)
	if err != nil {
		return 0, err
	}
	defer rac.Close()

	if cat != nil {
		run, err := cat.Lookup(key)
		if err != nil {
			return 0, err
		}
		if run.Size != size {
			return 0, errors.Wrapf(errChecksumMismatch, "%s is %d bytes, catalog has %d", key, size, run.Size)
		}
		ok, err := util.VerifyStreamHash(store.NewReader(rac, size), run.SHA256)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errors.Wrap(errChecksumMismatch, key)
		}
	}

	r, err := obf.Open(store.NewReader(rac, size))
	if err != nil {
		return 0, errors.Wrap(err, key)
	}
	var count int
	for {
		p, err := r.Next()
		if err == io.EOF {
			return count, nil
		} else if err != nil {
			return count, errors.Wrap(err, key)
		}
		for {
			e, err := p.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return count, errors.Wrap(err, key)
			}
			if _, err := io.Copy(ioutil.Discard, e); err != nil {
				return count, errors.Wrapf(err, "%s: %s", key, e.Path)
			}
			count++
		}
	}
}
