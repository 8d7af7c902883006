// Package catalog keeps a record of every dump that was written: where it
// went, how large it was, its checksum, and what each partition held.
//
// Two backends exist. QL is an embedded database good for a single machine
// or for tests, and MySQL is for a shared catalog.
package catalog

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Run describes one finished dump.
type Run struct {
	Key        string // the store key the container was saved under
	Created    time.Time
	Size       int64
	SHA256     []byte
	Items      uint32
	Partitions []Partition
}

// Partition summarizes one dumped volume.
type Partition struct {
	FSType string `json:"fs"`
	Device string `json:"device"`
	Dirs   int    `json:"dirs"`
	Files  int    `json:"files"`
	Bytes  int64  `json:"bytes"`
}

// Catalog is the interface both backends provide.
type Catalog interface {
	// Record saves r, replacing any earlier run with the same key.
	Record(r Run) error

	// Lookup returns the run saved under key, or ErrNotFound.
	Lookup(key string) (*Run, error)

	// List returns every run, newest first.
	List() ([]Run, error)

	Close() error
}

// ErrNotFound is returned by Lookup for an unknown key.
var ErrNotFound = errors.New("no such dump")

var log = logrus.WithField("module", "catalog")

// row is a Run as stored: checksum in hex, partitions as JSON.
type row struct {
	key        string
	created    time.Time
	size       int64
	sha256     string
	items      int64
	partitions string
}

func toRow(r Run) (row, error) {
	parts, err := json.Marshal(r.Partitions)
	if err != nil {
		return row{}, err
	}
	return row{
		key:        r.Key,
		created:    r.Created,
		size:       r.Size,
		sha256:     hex.EncodeToString(r.SHA256),
		items:      int64(r.Items),
		partitions: string(parts),
	}, nil
}

func (w row) run() (Run, error) {
	r := Run{
		Key:     w.key,
		Created: w.created,
		Size:    w.size,
		Items:   uint32(w.items),
	}
	var err error
	r.SHA256, err = hex.DecodeString(w.sha256)
	if err != nil {
		return r, errors.Wrapf(err, "checksum of %s", w.key)
	}
	if w.partitions != "" {
		err = json.Unmarshal([]byte(w.partitions), &r.Partitions)
	}
	return r, errors.Wrapf(err, "partitions of %s", w.key)
}

// scanRuns reads every row of rows, which must select the columns of row
// in order.
func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var result []Run
	for rows.Next() {
		var w row
		err := rows.Scan(&w.key, &w.created, &w.size, &w.sha256, &w.items, &w.partitions)
		if err != nil {
			return nil, err
		}
		r, err := w.run()
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// lookup returns the single run selected by query.
func lookup(db *sql.DB, query, key string) (*Run, error) {
	rows, err := db.Query(query, key)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return &runs[0], nil
}

// we need to adapt the migration version functions to work with MySQL and QL
// This code is slightly modified from github.com/BurntSushi/migration

type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new
	// version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	var version int
	if err := tx.QueryRow(d.GetSQL).Scan(&version); err != nil {
		// we assume error means there is no migration table
		log.WithError(err).Debugln("no schema version")
		return 0, nil
	}
	return version, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if _, err := tx.Exec(d.SetSQL, version); err == nil {
		return nil
	}
	if _, err := tx.Exec(d.CreateSQL); err != nil {
		return err
	}
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around drivers not handling compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	for _, s := range stms {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
