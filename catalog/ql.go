package catalog

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "github.com/cznic/ql/driver"
)

// qlCatalog keeps the catalog in the QL embedded database.
type qlCatalog struct {
	db *sql.DB
}

var _ Catalog = &qlCatalog{}

const qlInit = `
	CREATE TABLE IF NOT EXISTS runs (
		name string,
		created time,
		size int64,
		sha256 string,
		items int64,
		partitions string
	);
	CREATE INDEX IF NOT EXISTS runname ON runs (name);
	CREATE INDEX IF NOT EXISTS runcreated ON runs (created);
`

var memCount int64

// NewQl opens a QL catalog saved in filename. The filename "memory" keeps
// everything in memory; each such catalog is separate.
func NewQl(filename string) (Catalog, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		n := atomic.AddInt64(&memCount, 1)
		db, err = sql.Open("ql-mem", fmt.Sprintf("catalog%d.db", n))
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlInit)
	}
	if err != nil {
		log.WithError(err).Errorln("open QL")
		return nil, err
	}
	return &qlCatalog{db: db}, nil
}

func (qc *qlCatalog) Record(r Run) error {
	const dbUpdate = `UPDATE runs SET created = ?2, size = ?3, sha256 = ?4, items = ?5, partitions = ?6 WHERE name == ?1`
	const dbInsert = `INSERT INTO runs VALUES (?1, ?2, ?3, ?4, ?5, ?6)`

	w, err := toRow(r)
	if err != nil {
		return err
	}
	result, err := performExec(qc.db, dbUpdate, w.key, w.created, w.size, w.sha256, w.items, w.partitions)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// record didn't exist. create it
		_, err = performExec(qc.db, dbInsert, w.key, w.created, w.size, w.sha256, w.items, w.partitions)
	}
	return err
}

func (qc *qlCatalog) Lookup(key string) (*Run, error) {
	const query = `
		SELECT name, created, size, sha256, items, partitions
		FROM runs
		WHERE name == ?1
		LIMIT 1`
	return lookup(qc.db, query, key)
}

func (qc *qlCatalog) List() ([]Run, error) {
	const query = `
		SELECT name, created, size, sha256, items, partitions
		FROM runs
		ORDER BY created DESC`
	rows, err := qc.db.Query(query)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func (qc *qlCatalog) Close() error {
	return qc.db.Close()
}

// performExec runs query in its own transaction. QL requires one for every
// statement that modifies the database.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return result, tx.Commit()
}
