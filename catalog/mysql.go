package catalog

import (
	"database/sql"

	"github.com/BurntSushi/migration"
	"github.com/go-sql-driver/mysql"
)

// msqlCatalog keeps the catalog in MySQL.
type msqlCatalog struct {
	db *sql.DB
}

var _ Catalog = &msqlCatalog{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysql connects to the MySQL database given by the DSN dial, bringing
// its schema up to date. Time columns are always parsed, whatever dial says.
func NewMysql(dial string) (Catalog, error) {
	cfg, err := mysql.ParseDSN(dial)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	db, err := migration.OpenWith(
		"mysql",
		cfg.FormatDSN(),
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.WithError(err).Errorln("open MySQL")
		return nil, err
	}
	return &msqlCatalog{db: db}, nil
}

func (ms *msqlCatalog) Record(r Run) error {
	const stmt = `
		INSERT INTO runs (name, created, size, sha256, items, partitions)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			created = VALUES(created), size = VALUES(size),
			sha256 = VALUES(sha256), items = VALUES(items),
			partitions = VALUES(partitions)`

	w, err := toRow(r)
	if err != nil {
		return err
	}
	_, err = ms.db.Exec(stmt, w.key, w.created, w.size, w.sha256, w.items, w.partitions)
	return err
}

func (ms *msqlCatalog) Lookup(key string) (*Run, error) {
	const query = `
		SELECT name, created, size, sha256, items, partitions
		FROM runs
		WHERE name = ?
		LIMIT 1`
	return lookup(ms.db, query, key)
}

func (ms *msqlCatalog) List() ([]Run, error) {
	const query = `
		SELECT name, created, size, sha256, items, partitions
		FROM runs
		ORDER BY created DESC`
	rows, err := ms.db.Query(query)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func (ms *msqlCatalog) Close() error {
	return ms.db.Close()
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS runs (
		id int PRIMARY KEY AUTO_INCREMENT,
		name varchar(255),
		created datetime(6),
		size bigint,
		sha256 char(64),
		items bigint,
		partitions longtext,
		UNIQUE INDEX runs_name (name),
		INDEX runs_created (created))`,
	}
	return execlist(tx, s)
}
