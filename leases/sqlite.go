package leases

import (
	"context"
	"database/sql"
	"os"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite" // Registers the "sqlite" database/sql driver.
)

// The table layout is described in schema.sql at the repository root.
const sqliteLookupQuery = `
SELECT address, routers, nameservers, prefixlen, leasetime
FROM leases
WHERE hwaddr = ? COLLATE NOCASE;`

// SQLiteStore reads leases from the "leases" table of an sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	lookup *sql.Stmt
}

var _ Store = &SQLiteStore{}

// OpenSQLite opens the lease database at path (read-only).
//
// The database must already exist and contain the leases table.
func OpenSQLite(path string) (*SQLiteStore, error) {
	_, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open lease database %s", path)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open lease database %s", path)
	}
	db.SetMaxOpenConns(1) // Requests are served one at a time.

	lookup, err := db.Prepare(sqliteLookupQuery)
	if err == nil {
		err = checkLeasesTable(lookup)
	}
	if err != nil {
		if lookup != nil {
			lookup.Close()
		}
		db.Close()

		return nil, errors.Wrapf(err, "lease database %s has no usable leases table", path)
	}

	return &SQLiteStore{
		db:     db,
		lookup: lookup,
	}, nil
}

// Preparing a statement does not touch the schema, so run the lookup once to
// make a missing table or column a startup failure.
func checkLeasesTable(lookup *sql.Stmt) error {
	var (
		address     sql.NullString
		routers     sql.NullString
		nameservers sql.NullString
		prefixLen   sql.NullInt64
		leaseTime   sql.NullInt64
	)

	err := lookup.QueryRow("").Scan(&address, &routers, &nameservers, &prefixLen, &leaseTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}

	return err
}

// Lookup implements Store.
func (store *SQLiteStore) Lookup(ctx context.Context, hardwareAddress string) (RawRecord, bool, error) {
	var (
		address     sql.NullString
		routers     sql.NullString
		nameservers sql.NullString
		prefixLen   sql.NullInt64
		leaseTime   sql.NullInt64
	)

	err := store.lookup.QueryRowContext(ctx, hardwareAddress).Scan(&address, &routers, &nameservers, &prefixLen, &leaseTime)
	if errors.Is(err, sql.ErrNoRows) {
		return RawRecord{}, false, nil
	}
	if err != nil {
		return RawRecord{}, false, errors.Wrap(err, "sqlite")
	}

	return RawRecord{
		Address:      address.String,
		Routers:      routers.String,
		Nameservers:  nameservers.String,
		PrefixLength: nullInt(prefixLen),
		LeaseTime:    nullInt(leaseTime),
	}, true, nil
}

// nullInt maps NULL to -1, which no integer lease field accepts. NULL text
// columns become empty strings and are rejected the same way.
func nullInt(value sql.NullInt64) int64 {
	if !value.Valid {
		return -1
	}

	return value.Int64
}

// Close implements Store.
func (store *SQLiteStore) Close() error {
	store.lookup.Close()

	return store.db.Close()
}
