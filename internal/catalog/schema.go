// Package catalog persists the store's state in SQLite: partition
// boundaries, index definitions, bookings and the rating log. The in-memory
// engine writes through it before applying a change and rebuilds itself from
// it at startup.
package catalog

// SchemaVersion is the catalog schema version recorded in schema_versions.
const SchemaVersion = 1

// CreatePartitionsTableSQL stores one row per defined boundary. The
// fallback partition is implicit.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS partitions (
    partition_id INTEGER PRIMARY KEY,
    lower_year INTEGER NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
)`

// CreateIndexDefinitionsTableSQL stores store-wide composite index
// definitions by canonical field tuple.
const CreateIndexDefinitionsTableSQL = `
CREATE TABLE IF NOT EXISTS index_definitions (
    fields TEXT PRIMARY KEY,
    auto INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`

// CreateBookingsTableSQL stores bookings with the partition they were routed
// to, so a restart keeps records where they were even if boundaries were
// added later. Amounts are decimal strings; attributes are snappy
// compressed JSON.
const CreateBookingsTableSQL = `
CREATE TABLE IF NOT EXISTS bookings (
    id TEXT PRIMARY KEY,
    partition_id INTEGER NOT NULL,
    subject_id TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    range_start TEXT NOT NULL,
    range_end TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    attributes BLOB
)`

// CreateRatingsTableSQL is the append-only rating log. seq preserves the
// order ratings were folded into the running average.
const CreateRatingsTableSQL = `
CREATE TABLE IF NOT EXISTS ratings (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_id TEXT NOT NULL,
    value REAL NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateSchemaVersionsTableSQL tracks schema evolution.
const CreateSchemaVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`

// CreateIndexesSQL creates secondary indexes used by bootstrap and the
// admin surfaces.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_bookings_created ON bookings(created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_partition ON bookings(partition_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ratings_resource ON ratings(resource_id, seq)`,
}

// AllSchemaSQL returns all schema statements in execution order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateSchemaVersionsTableSQL,
		CreatePartitionsTableSQL,
		CreateIndexDefinitionsTableSQL,
		CreateBookingsTableSQL,
		CreateRatingsTableSQL,
	}
	return append(stmts, CreateIndexesSQL...)
}
