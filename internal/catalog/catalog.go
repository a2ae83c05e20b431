package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/pkg/types"
)

const timeLayout = time.RFC3339Nano

// PartitionRecord is one persisted boundary.
type PartitionRecord struct {
	ID        types.PartitionID
	LowerYear int
	CreatedAt time.Time
}

// SQLiteCatalog persists store state in a SQLite database: a single writer
// connection and a small read pool, both in WAL mode.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

// Open opens or creates the catalog at dbPath.
func Open(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// the read pool opens after the schema exists so read-only connections
	// never race its creation
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	c.readDB = readDB

	return c, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	_, err := c.db.Exec(`INSERT OR IGNORE INTO schema_versions (version, applied_at) VALUES (?, ?)`,
		SchemaVersion, time.Now().UnixNano())
	return err
}

// Path returns the database file path.
func (c *SQLiteCatalog) Path() string {
	return c.dbPath
}

// Close closes both connections.
func (c *SQLiteCatalog) Close() error {
	var firstErr error
	if c.readDB != nil {
		firstErr = c.readDB.Close()
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func persistErr(what string, err error) error {
	return errors.NewCatalogError(errors.CodePersistFailed, "catalog: "+what, err)
}

func loadErr(what string, err error) error {
	return errors.NewCatalogError(errors.CodeLoadFailed, "catalog: "+what, err)
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return stderrors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// exec runs one write statement under the writer lock.
func (c *SQLiteCatalog) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.ExecContext(ctx, query, args...)
}

// SavePartition records a boundary.
func (c *SQLiteCatalog) SavePartition(ctx context.Context, id types.PartitionID, year int) error {
	_, err := c.exec(ctx, `INSERT INTO partitions (partition_id, lower_year, created_at) VALUES (?, ?, ?)`,
		int64(id), year, time.Now().UnixNano())
	if isConstraint(err) {
		return errors.NewConflict(errors.ErrCategoryCatalog,
			fmt.Sprintf("partition boundary %d already persisted", year),
			map[string]interface{}{errors.DetailPartition: id})
	}
	if err != nil {
		return persistErr("save partition", err)
	}
	return nil
}

// LoadPartitions returns the persisted boundaries ordered by id, which is
// the order they were added.
func (c *SQLiteCatalog) LoadPartitions(ctx context.Context) ([]PartitionRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `SELECT partition_id, lower_year, created_at FROM partitions ORDER BY partition_id`)
	if err != nil {
		return nil, loadErr("load partitions", err)
	}
	defer rows.Close()

	var out []PartitionRecord
	for rows.Next() {
		var id, created int64
		var year int
		if err := rows.Scan(&id, &year, &created); err != nil {
			return nil, loadErr("scan partition", err)
		}
		out = append(out, PartitionRecord{ID: types.PartitionID(id), LowerYear: year, CreatedAt: time.Unix(0, created).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, loadErr("load partitions", err)
	}
	return out, nil
}

// SaveIndexDefinition records a store-wide index definition. Saving an
// existing tuple again is a no-op.
func (c *SQLiteCatalog) SaveIndexDefinition(ctx context.Context, def index.Definition) error {
	auto := 0
	if def.Auto {
		auto = 1
	}
	_, err := c.exec(ctx, `INSERT OR IGNORE INTO index_definitions (fields, auto, created_at) VALUES (?, ?, ?)`,
		def.Fields.String(), auto, time.Now().UnixNano())
	if err != nil {
		return persistErr("save index definition", err)
	}
	return nil
}

// DeleteIndexDefinition removes a definition.
func (c *SQLiteCatalog) DeleteIndexDefinition(ctx context.Context, fields types.Fields) error {
	if _, err := c.exec(ctx, `DELETE FROM index_definitions WHERE fields = ?`, fields.String()); err != nil {
		return persistErr("delete index definition", err)
	}
	return nil
}

// LoadIndexDefinitions returns every definition in creation order.
func (c *SQLiteCatalog) LoadIndexDefinitions(ctx context.Context) ([]index.Definition, error) {
	rows, err := c.readDB.QueryContext(ctx, `SELECT fields, auto FROM index_definitions ORDER BY created_at, fields`)
	if err != nil {
		return nil, loadErr("load index definitions", err)
	}
	defer rows.Close()

	var out []index.Definition
	for rows.Next() {
		var raw string
		var auto int
		if err := rows.Scan(&raw, &auto); err != nil {
			return nil, loadErr("scan index definition", err)
		}
		fields, err := types.ParseFields(raw)
		if err != nil {
			log.Printf("catalog: skipping unreadable index definition %q: %v", raw, err)
			continue
		}
		out = append(out, index.Definition{Fields: fields, Auto: auto != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, loadErr("load index definitions", err)
	}
	return out, nil
}

func encodeAttributes(attrs map[string]interface{}) ([]byte, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeAttributes(blob []byte) (map[string]interface{}, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, err
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// InsertBooking persists a new booking routed to pid. A duplicate id is a
// Conflict.
func (c *SQLiteCatalog) InsertBooking(ctx context.Context, pid types.PartitionID, b *types.Booking) error {
	attrs, err := encodeAttributes(b.Attributes)
	if err != nil {
		return persistErr("encode attributes", err)
	}
	_, err = c.exec(ctx, `
		INSERT INTO bookings (
			id, partition_id, subject_id, resource_id,
			range_start, range_end, amount, status, created_at, attributes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, int64(pid), b.SubjectID, b.ResourceID,
		b.RangeStart.UTC().Format(timeLayout), b.RangeEnd.UTC().Format(timeLayout),
		b.Amount.String(), string(b.Status), b.CreatedAt.UnixNano(), attrs)
	if isConstraint(err) {
		return errors.NewConflict(errors.ErrCategoryIngest,
			fmt.Sprintf("record %s already exists", b.ID),
			map[string]interface{}{errors.DetailRecordID: b.ID})
	}
	if err != nil {
		return persistErr("insert booking", err)
	}
	return nil
}

// UpdateStatus persists a status transition.
func (c *SQLiteCatalog) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	res, err := c.exec(ctx, `UPDATE bookings SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return persistErr("update status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound(errors.ErrCategoryCatalog, fmt.Sprintf("record %s not persisted", id))
	}
	return nil
}

// DeleteBooking removes a booking.
func (c *SQLiteCatalog) DeleteBooking(ctx context.Context, id string) error {
	if _, err := c.exec(ctx, `DELETE FROM bookings WHERE id = ?`, id); err != nil {
		return persistErr("delete booking", err)
	}
	return nil
}

// LoadBookings streams every booking with its partition, in insertion
// order, until fn returns an error.
func (c *SQLiteCatalog) LoadBookings(ctx context.Context, fn func(pid types.PartitionID, b types.Booking) error) error {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT id, partition_id, subject_id, resource_id,
			range_start, range_end, amount, status, created_at, attributes
		FROM bookings ORDER BY created_at, id`)
	if err != nil {
		return loadErr("load bookings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b                  types.Booking
			pid, created       int64
			start, end, amount string
			status             string
			attrs              []byte
		)
		if err := rows.Scan(&b.ID, &pid, &b.SubjectID, &b.ResourceID,
			&start, &end, &amount, &status, &created, &attrs); err != nil {
			return loadErr("scan booking", err)
		}
		if b.RangeStart, err = time.Parse(timeLayout, start); err != nil {
			return loadErr("booking "+b.ID+" range_start", err)
		}
		if b.RangeEnd, err = time.Parse(timeLayout, end); err != nil {
			return loadErr("booking "+b.ID+" range_end", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return loadErr("booking "+b.ID+" amount", err)
		}
		if b.Attributes, err = decodeAttributes(attrs); err != nil {
			return loadErr("booking "+b.ID+" attributes", err)
		}
		b.Status = types.Status(status)
		b.CreatedAt = time.Unix(0, created).UTC()

		if err := fn(types.PartitionID(pid), b); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return loadErr("load bookings", err)
	}
	return nil
}

// CountBookings returns the number of persisted bookings.
func (c *SQLiteCatalog) CountBookings(ctx context.Context) (int64, error) {
	var n int64
	if err := c.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`).Scan(&n); err != nil {
		return 0, loadErr("count bookings", err)
	}
	return n, nil
}

// AppendRating appends to the rating log.
func (c *SQLiteCatalog) AppendRating(ctx context.Context, resourceID string, value float64) error {
	_, err := c.exec(ctx, `INSERT INTO ratings (resource_id, value, created_at) VALUES (?, ?, ?)`,
		resourceID, value, time.Now().UnixNano())
	if err != nil {
		return persistErr("append rating", err)
	}
	return nil
}

// LoadRatings streams the rating log in append order.
func (c *SQLiteCatalog) LoadRatings(ctx context.Context, fn func(resourceID string, value float64) error) error {
	rows, err := c.readDB.QueryContext(ctx, `SELECT resource_id, value FROM ratings ORDER BY seq`)
	if err != nil {
		return loadErr("load ratings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var resourceID string
		var value float64
		if err := rows.Scan(&resourceID, &value); err != nil {
			return loadErr("scan rating", err)
		}
		if err := fn(resourceID, value); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return loadErr("load ratings", err)
	}
	return nil
}
