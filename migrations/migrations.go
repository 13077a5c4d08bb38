// Package migrations provides the history repository a migration runner uses
// to find out which migrations have been applied to a list site and to guard
// against concurrent runs.
//
// The SQL scripts it returns are only descriptive; the site has no SQL
// endpoint. Applied migrations are kept as items of a history list, and the
// lock is a no-op because the site offers no locking primitive.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/sqlgen"
)

const (
	// TableName is the name of the history table, and of the list that holds
	// applied migrations.
	TableName = "__MigrationsHistory"

	// ProductVersion is recorded with every migration.
	ProductVersion = "jellypoint/1"
)

// LockReleaseBehavior says when a migration lock is released.
type LockReleaseBehavior int

const (
	// ReleaseOnConnectionClose locks are released when the connection closes.
	ReleaseOnConnectionClose LockReleaseBehavior = iota

	// ReleaseOnTransactionEnd locks are released with the transaction.
	ReleaseOnTransactionEnd

	// ReleaseExplicit locks are released by calling Release.
	ReleaseExplicit
)

func (b LockReleaseBehavior) String() string {
	switch b {
	case ReleaseOnConnectionClose:
		return "Connection"
	case ReleaseOnTransactionEnd:
		return "Transaction"
	case ReleaseExplicit:
		return "Explicit"
	default:
		return fmt.Sprintf("LockReleaseBehavior(%d)", int(b))
	}
}

// Lock is held while migrations are applied.
type Lock interface {
	// Release gives up the lock.
	Release(ctx context.Context) error

	// Repository returns the HistoryRepository the lock was acquired from.
	Repository() *HistoryRepository
}

// Row is one applied migration.
type Row struct {
	MigrationID    string `json:"MigrationId"`
	ProductVersion string `json:"ProductVersion"`
}

// HistoryRepository reads and writes migration history on a list site.
type HistoryRepository struct {
	client client.Client
	sql    sqlgen.Helper
	log    jellypoint.Logger
}

// New creates a HistoryRepository. c may be nil if only the script methods are
// used. If log is nil a no-op logger is used.
func New(c client.Client, log jellypoint.Logger) *HistoryRepository {
	if log == nil {
		log = jellypoint.NoOpLogger{}
	}
	return &HistoryRepository{client: c, log: log}
}

// TableName returns the name of the history table.
func (hr *HistoryRepository) TableName() string {
	return TableName
}

// TableSchema returns the schema of the history table, which is always empty.
func (hr *HistoryRepository) TableSchema() string {
	return ""
}

// LockReleaseBehavior returns ReleaseExplicit.
func (hr *HistoryRepository) LockReleaseBehavior() LockReleaseBehavior {
	return ReleaseExplicit
}

// ExistsSQL returns the statement that checks for the history table.
func (hr *HistoryRepository) ExistsSQL() string {
	return "SELECT OBJECT_ID(N'" + hr.sql.DelimitIdentifier(TableName) + "')"
}

// InterpretExistsResult returns whether the value produced by ExistsSQL means
// the table exists. Any non-nil value does.
func (hr *HistoryRepository) InterpretExistsResult(v interface{}) bool {
	return v != nil
}

// CreateScript returns the script that creates the history table.
func (hr *HistoryRepository) CreateScript() string {
	return "CREATE TABLE " + hr.sql.DelimitIdentifier(TableName) + " (\n" +
		"    [MigrationId] nvarchar(150) NOT NULL,\n" +
		"    [ProductVersion] nvarchar(32) NOT NULL,\n" +
		"    CONSTRAINT " + hr.sql.DelimitIdentifier("PK_"+TableName) + " PRIMARY KEY ([MigrationId])\n" +
		")" + sqlgen.StatementTerminator + "\n"
}

// CreateIfNotExistsScript returns the same script as CreateScript.
func (hr *HistoryRepository) CreateIfNotExistsScript() string {
	return hr.CreateScript()
}

// BeginIfExistsScript opens a block that runs only when the history table
// exists. The migration ID is not used.
func (hr *HistoryRepository) BeginIfExistsScript(migrationID string) string {
	return "IF OBJECT_ID(N'" + hr.sql.DelimitIdentifier(TableName) + "') IS NOT NULL"
}

// BeginIfNotExistsScript opens a block that runs only when the history table
// does not exist. The migration ID is not used.
func (hr *HistoryRepository) BeginIfNotExistsScript(migrationID string) string {
	return "IF OBJECT_ID(N'" + hr.sql.DelimitIdentifier(TableName) + "') IS NULL"
}

// EndIfScript closes a block opened by BeginIfExistsScript or
// BeginIfNotExistsScript. It is empty.
func (hr *HistoryRepository) EndIfScript() string {
	return ""
}

// InsertScript returns the statement that records row.
func (hr *HistoryRepository) InsertScript(row Row) string {
	return hr.sql.InsertStatement(TableName, []string{"MigrationId", "ProductVersion"}, []interface{}{row.MigrationID, row.ProductVersion})
}

// DeleteScript returns the statement that removes the record of a migration.
func (hr *HistoryRepository) DeleteScript(migrationID string) string {
	return "DELETE FROM " + hr.sql.DelimitIdentifier(TableName) + "\nWHERE [MigrationId] = " + hr.sql.StringLiteral(migrationID) + sqlgen.StatementTerminator
}

// AcquireLock returns a lock immediately. The lock excludes nothing; any
// number of callers may hold one at the same time, and Release does nothing.
func (hr *HistoryRepository) AcquireLock(ctx context.Context) (Lock, error) {
	hr.log.Event(jellypoint.MigrationLockAcquired, "migration lock acquired (no-op)")
	return noOpLock{repo: hr}, nil
}

type noOpLock struct {
	repo *HistoryRepository
}

func (l noOpLock) Release(ctx context.Context) error {
	return nil
}

func (l noOpLock) Repository() *HistoryRepository {
	return l.repo
}

// Exists returns whether the history list is present on the site.
func (hr *HistoryRepository) Exists(ctx context.Context) (bool, error) {
	if err := hr.requireClient(); err != nil {
		return false, err
	}

	_, err := hr.client.ExecuteQuery(ctx, "web/lists/getbytitle('"+client.EscapeDataString(TableName)+"')?$select=Title")
	if err != nil {
		if code, ok := jellypoint.StatusCode(err); ok && code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AppliedMigrations returns the recorded migrations ordered by ID. A missing
// history list is treated as no migrations.
func (hr *HistoryRepository) AppliedMigrations(ctx context.Context) ([]Row, error) {
	if err := hr.requireClient(); err != nil {
		return nil, err
	}

	doc, err := hr.client.GetListItems(ctx, TableName, client.ListQuery{
		Select:  "MigrationId,ProductVersion",
		OrderBy: "MigrationId",
	})
	if err != nil {
		if code, ok := jellypoint.StatusCode(err); ok && code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	items, err := doc.Results()
	if err != nil {
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	rows := make([]Row, 0, len(items))
	for i := range items {
		var r Row
		if err := items[i].Decode(&r); err != nil {
			return nil, fmt.Errorf("read migration history: item %d: %w", i, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// RecordMigration adds row to the history list. If row has no product version,
// ProductVersion is used.
func (hr *HistoryRepository) RecordMigration(ctx context.Context, row Row) error {
	if err := hr.requireClient(); err != nil {
		return err
	}
	if row.MigrationID == "" {
		return jellypoint.ConfigError("migration ID is required")
	}
	if row.ProductVersion == "" {
		row.ProductVersion = ProductVersion
	}

	doc, err := client.NewDocument(map[string]interface{}{
		"Title":          row.MigrationID,
		"MigrationId":    row.MigrationID,
		"ProductVersion": row.ProductVersion,
	})
	if err != nil {
		return err
	}

	if _, err := hr.client.CreateListItem(ctx, TableName, doc); err != nil {
		return fmt.Errorf("record migration %s: %w", row.MigrationID, err)
	}

	hr.log.Event(jellypoint.MigrationRecorded, "migration %s recorded", row.MigrationID)
	return nil
}

var errNoClient = errors.New("history repository has no client")

func (hr *HistoryRepository) requireClient() error {
	if hr.client == nil {
		return jellypoint.NewError("", errNoClient, jellypoint.ErrConfiguration)
	}
	return nil
}
