// Package sqlite provides a list Store kept in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/google/uuid"
	"modernc.org/sqlite"
)

// Store is a store.Store backed by SQLite. Its zero-value should not be used;
// call Open to get a Store ready for use.
type Store struct {
	db       *sql.DB
	filename string
	closed   atomic.Bool

	// Now defaults to time.Now. Set in tests.
	Now func() time.Time
}

// Open opens the database in file, creating it and its tables if needed.
func Open(file string) (*Store, error) {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, wrapDBError(err)
	}

	// writes take the next ID from the list row, so they must not interleave
	db.SetMaxOpenConns(1)

	st := &Store{db: db, filename: file}
	if err := st.init(); err != nil {
		db.Close()
		return nil, err
	}

	return st, nil
}

func (st *Store) init() error {
	_, err := st.db.Exec(`CREATE TABLE IF NOT EXISTS lists (
		title_key TEXT NOT NULL PRIMARY KEY,
		title TEXT NOT NULL,
		guid TEXT NOT NULL UNIQUE,
		created INTEGER NOT NULL,
		next_id INTEGER NOT NULL
	);`)
	if err != nil {
		return wrapDBError(err)
	}

	_, err = st.db.Exec(`CREATE TABLE IF NOT EXISTS items (
		list_key TEXT NOT NULL REFERENCES lists(title_key),
		id INTEGER NOT NULL,
		version INTEGER NOT NULL,
		created INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (list_key, id)
	);`)
	if err != nil {
		return wrapDBError(err)
	}

	return nil
}

func (st *Store) Lists(ctx context.Context) ([]store.List, error) {
	if st.closed.Load() {
		return nil, store.ErrClosed
	}

	rows, err := st.db.QueryContext(ctx, `SELECT l.title, l.guid, l.created, l.next_id,
		(SELECT COUNT(*) FROM items i WHERE i.list_key = l.title_key)
		FROM lists l ORDER BY l.title_key;`)
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer rows.Close()

	all := []store.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err)
	}

	return all, nil
}

func (st *Store) GetList(ctx context.Context, title string) (store.List, error) {
	if st.closed.Load() {
		return store.List{}, store.ErrClosed
	}

	row := st.db.QueryRowContext(ctx, `SELECT l.title, l.guid, l.created, l.next_id,
		(SELECT COUNT(*) FROM items i WHERE i.list_key = l.title_key)
		FROM lists l WHERE l.title_key = ?;`, store.NormalizeTitle(title))

	l, err := scanList(row)
	if errors.Is(err, store.ErrNotFound) {
		return store.List{}, fmt.Errorf("%w: list %q", store.ErrNotFound, title)
	}
	return l, err
}

func (st *Store) CreateList(ctx context.Context, title string) (store.List, error) {
	if st.closed.Load() {
		return store.List{}, store.ErrClosed
	}

	newUUID, err := uuid.NewRandom()
	if err != nil {
		return store.List{}, fmt.Errorf("could not generate ID: %w", err)
	}

	_, err = st.db.ExecContext(ctx, `INSERT INTO lists (title_key, title, guid, created, next_id) VALUES (?, ?, ?, ?, 1);`,
		store.NormalizeTitle(title),
		strings.TrimSpace(title),
		newUUID.String(),
		st.now().UnixNano(),
	)
	if err != nil {
		err = wrapDBError(err)
		if errors.Is(err, store.ErrConstraintViolation) {
			return store.List{}, fmt.Errorf("%w: list %q already exists", store.ErrConstraintViolation, title)
		}
		return store.List{}, err
	}

	return st.GetList(ctx, title)
}

func (st *Store) Items(ctx context.Context, list string) ([]store.Item, error) {
	if _, err := st.GetList(ctx, list); err != nil {
		return nil, err
	}

	rows, err := st.db.QueryContext(ctx, `SELECT id, version, created, modified, data FROM items WHERE list_key = ? ORDER BY id;`, store.NormalizeTitle(list))
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer rows.Close()

	all := []store.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err)
	}

	return all, nil
}

func (st *Store) GetItem(ctx context.Context, list string, id int) (store.Item, error) {
	if _, err := st.GetList(ctx, list); err != nil {
		return store.Item{}, err
	}
	return st.getItem(ctx, st.db, list, id)
}

func (st *Store) CreateItem(ctx context.Context, list string, fields map[string]interface{}) (store.Item, error) {
	if st.closed.Load() {
		return store.Item{}, store.ErrClosed
	}

	data, err := store.EncodeFields(fields)
	if err != nil {
		return store.Item{}, err
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Item{}, wrapDBError(err)
	}
	defer tx.Rollback()

	key := store.NormalizeTitle(list)

	var id int
	err = tx.QueryRowContext(ctx, `SELECT next_id FROM lists WHERE title_key = ?;`, key).Scan(&id)
	if err != nil {
		err = wrapDBError(err)
		if errors.Is(err, store.ErrNotFound) {
			return store.Item{}, fmt.Errorf("%w: list %q", store.ErrNotFound, list)
		}
		return store.Item{}, err
	}

	now := st.now().UnixNano()
	_, err = tx.ExecContext(ctx, `INSERT INTO items (list_key, id, version, created, modified, data) VALUES (?, ?, 1, ?, ?, ?);`,
		key, id, now, now, data,
	)
	if err != nil {
		return store.Item{}, wrapDBError(err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE lists SET next_id = ? WHERE title_key = ?;`, id+1, key)
	if err != nil {
		return store.Item{}, wrapDBError(err)
	}

	it, err := st.getItem(ctx, tx, list, id)
	if err != nil {
		return store.Item{}, err
	}

	if err := tx.Commit(); err != nil {
		return store.Item{}, wrapDBError(err)
	}
	return it, nil
}

func (st *Store) UpdateItem(ctx context.Context, list string, id int, fields map[string]interface{}) (store.Item, error) {
	if _, err := st.GetList(ctx, list); err != nil {
		return store.Item{}, err
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Item{}, wrapDBError(err)
	}
	defer tx.Rollback()

	cur, err := st.getItem(ctx, tx, list, id)
	if err != nil {
		return store.Item{}, err
	}

	data, err := store.EncodeFields(store.MergeFields(cur.Fields, fields))
	if err != nil {
		return store.Item{}, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE items SET version = version + 1, modified = ?, data = ? WHERE list_key = ? AND id = ?;`,
		st.now().UnixNano(), data, store.NormalizeTitle(list), id,
	)
	if err != nil {
		return store.Item{}, wrapDBError(err)
	}

	it, err := st.getItem(ctx, tx, list, id)
	if err != nil {
		return store.Item{}, err
	}

	if err := tx.Commit(); err != nil {
		return store.Item{}, wrapDBError(err)
	}
	return it, nil
}

func (st *Store) DeleteItem(ctx context.Context, list string, id int) error {
	if _, err := st.GetList(ctx, list); err != nil {
		return err
	}

	res, err := st.db.ExecContext(ctx, `DELETE FROM items WHERE list_key = ? AND id = ?;`, store.NormalizeTitle(list), id)
	if err != nil {
		return wrapDBError(err)
	}
	rowsAff, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(err)
	}
	if rowsAff < 1 {
		return fmt.Errorf("%w: item %d", store.ErrNotFound, id)
	}

	return nil
}

// Close closes the database. Calling Close on a closed Store has no effect.
func (st *Store) Close() error {
	if st.closed.Swap(true) {
		return nil
	}

	if err := st.db.Close(); err != nil {
		return fmt.Errorf("%s: %w", st.filename, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (st *Store) getItem(ctx context.Context, q queryer, list string, id int) (store.Item, error) {
	row := q.QueryRowContext(ctx, `SELECT id, version, created, modified, data FROM items WHERE list_key = ? AND id = ?;`, store.NormalizeTitle(list), id)

	it, err := scanItem(row)
	if errors.Is(err, store.ErrNotFound) {
		return store.Item{}, fmt.Errorf("%w: item %d", store.ErrNotFound, id)
	}
	return it, err
}

func (st *Store) now() time.Time {
	if st.Now != nil {
		return st.Now().UTC()
	}
	return time.Now().UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanList(s scanner) (store.List, error) {
	var l store.List
	var guid string
	var created int64

	err := s.Scan(&l.Title, &guid, &created, &l.NextID, &l.ItemCount)
	if err != nil {
		return store.List{}, wrapDBError(err)
	}

	l.GUID, err = uuid.Parse(guid)
	if err != nil {
		return store.List{}, fmt.Errorf("%w: guid: %s", store.ErrDecodingFailure, err)
	}
	l.Created = time.Unix(0, created).UTC()

	return l, nil
}

func scanItem(s scanner) (store.Item, error) {
	var it store.Item
	var created, modified int64
	var data string

	err := s.Scan(&it.ID, &it.Version, &created, &modified, &data)
	if err != nil {
		return store.Item{}, wrapDBError(err)
	}

	it.Fields, err = store.DecodeFields(data)
	if err != nil {
		return store.Item{}, fmt.Errorf("item %d: %w", it.ID, err)
	}
	it.Created = time.Unix(0, created).UTC()
	it.Modified = time.Unix(0, modified).UTC()

	return it, nil
}

// wrapDBError converts an error from the SQLite engine into one of the store
// errors where one applies.
func wrapDBError(err error) error {
	sqliteErr := &sqlite.Error{}
	if errors.As(err, &sqliteErr) {
		primaryCode := sqliteErr.Code() & 0xff
		if primaryCode == 19 {
			return fmt.Errorf("%w: %s", store.ErrConstraintViolation, err.Error())
		}
		if primaryCode == 1 {
			// this is a generic error and thus the string is not descriptive,
			// so preserve the original error instead
			return err
		}
		return fmt.Errorf("%s", sqlite.ErrorCodeString[sqliteErr.Code()])
	} else if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
