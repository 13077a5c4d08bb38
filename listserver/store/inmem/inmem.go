// Package inmem provides an in-memory list Store. Its contents can be saved to
// and loaded from a snapshot file, which is encoded with REZI.
//
// Use [Open] to create a [Store] that persists to a file on disk. The data
// within is saved by calling [Store.Persist] at appropriate times, and
// [Store.Close] saves it one last time and ends all operations. A Store that
// lives only in memory is obtained by calling Open with an empty filename or
// by calling [Import] on previously exported bytes.
package inmem

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dekarrin/jellypoint/internal/jelsort"
	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/dekarrin/rezi/v2"
	"github.com/google/uuid"
)

// Store is an in-memory store.Store. The zero value is an empty in-memory
// store ready for use.
type Store struct {
	// DataFile is where Persist and Close save the store. If empty, nothing
	// is saved.
	DataFile string

	// Now defaults to time.Now. Set in tests.
	Now func() time.Time

	mtx    sync.RWMutex
	lists  map[string]*listData
	closed bool
}

type listData struct {
	meta  store.List
	items map[int]store.Item
}

// Open creates a new Store that will persist itself to the given data file. If
// the file already exists, its entire contents are loaded into the returned
// Store. If it does not exist, it is created with an empty snapshot.
//
// If file is the empty string, the Store will be in-memory only and calls to
// Persist and Close will not write to disk.
func Open(file string) (*Store, error) {
	s := &Store{}
	if file == "" {
		return s, nil
	}

	data, err := os.ReadFile(file)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read file: %w", err)
	}

	if err == nil && len(data) > 0 {
		s, err = Import(data)
		if err != nil {
			return nil, fmt.Errorf("load data: %w", err)
		}
	}
	s.DataFile = file

	if os.IsNotExist(err) {
		// quick check to see if later writing would fail due to permissions.
		if err := s.Persist(); err != nil {
			return nil, fmt.Errorf("create new: %w", err)
		}
	}

	return s, nil
}

// Import loads the given data bytes into a new in-memory Store. The data bytes
// must have been created by a prior call to [Store.Export].
func Import(data []byte) (*Store, error) {
	s := &Store{}

	_, err := rezi.Dec(data, s)
	return s, err
}

func (s *Store) Lists(ctx context.Context) ([]store.List, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	all := make([]store.List, 0, len(s.lists))
	for _, ld := range s.lists {
		all = append(all, ld.snapshot())
	}
	return jelsort.ByKey(all, func(l store.List) string {
		return strings.ToLower(l.Title)
	}), nil
}

func (s *Store) GetList(ctx context.Context, title string) (store.List, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	ld, err := s.list(title)
	if err != nil {
		return store.List{}, err
	}
	return ld.snapshot(), nil
}

func (s *Store) CreateList(ctx context.Context, title string) (store.List, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return store.List{}, store.ErrClosed
	}

	key := store.NormalizeTitle(title)
	if _, ok := s.lists[key]; ok {
		return store.List{}, fmt.Errorf("%w: list %q already exists", store.ErrConstraintViolation, title)
	}

	newUUID, err := uuid.NewRandom()
	if err != nil {
		return store.List{}, fmt.Errorf("could not generate ID: %w", err)
	}

	ld := &listData{
		meta: store.List{
			Title:   strings.TrimSpace(title),
			GUID:    newUUID,
			Created: s.now(),
			NextID:  1,
		},
		items: map[int]store.Item{},
	}
	if s.lists == nil {
		s.lists = map[string]*listData{}
	}
	s.lists[key] = ld

	return ld.snapshot(), nil
}

func (s *Store) Items(ctx context.Context, list string) ([]store.Item, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	ld, err := s.list(list)
	if err != nil {
		return nil, err
	}

	all := make([]store.Item, 0, len(ld.items))
	for _, it := range ld.items {
		all = append(all, copyItem(it))
	}
	return jelsort.ByKey(all, func(it store.Item) int { return it.ID }), nil
}

func (s *Store) GetItem(ctx context.Context, list string, id int) (store.Item, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	ld, err := s.list(list)
	if err != nil {
		return store.Item{}, err
	}

	it, ok := ld.items[id]
	if !ok {
		return store.Item{}, fmt.Errorf("%w: item %d", store.ErrNotFound, id)
	}
	return copyItem(it), nil
}

func (s *Store) CreateItem(ctx context.Context, list string, fields map[string]interface{}) (store.Item, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	ld, err := s.list(list)
	if err != nil {
		return store.Item{}, err
	}

	now := s.now()
	it := store.Item{
		ID:       ld.meta.NextID,
		Version:  1,
		Created:  now,
		Modified: now,
		Fields:   store.MergeFields(nil, fields),
	}
	ld.items[it.ID] = it
	ld.meta.NextID++

	return copyItem(it), nil
}

func (s *Store) UpdateItem(ctx context.Context, list string, id int, fields map[string]interface{}) (store.Item, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	ld, err := s.list(list)
	if err != nil {
		return store.Item{}, err
	}

	it, ok := ld.items[id]
	if !ok {
		return store.Item{}, fmt.Errorf("%w: item %d", store.ErrNotFound, id)
	}

	it.Fields = store.MergeFields(it.Fields, fields)
	it.Version++
	it.Modified = s.now()
	ld.items[id] = it

	return copyItem(it), nil
}

func (s *Store) DeleteItem(ctx context.Context, list string, id int) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	ld, err := s.list(list)
	if err != nil {
		return err
	}

	if _, ok := ld.items[id]; !ok {
		return fmt.Errorf("%w: item %d", store.ErrNotFound, id)
	}
	delete(ld.items, id)
	return nil
}

// list gets the named list. The caller must hold at least a read lock.
func (s *Store) list(title string) (*listData, error) {
	if s.closed {
		return nil, store.ErrClosed
	}
	ld, ok := s.lists[store.NormalizeTitle(title)]
	if !ok {
		return nil, fmt.Errorf("%w: list %q", store.ErrNotFound, title)
	}
	return ld, nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (ld *listData) snapshot() store.List {
	l := ld.meta
	l.ItemCount = len(ld.items)
	return l
}

func copyItem(it store.Item) store.Item {
	it.Fields = store.MergeFields(nil, it.Fields)
	return it
}

// Export exports all data to bytes that can be later decoded with [Import].
func (s *Store) Export() ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.exportUnsafe()
}

func (s *Store) exportUnsafe() ([]byte, error) {
	if s.closed {
		return nil, store.ErrClosed
	}

	return rezi.Enc(s)
}

// Persist saves the data to DataFile. If DataFile is the empty string, calling
// Persist has no effect.
//
// When Persist is called, all data in s is marshaled to bytes and saved to
// disk, regardless of whether any changes occurred to the data since it was
// last persisted or loaded.
func (s *Store) Persist() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.persistUnsafe()
}

// persistUnsafe does actual work of Persist. It assumes the caller has
// acquired a write lock.
func (s *Store) persistUnsafe() error {
	if s.closed {
		return store.ErrClosed
	}
	if s.DataFile == "" {
		return nil
	}

	dataBytes, err := s.exportUnsafe()
	if err != nil {
		return fmt.Errorf("get data bytes: %w", err)
	}

	return writeWithBackup(s.DataFile, dataBytes)
}

// Close persists the data (if DataFile is set) and ends all operations.
// After Close returns, the Store cannot be used again, regardless of whether
// the returned error is nil. Calling Close on a closed Store has no effect.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return nil
	}

	err := s.persistUnsafe()

	// close even if err is not nil; we don't want the Store to be usable
	// after return.
	s.closed = true

	if err != nil {
		return fmt.Errorf("persist data to disk: %w", err)
	}
	return nil
}

func (s *Store) String() string {
	if s == nil {
		return "Store<nil>"
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var sb strings.Builder

	sb.WriteString("Store<")
	if s.closed {
		sb.WriteString("(CLOSED), ")
	}
	sb.WriteString(fmt.Sprintf("%d lists", len(s.lists)))
	if s.DataFile == "" {
		sb.WriteString(", in-memory")
	} else {
		sb.WriteString(fmt.Sprintf(", %q", s.DataFile))
	}
	sb.WriteRune('>')
	return sb.String()
}

// MarshalBinary converts the store to a binary bytes representation of itself.
//
// This function is not concurrent safe and requires a read lock. Users of Store
// should prefer calling [Store.Persist] or [Store.Export] instead.
func (s *Store) MarshalBinary() ([]byte, error) {
	if s == nil {
		return []byte{}, nil
	}

	keys := make([]string, 0, len(s.lists))
	for k := range s.lists {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	recs := make([]listRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := newListRecord(s.lists[k])
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	var enc []byte
	enc = append(enc, rezi.MustEnc(recs)...)
	return enc, nil
}

// UnmarshalBinary replaces the contents of the store with those encoded at the
// start of data.
//
// This function is not concurrent safe and requires a write lock. Users of
// Store should prefer calling [Open] or [Import].
func (s *Store) UnmarshalBinary(data []byte) error {
	if s == nil {
		return fmt.Errorf("cannot unmarshal to nil Store")
	}

	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var recs []listRecord
	err = rr.Dec(&recs)
	if err != nil {
		return rezi.Wrapf(0, "lists: %s", err)
	}

	lists := make(map[string]*listData, len(recs))
	for _, rec := range recs {
		ld, err := rec.listData()
		if err != nil {
			return fmt.Errorf("list %q: %w", rec.Title, err)
		}
		lists[store.NormalizeTitle(rec.Title)] = ld
	}
	s.lists = lists

	return nil
}
