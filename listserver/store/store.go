// Package store defines the persistence used by the development list server
// along with the types it stores. Implementations are in the inmem and sqlite
// sub-packages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConstraintViolation = errors.New("a uniqueness constraint was violated")
	ErrNotFound            = errors.New("the requested resource was not found")
	ErrDecodingFailure     = errors.New("field could not be decoded from DB storage format to model format")
	ErrClosed              = errors.New("store is closed")
)

// List is a named collection of items.
type List struct {
	Title   string
	GUID    uuid.UUID
	Created time.Time

	// NextID is the ID the next created item will get. IDs are never reused,
	// even after the item that had one is deleted.
	NextID int

	ItemCount int
}

// Hidden is whether the list is a system list that is left out of ordinary
// listings. Lists whose title starts with two underscores are hidden.
func (l List) Hidden() bool {
	return strings.HasPrefix(l.Title, "__")
}

// Item is a single entry in a list.
type Item struct {
	ID       int
	Version  int
	Created  time.Time
	Modified time.Time

	// Fields holds the user-set values of the item, decoded from JSON with
	// numbers kept as json.Number.
	Fields map[string]interface{}
}

// ETag is the quoted version of the item, as sent in entity metadata and
// compared against If-Match.
func (it Item) ETag() string {
	return `"` + strconv.Itoa(it.Version) + `"`
}

// Store holds lists and their items. List titles are matched without regard
// to case. All implementations are safe for concurrent use.
type Store interface {
	// Lists returns every list ordered by title.
	Lists(ctx context.Context) ([]List, error)

	// GetList returns the list with the given title. ErrNotFound is returned
	// if there is none.
	GetList(ctx context.Context, title string) (List, error)

	// CreateList adds an empty list. ErrConstraintViolation is returned if a
	// list with the same title already exists.
	CreateList(ctx context.Context, title string) (List, error)

	// Items returns every item of the list ordered by ID.
	Items(ctx context.Context, list string) ([]Item, error)

	// GetItem returns one item of the list.
	GetItem(ctx context.Context, list string, id int) (Item, error)

	// CreateItem adds an item with the given fields and returns it with its
	// assigned ID.
	CreateItem(ctx context.Context, list string, fields map[string]interface{}) (Item, error)

	// UpdateItem merges fields into the item, replacing values of the same
	// name, and increments its version.
	UpdateItem(ctx context.Context, list string, id int, fields map[string]interface{}) (Item, error)

	// DeleteItem removes an item.
	DeleteItem(ctx context.Context, list string, id int) error

	// Close releases the store. Stores that persist to disk save any
	// outstanding changes.
	Close() error
}

// EnsureLists creates each of the given lists that does not already exist.
func EnsureLists(ctx context.Context, st Store, titles ...string) error {
	for _, t := range titles {
		_, err := st.GetList(ctx, t)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%s: %w", t, err)
		}
		if _, err := st.CreateList(ctx, t); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
	}
	return nil
}

// NormalizeTitle gives the key that titles are compared by.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// MergeFields returns a copy of dst with every entry of src applied to it.
func MergeFields(dst, src map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		merged[k] = v
	}
	for k, v := range src {
		merged[k] = v
	}
	return merged
}

// EncodeFields gives the JSON text that fields are persisted as.
func EncodeFields(fields map[string]interface{}) (string, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(data), nil
}

// DecodeFields reads fields written by EncodeFields. Numbers are decoded as
// json.Number.
func DecodeFields(s string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecodingFailure, err)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return fields, nil
}
