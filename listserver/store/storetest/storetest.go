// Package storetest has the behavior checks that every store.Store
// implementation is expected to pass.
package storetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// Run runs every check against stores created by newStore. Each check gets
// its own store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("lists", func(t *testing.T) { testLists(t, newStore(t)) })
	t.Run("items", func(t *testing.T) { testItems(t, newStore(t)) })
	t.Run("IDs are not reused", func(t *testing.T) { testIDsNotReused(t, newStore(t)) })
	t.Run("missing", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

func testLists(t *testing.T, st store.Store) {
	assert := assert.New(t)
	ctx := context.Background()

	created, err := st.CreateList(ctx, "Tasks")
	if !assert.NoError(err) {
		return
	}
	assert.Equal("Tasks", created.Title)
	assert.Equal(1, created.NextID)
	assert.NotEqual(uuid.Nil, created.GUID)

	_, err = st.CreateList(ctx, "__Hidden")
	assert.NoError(err)

	_, err = st.CreateList(ctx, "tasks")
	assert.ErrorIs(err, store.ErrConstraintViolation)

	got, err := st.GetList(ctx, "TASKS")
	assert.NoError(err)
	assert.Equal(created.GUID, got.GUID)

	all, err := st.Lists(ctx)
	assert.NoError(err)
	if assert.Len(all, 2) {
		assert.Equal("__Hidden", all[0].Title)
		assert.True(all[0].Hidden())
		assert.Equal("Tasks", all[1].Title)
		assert.False(all[1].Hidden())
	}

	assert.NoError(store.EnsureLists(ctx, st, "Tasks", "Contacts"))
	all, _ = st.Lists(ctx)
	assert.Len(all, 3)
}

func testItems(t *testing.T, st store.Store) {
	assert := assert.New(t)
	ctx := context.Background()

	_, err := st.CreateList(ctx, "Tasks")
	if !assert.NoError(err) {
		return
	}

	first, err := st.CreateItem(ctx, "Tasks", map[string]interface{}{"Title": "a", "Priority": json.Number("2")})
	assert.NoError(err)
	assert.Equal(1, first.ID)
	assert.Equal(1, first.Version)
	assert.Equal(`"1"`, first.ETag())

	second, err := st.CreateItem(ctx, "tasks", map[string]interface{}{"Title": "b"})
	assert.NoError(err)
	assert.Equal(2, second.ID)

	updated, err := st.UpdateItem(ctx, "Tasks", 1, map[string]interface{}{"Title": "a2", "Done": true})
	assert.NoError(err)
	assert.Equal(2, updated.Version)
	assert.Equal("a2", updated.Fields["Title"])
	assert.Equal(true, updated.Fields["Done"])
	assert.Equal(json.Number("2"), updated.Fields["Priority"])

	got, err := st.GetItem(ctx, "Tasks", 1)
	assert.NoError(err)
	assert.Equal(updated.Fields, got.Fields)
	assert.Equal(`"2"`, got.ETag())

	// returned fields are copies
	got.Fields["Title"] = "changed"
	again, _ := st.GetItem(ctx, "Tasks", 1)
	assert.Equal("a2", again.Fields["Title"])

	all, err := st.Items(ctx, "Tasks")
	assert.NoError(err)
	if assert.Len(all, 2) {
		assert.Equal(1, all[0].ID)
		assert.Equal(2, all[1].ID)
	}

	l, _ := st.GetList(ctx, "Tasks")
	assert.Equal(2, l.ItemCount)

	assert.NoError(st.DeleteItem(ctx, "Tasks", 2))
	_, err = st.GetItem(ctx, "Tasks", 2)
	assert.ErrorIs(err, store.ErrNotFound)
}

func testIDsNotReused(t *testing.T, st store.Store) {
	assert := assert.New(t)
	ctx := context.Background()

	st.CreateList(ctx, "Tasks")
	st.CreateItem(ctx, "Tasks", nil)
	st.CreateItem(ctx, "Tasks", nil)
	assert.NoError(st.DeleteItem(ctx, "Tasks", 2))

	it, err := st.CreateItem(ctx, "Tasks", nil)
	assert.NoError(err)
	assert.Equal(3, it.ID)
	assert.NotNil(it.Fields)
}

func testMissing(t *testing.T, st store.Store) {
	assert := assert.New(t)
	ctx := context.Background()

	_, err := st.GetList(ctx, "Nope")
	assert.ErrorIs(err, store.ErrNotFound)
	_, err = st.Items(ctx, "Nope")
	assert.ErrorIs(err, store.ErrNotFound)
	_, err = st.CreateItem(ctx, "Nope", nil)
	assert.ErrorIs(err, store.ErrNotFound)

	st.CreateList(ctx, "Tasks")
	_, err = st.GetItem(ctx, "Tasks", 9)
	assert.ErrorIs(err, store.ErrNotFound)
	_, err = st.UpdateItem(ctx, "Tasks", 9, map[string]interface{}{"Title": "x"})
	assert.ErrorIs(err, store.ErrNotFound)
	assert.ErrorIs(st.DeleteItem(ctx, "Tasks", 9), store.ErrNotFound)
}

func testClosed(t *testing.T, st store.Store) {
	assert := assert.New(t)

	assert.NoError(st.Close())
	assert.NoError(st.Close())

	_, err := st.Lists(context.Background())
	assert.ErrorIs(err, store.ErrClosed)
}
