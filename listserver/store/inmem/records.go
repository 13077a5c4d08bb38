package inmem

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/dekarrin/rezi/v2"
	"github.com/google/uuid"
)

// listRecord is the snapshot form of a list and its items.
type listRecord struct {
	Title   string
	GUID    string
	Created time.Time
	NextID  int
	Items   []itemRecord
}

// itemRecord is the snapshot form of an item. Fields are kept as JSON text so
// that arbitrary values survive the round trip.
type itemRecord struct {
	ID       int
	Version  int
	Created  time.Time
	Modified time.Time
	Fields   string
}

func newListRecord(ld *listData) (listRecord, error) {
	rec := listRecord{
		Title:   ld.meta.Title,
		GUID:    ld.meta.GUID.String(),
		Created: ld.meta.Created,
		NextID:  ld.meta.NextID,
	}

	ids := make([]int, 0, len(ld.items))
	for id := range ld.items {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		it := ld.items[id]
		fields, err := store.EncodeFields(it.Fields)
		if err != nil {
			return listRecord{}, fmt.Errorf("item %d: %w", id, err)
		}
		rec.Items = append(rec.Items, itemRecord{
			ID:       it.ID,
			Version:  it.Version,
			Created:  it.Created,
			Modified: it.Modified,
			Fields:   fields,
		})
	}

	return rec, nil
}

func (rec listRecord) listData() (*listData, error) {
	guid, err := uuid.Parse(rec.GUID)
	if err != nil {
		return nil, fmt.Errorf("%w: guid: %s", store.ErrDecodingFailure, err)
	}

	ld := &listData{
		meta: store.List{
			Title:   rec.Title,
			GUID:    guid,
			Created: rec.Created,
			NextID:  rec.NextID,
		},
		items: make(map[int]store.Item, len(rec.Items)),
	}

	for _, ir := range rec.Items {
		fields, err := store.DecodeFields(ir.Fields)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", ir.ID, err)
		}
		ld.items[ir.ID] = store.Item{
			ID:       ir.ID,
			Version:  ir.Version,
			Created:  ir.Created,
			Modified: ir.Modified,
			Fields:   fields,
		}
	}

	return ld, nil
}

func (rec listRecord) MarshalBinary() ([]byte, error) {
	var enc []byte

	enc = append(enc, rezi.MustEnc(rec.Title)...)
	enc = append(enc, rezi.MustEnc(rec.GUID)...)
	enc = append(enc, rezi.MustEnc(rec.Created)...)
	enc = append(enc, rezi.MustEnc(rec.NextID)...)
	enc = append(enc, rezi.MustEnc(rec.Items)...)

	return enc, nil
}

func (rec *listRecord) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var decoded listRecord

	err = rr.Dec(&decoded.Title)
	if err != nil {
		return rezi.Wrapf(0, "title: %s", err)
	}

	err = rr.Dec(&decoded.GUID)
	if err != nil {
		return rezi.Wrapf(0, "guid: %s", err)
	}

	err = rr.Dec(&decoded.Created)
	if err != nil {
		return rezi.Wrapf(0, "created: %s", err)
	}

	err = rr.Dec(&decoded.NextID)
	if err != nil {
		return rezi.Wrapf(0, "next ID: %s", err)
	}

	err = rr.Dec(&decoded.Items)
	if err != nil {
		return rezi.Wrapf(0, "items: %s", err)
	}

	*rec = decoded

	return nil
}

func (ir itemRecord) MarshalBinary() ([]byte, error) {
	var enc []byte

	enc = append(enc, rezi.MustEnc(ir.ID)...)
	enc = append(enc, rezi.MustEnc(ir.Version)...)
	enc = append(enc, rezi.MustEnc(ir.Created)...)
	enc = append(enc, rezi.MustEnc(ir.Modified)...)
	enc = append(enc, rezi.MustEnc(ir.Fields)...)

	return enc, nil
}

func (ir *itemRecord) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var decoded itemRecord

	err = rr.Dec(&decoded.ID)
	if err != nil {
		return rezi.Wrapf(0, "id: %s", err)
	}

	err = rr.Dec(&decoded.Version)
	if err != nil {
		return rezi.Wrapf(0, "version: %s", err)
	}

	err = rr.Dec(&decoded.Created)
	if err != nil {
		return rezi.Wrapf(0, "created: %s", err)
	}

	err = rr.Dec(&decoded.Modified)
	if err != nil {
		return rezi.Wrapf(0, "modified: %s", err)
	}

	err = rr.Dec(&decoded.Fields)
	if err != nil {
		return rezi.Wrapf(0, "fields: %s", err)
	}

	*ir = decoded

	return nil
}
