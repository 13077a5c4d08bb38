package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dekarrin/jellypoint"
)

// Document is a parsed JSON response or request body. The zero value is an
// empty Document, which is what a successful response with no body produces.
type Document struct {
	raw   []byte
	value interface{}
}

// ParseDocument parses data as a single JSON value. Numbers are kept as
// json.Number so that item IDs and large integers survive intact. The returned
// error matches jellypoint.ErrParse if data is empty, is not valid JSON, or
// has trailing content after the first value.
func ParseDocument(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Document{}, jellypoint.WrapParse(io.ErrUnexpectedEOF, "empty body")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Document{}, jellypoint.WrapParse(err, "decode body")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Document{}, jellypoint.NewError("decode body: trailing data after JSON value", jellypoint.ErrParse)
	}

	raw := make([]byte, len(trimmed))
	copy(raw, trimmed)
	return Document{raw: raw, value: v}, nil
}

// NewDocument builds a Document from any value that encoding/json can marshal.
func NewDocument(v interface{}) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("marshal document: %w", err)
	}
	return ParseDocument(data)
}

// MustDocument is like NewDocument but panics on error. It is meant for
// literals in tests and examples.
func MustDocument(v interface{}) Document {
	doc, err := NewDocument(v)
	if err != nil {
		panic(err.Error())
	}
	return doc
}

// IsEmpty returns whether d holds no value.
func (d Document) IsEmpty() bool {
	return d.raw == nil
}

// Raw returns the JSON bytes of d. It is nil for an empty Document.
func (d Document) Raw() []byte {
	return d.raw
}

// Value returns the decoded JSON value of d: a map[string]interface{},
// []interface{}, string, json.Number, bool, or nil.
func (d Document) Value() interface{} {
	return d.value
}

// MarshalJSON returns the raw bytes of d, or null if d is empty.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.raw == nil {
		return []byte("null"), nil
	}
	return d.raw, nil
}

// UnmarshalJSON replaces d with the parsed data.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Decode unmarshals the raw JSON of d into v.
func (d Document) Decode(v interface{}) error {
	if d.raw == nil {
		return jellypoint.NewError("decode: document is empty", jellypoint.ErrParse)
	}
	if err := json.Unmarshal(d.raw, v); err != nil {
		return jellypoint.WrapParse(err, "decode")
	}
	return nil
}

// Results returns the items of a collection response. Verbose responses carry
// them in d.results, minimal-metadata responses in value; a bare top-level
// array is also accepted.
func (d Document) Results() ([]Item, error) {
	var arr []interface{}

	switch v := d.value.(type) {
	case []interface{}:
		arr = v
	case map[string]interface{}:
		if inner, ok := v["d"].(map[string]interface{}); ok {
			if res, ok := inner["results"].([]interface{}); ok {
				arr = res
			}
		} else if res, ok := v["d"].([]interface{}); ok {
			arr = res
		} else if res, ok := v["value"].([]interface{}); ok {
			arr = res
		}
	}

	if arr == nil {
		return nil, jellypoint.NewError("document does not contain a collection", jellypoint.ErrParse)
	}

	items := make([]Item, 0, len(arr))
	for i := range arr {
		obj, ok := arr[i].(map[string]interface{})
		if !ok {
			return nil, jellypoint.NewError(fmt.Sprintf("result %d is not an object", i), jellypoint.ErrParse)
		}
		items = append(items, Item(obj))
	}
	return items, nil
}

// Entity returns the single object of an entity response, unwrapping the
// verbose "d" envelope if present.
func (d Document) Entity() (Item, error) {
	obj, ok := d.value.(map[string]interface{})
	if !ok {
		return nil, jellypoint.NewError("document is not an object", jellypoint.ErrParse)
	}
	if inner, ok := obj["d"].(map[string]interface{}); ok {
		return Item(inner), nil
	}
	return Item(obj), nil
}

// Item is a single list item as decoded from JSON.
type Item map[string]interface{}

// ID returns the integer identifier of the item. Both "ID" and "Id" are
// checked, in that order.
func (it Item) ID() (int, bool) {
	for _, key := range []string{"ID", "Id"} {
		v, ok := it[key]
		if !ok {
			continue
		}
		if n, err := toInt(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ETag returns the etag recorded in the item's __metadata, if any.
func (it Item) ETag() string {
	meta, ok := it["__metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	etag, _ := meta["etag"].(string)
	return etag
}

// Decode re-marshals the item and unmarshals it into v.
func (it Item) Decode(v interface{}) error {
	data, err := json.Marshal(it)
	if err != nil {
		return jellypoint.WrapParse(err, "re-encode item")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return jellypoint.WrapParse(err, "decode item")
	}
	return nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, errors.New("not a number")
	}
}
