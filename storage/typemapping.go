package storage

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType is the TypeAsString of a list field.
type FieldType string

const (
	FieldText     FieldType = "Text"
	FieldNote     FieldType = "Note"
	FieldChoice   FieldType = "Choice"
	FieldNumber   FieldType = "Number"
	FieldCurrency FieldType = "Currency"
	FieldInteger  FieldType = "Integer"
	FieldCounter  FieldType = "Counter"
	FieldBoolean  FieldType = "Boolean"
	FieldDateTime FieldType = "DateTime"
	FieldGUID     FieldType = "Guid"
	FieldLookup   FieldType = "Lookup"
	FieldURL      FieldType = "URL"
)

// Mapping pairs a Go type with the list field type that stores it.
type Mapping struct {
	GoType    reflect.Type
	FieldType FieldType

	// Nullable is true when the Go type is a pointer.
	Nullable bool
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// TypeMappingSource finds mappings between Go types and list field types.
type TypeMappingSource struct{}

// FindMapping returns the field type used to store values of t. Pointer types
// map as their element type with Nullable set. Types with no list
// representation (maps, slices other than []byte, structs other than
// time.Time, channels, funcs) return false.
func (TypeMappingSource) FindMapping(t reflect.Type) (Mapping, bool) {
	if t == nil {
		return Mapping{}, false
	}

	nullable := false
	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}

	m := Mapping{GoType: t, Nullable: nullable}

	switch {
	case t == timeType:
		m.FieldType = FieldDateTime
		return m, true
	case t == uuidType:
		m.FieldType = FieldGUID
		return m, true
	}

	switch t.Kind() {
	case reflect.String:
		m.FieldType = FieldText
	case reflect.Bool:
		m.FieldType = FieldBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		m.FieldType = FieldInteger
	case reflect.Float32, reflect.Float64:
		m.FieldType = FieldNumber
	default:
		return Mapping{}, false
	}
	return m, true
}

// FindGoType returns the Go type used for a field of the given TypeAsString.
// Matching is case-insensitive. Unknown field types return false.
func (TypeMappingSource) FindGoType(fieldType string) (reflect.Type, bool) {
	switch FieldType(strings.ToLower(fieldType)) {
	case "text", "note", "choice", "url", "multichoice", "user":
		return reflect.TypeOf(""), true
	case "number", "currency":
		return reflect.TypeOf(float64(0)), true
	case "integer", "counter", "lookup":
		return reflect.TypeOf(int(0)), true
	case "boolean":
		return reflect.TypeOf(false), true
	case "datetime":
		return timeType, true
	case "guid":
		return uuidType, true
	default:
		return nil, false
	}
}
