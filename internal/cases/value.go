package cases

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind identifies the variant held by a Value.
type ValueKind uint8

const (
	// KindNull is the zero kind; absent keys read as null.
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

// ErrUnsupportedFormData indicates a stored form_data column could not be decoded.
var ErrUnsupportedFormData = errors.New("cases: unsupported form data encoding")

// Value is a single answer stored in a case's form data.
type Value struct {
	kind   ValueKind
	text   string
	number float64
	flag   bool
	items  []Value
	fields map[string]Value
}

// NullValue returns an explicit null answer.
func NullValue() Value {
	return Value{}
}

// StringValue wraps a text answer.
func StringValue(text string) Value {
	return Value{kind: KindString, text: text}
}

// NumberValue wraps a numeric answer.
func NumberValue(number float64) Value {
	return Value{kind: KindNumber, number: number}
}

// BoolValue wraps a yes/no answer.
func BoolValue(flag bool) Value {
	return Value{kind: KindBool, flag: flag}
}

// ListValue wraps a sequence answer such as prior addresses.
func ListValue(items ...Value) Value {
	copied := make([]Value, len(items))
	copy(copied, items)
	return Value{kind: KindList, items: copied}
}

// ObjectValue wraps a nested record, typically one entry of a list answer.
func ObjectValue(fields map[string]Value) Value {
	copied := make(map[string]Value, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return Value{kind: KindObject, fields: copied}
}

// Kind reports which variant the value holds.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Text returns the string payload and whether the value is a string.
func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindString
}

// Number returns the numeric payload and whether the value is a number.
func (v Value) Number() (float64, bool) {
	return v.number, v.kind == KindNumber
}

// Bool returns the boolean payload and whether the value is a boolean.
func (v Value) Bool() (bool, bool) {
	return v.flag, v.kind == KindBool
}

// Items returns the elements of a list value.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.items
}

// Fields returns the members of an object value.
func (v Value) Fields() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	return v.fields
}

// IsFilled reports whether the value counts as an answered field.
// Null, the empty string and the literal string "null" are unanswered.
func (v Value) IsFilled() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindString:
		return v.text != "" && v.text != "null"
	default:
		return true
	}
}

// Display renders the value as a single line of text.
func (v Value) Display() string {
	switch v.kind {
	case KindString:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindList:
		parts := make([]string, 0, len(v.items))
		for _, item := range v.items {
			if text := item.Display(); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "; ")
	case KindObject:
		keys := make([]string, 0, len(v.fields))
		for key := range v.fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			if text := v.fields[key].Display(); text != "" {
				parts = append(parts, key+": "+text)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// MarshalJSON encodes the value as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindNumber:
		return json.Marshal(v.number)
	case KindBool:
		return json.Marshal(v.flag)
	case KindList:
		items := v.items
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	case KindObject:
		fields := v.fields
		if fields == nil {
			fields = map[string]Value{}
		}
		return json.Marshal(fields)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON document into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	converted, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

func valueFromAny(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(typed), nil
	case bool:
		return BoolValue(typed), nil
	case json.Number:
		number, err := typed.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("decode number %q: %w", typed.String(), err)
		}
		return NumberValue(number), nil
	case float64:
		return NumberValue(typed), nil
	case []any:
		items := make([]Value, 0, len(typed))
		for _, element := range typed {
			item, err := valueFromAny(element)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindList, items: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(typed))
		for key, element := range typed {
			field, err := valueFromAny(element)
			if err != nil {
				return Value{}, err
			}
			fields[key] = field
		}
		return Value{kind: KindObject, fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported json type %T", raw)
	}
}

// FormData is the open-ended answer record of a case, keyed by field name.
type FormData map[string]Value

// Get returns the value stored under key, or null when absent.
func (d FormData) Get(key string) Value {
	if d == nil {
		return NullValue()
	}
	return d[key]
}

// Clone returns a shallow copy that can be mutated independently.
func (d FormData) Clone() FormData {
	cloned := make(FormData, len(d))
	for key, value := range d {
		cloned[key] = value
	}
	return cloned
}

// Merge overwrites entries of d with the entries of other.
func (d FormData) Merge(other FormData) {
	for key, value := range other {
		d[key] = value
	}
}

// Serialize returns the canonical JSON encoding with keys in sorted order.
func (d FormData) Serialize() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(d))
}

// Value implements driver.Valuer so the record is stored as JSON text.
func (d FormData) Value() (driver.Value, error) {
	encoded, err := d.Serialize()
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner for JSON text or bytes columns.
func (d *FormData) Scan(src any) error {
	var encoded []byte
	switch typed := src.(type) {
	case nil:
		*d = FormData{}
		return nil
	case string:
		encoded = []byte(typed)
	case []byte:
		encoded = typed
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedFormData, src)
	}
	if len(bytes.TrimSpace(encoded)) == 0 {
		*d = FormData{}
		return nil
	}
	decoded := FormData{}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormData, err)
	}
	*d = decoded
	return nil
}
