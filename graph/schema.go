package graph

import (
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// fieldKind distinguishes a struct field backed by a FixedTable from one
// backed by a VariableStore, per the `graph:"fixed"` / `graph:"variable"`
// struct tag.
type fieldKind int

const (
	kindFixed fieldKind = iota
	kindVariable
)

type fieldSpec struct {
	name  string
	hash  uint64 // FieldHash: traits::NodeElementHash's role in the original
	kind  fieldKind
	index int
	width int // only meaningful for kindFixed
}

// nodeSchema is the reflected shape of one registered record type: which
// fields are fixed vs variable width, and the per-field hashes used to name
// their backing tables/stores.
type nodeSchema struct {
	typ          reflect.Type
	hash         uint64 // NodeHash
	fields       []fieldSpec
	locatorWidth int64
}

// hashType/hashField compute the stable 64-bit identifiers spec.md §1
// describes as supplied by an external "schema derivation" collaborator —
// here played by xxhash over the type/field name, the same role
// traits::NodeHash / traits::NodeElementHash play in the original.
func hashType(t reflect.Type) uint64 {
	return xxhash.Sum64String(t.PkgPath() + "." + t.Name())
}

func hashField(t reflect.Type, fieldName string) uint64 {
	return xxhash.Sum64String(t.PkgPath() + "." + t.Name() + "#" + fieldName)
}

// reflectSchema walks t's exported fields looking for `graph:"fixed"` /
// `graph:"variable"` tags.
func reflectSchema(t reflect.Type) (*nodeSchema, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("graph: %s is not a struct", t)
	}

	s := &nodeSchema{typ: t, hash: hashType(t)}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("graph")
		if !ok {
			continue
		}

		fs := fieldSpec{name: f.Name, hash: hashField(t, f.Name), index: i}
		switch tag {
		case "fixed":
			fs.kind = kindFixed
			w, err := fixedWidth(f.Type)
			if err != nil {
				return nil, fmt.Errorf("graph: field %s.%s: %w", t.Name(), f.Name, err)
			}
			fs.width = w
		case "variable":
			fs.kind = kindVariable
			if f.Type.Kind() != reflect.Slice && f.Type.Kind() != reflect.String {
				return nil, fmt.Errorf("graph: field %s.%s: variable fields must be []byte or string", t.Name(), f.Name)
			}
		default:
			return nil, fmt.Errorf("graph: field %s.%s: unknown graph tag %q", t.Name(), f.Name, tag)
		}
		s.fields = append(s.fields, fs)
	}

	if len(s.fields) == 0 {
		return nil, fmt.Errorf("graph: %s declares no graph-tagged fields", t.Name())
	}
	s.locatorWidth = int64(len(s.fields)) * 8 // one u64 storage key per field
	return s, nil
}

// fixedWidth returns the on-disk byte width of a fixed-kind field's Go type.
func fixedWidth(t reflect.Type) (int, error) {
	switch t.Kind() {
	case reflect.Bool, reflect.Uint8, reflect.Int8:
		return 1, nil
	case reflect.Uint16, reflect.Int16:
		return 2, nil
	case reflect.Uint32, reflect.Int32, reflect.Float32:
		return 4, nil
	case reflect.Uint64, reflect.Int64, reflect.Float64, reflect.Int, reflect.Uint:
		return 8, nil
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return t.Len(), nil
		}
	}
	return 0, fmt.Errorf("unsupported fixed field type %s", t)
}
