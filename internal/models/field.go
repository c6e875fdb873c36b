package models

import "fmt"

// Field identifies an overridable product attribute
type Field string

const (
	FieldSKU              Field = "sku"
	FieldName             Field = "name"
	FieldSlug             Field = "slug"
	FieldShortDescription Field = "short_description"
	FieldLongDescription  Field = "long_description"
	FieldMetaTitle        Field = "meta_title"
	FieldMetaDescription  Field = "meta_description"
	FieldManufacturer     Field = "manufacturer"
	FieldSupplierCode     Field = "supplier_code"
	FieldEAN              Field = "ean"
	FieldWeight           Field = "weight"
	FieldHeight           Field = "height"
	FieldWidth            Field = "width"
	FieldLength           Field = "length"
	FieldTaxRate          Field = "tax_rate"
	FieldIsActive         Field = "is_active"
	FieldSortOrder        Field = "sort_order"
)

// FieldKind drives how a value is normalized before comparison
type FieldKind string

const (
	KindText    FieldKind = "text"
	KindDecimal FieldKind = "decimal"
	KindInteger FieldKind = "integer"
	KindBoolean FieldKind = "boolean"
)

// FieldSpec describes one overridable field
type FieldSpec struct {
	Field Field
	Kind  FieldKind
	Scale int32 // decimal places, KindDecimal only
}

var fieldSpecs = []FieldSpec{
	{Field: FieldSKU, Kind: KindText},
	{Field: FieldName, Kind: KindText},
	{Field: FieldSlug, Kind: KindText},
	{Field: FieldShortDescription, Kind: KindText},
	{Field: FieldLongDescription, Kind: KindText},
	{Field: FieldMetaTitle, Kind: KindText},
	{Field: FieldMetaDescription, Kind: KindText},
	{Field: FieldManufacturer, Kind: KindText},
	{Field: FieldSupplierCode, Kind: KindText},
	{Field: FieldEAN, Kind: KindText},
	{Field: FieldWeight, Kind: KindDecimal, Scale: 3},
	{Field: FieldHeight, Kind: KindDecimal, Scale: 2},
	{Field: FieldWidth, Kind: KindDecimal, Scale: 2},
	{Field: FieldLength, Kind: KindDecimal, Scale: 2},
	{Field: FieldTaxRate, Kind: KindDecimal, Scale: 2},
	{Field: FieldIsActive, Kind: KindBoolean},
	{Field: FieldSortOrder, Kind: KindInteger},
}

var fieldIndex = func() map[Field]FieldSpec {
	m := make(map[Field]FieldSpec, len(fieldSpecs))
	for _, s := range fieldSpecs {
		m[s.Field] = s
	}
	return m
}()

// UnknownFieldError is returned when a field name is not in the registry
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field: %s", e.Field)
}

// LookupField returns the spec for a field name
func LookupField(name string) (FieldSpec, error) {
	spec, ok := fieldIndex[Field(name)]
	if !ok {
		return FieldSpec{}, &UnknownFieldError{Field: name}
	}
	return spec, nil
}

// Spec returns the registry entry for f. Unknown fields are treated as text.
func (f Field) Spec() FieldSpec {
	if spec, ok := fieldIndex[f]; ok {
		return spec
	}
	return FieldSpec{Field: f, Kind: KindText}
}

// AllFields lists every overridable field in registry order
func AllFields() []Field {
	out := make([]Field, len(fieldSpecs))
	for i, s := range fieldSpecs {
		out[i] = s.Field
	}
	return out
}
