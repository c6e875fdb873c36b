package services

import (
	"catalog-override-service/internal/models"
)

// FieldStatus describes a field's value relative to the canonical default
type FieldStatus string

const (
	StatusDefault   FieldStatus = "default"
	StatusInherited FieldStatus = "inherited"
	StatusSame      FieldStatus = "same"
	StatusDifferent FieldStatus = "different"
)

// CategoriesField names the category selection in change lists
const CategoriesField = "categories"

// EffectiveValue returns the override when set, otherwise the default
func EffectiveValue(field models.Field, defaults models.FormState, overrides *models.FormState) string {
	if overrides != nil {
		if v := overrides.Get(field); v != "" {
			return v
		}
	}
	return defaults.Get(field)
}

// EffectiveCategories returns the shop selection when non-empty, otherwise the default
func EffectiveCategories(defaults models.FormState, overrides *models.FormState) models.CategorySelection {
	if overrides != nil && !overrides.Categories.IsEmpty() {
		return overrides.Categories
	}
	return defaults.Categories
}

// ResolveFieldStatus compares the value shown in ctx with the canonical default.
// Only a malformed value for this field produces an error.
func ResolveFieldStatus(ctx models.Context, field models.Field, current, def *string) (FieldStatus, error) {
	if ctx.IsDefault() {
		return StatusDefault, nil
	}
	cur, err := NormalizeValue(field, current)
	if err != nil {
		return "", err
	}
	if cur == "" {
		return StatusInherited, nil
	}
	base, err := NormalizeValue(field, def)
	if err != nil {
		return "", err
	}
	if cur == base {
		return StatusSame, nil
	}
	return StatusDifferent, nil
}

// ResolveCategoryStatus compares selected sets ignoring order
func ResolveCategoryStatus(ctx models.Context, current, def models.CategorySelection) FieldStatus {
	if ctx.IsDefault() {
		return StatusDefault
	}
	if current.IsEmpty() {
		return StatusInherited
	}
	if NormalizeIDSet(current.Selected) == NormalizeIDSet(def.Selected) {
		return StatusSame
	}
	return StatusDifferent
}

// ResolvePrimaryCategoryStatus compares the primary category
func ResolvePrimaryCategoryStatus(ctx models.Context, current, def models.CategorySelection) FieldStatus {
	if ctx.IsDefault() {
		return StatusDefault
	}
	if current.Primary == nil {
		return StatusInherited
	}
	if def.Primary != nil && *def.Primary == *current.Primary {
		return StatusSame
	}
	return StatusDifferent
}

// Resolve builds the editable form of ctx from persisted data.
// A shop without a row yet gets an empty override layer.
func Resolve(ctx models.Context, product *models.Product, shopData *models.ProductShopData) models.FormState {
	if ctx.IsDefault() {
		return product.FormState()
	}
	if shopData == nil {
		state := models.NewFormState()
		for _, f := range models.AllFields() {
			state.Fields[f] = ""
		}
		return state
	}
	return shopData.FormState()
}

// Effective applies inheritance and returns the values a shop would publish
func Effective(ctx models.Context, form, defaults models.FormState) models.FormState {
	if ctx.IsDefault() {
		return form.Clone()
	}
	out := models.NewFormState()
	for _, f := range models.AllFields() {
		out.Fields[f] = EffectiveValue(f, defaults, &form)
	}
	out.Categories = EffectiveCategories(defaults, &form).Clone()
	return out
}

// ChangedFields lists fields whose normalized values differ between two forms.
// Fields that fail to normalize are reported as changed.
func ChangedFields(before, after models.FormState) []string {
	var changed []string
	for _, f := range models.AllFields() {
		b, a := before.Get(f), after.Get(f)
		nb, err1 := NormalizeValue(f, &b)
		na, err2 := NormalizeValue(f, &a)
		if err1 != nil || err2 != nil || nb != na {
			changed = append(changed, string(f))
		}
	}
	if NormalizeIDSet(before.Categories.Selected) != NormalizeIDSet(after.Categories.Selected) ||
		!samePrimary(before.Categories.Primary, after.Categories.Primary) {
		changed = append(changed, CategoriesField)
	}
	return changed
}

func samePrimary(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
