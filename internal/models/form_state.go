package models

import (
	"slices"
)

// CategorySelection is a set of category ids with one primary member
type CategorySelection struct {
	Selected []int64 `json:"selected"`
	Primary  *int64  `json:"primary,omitempty"`
}

// IsEmpty reports whether nothing is selected
func (s CategorySelection) IsEmpty() bool {
	return len(s.Selected) == 0
}

// Contains reports whether id is selected
func (s CategorySelection) Contains(id int64) bool {
	return slices.Contains(s.Selected, id)
}

// Clone returns a deep copy
func (s CategorySelection) Clone() CategorySelection {
	out := CategorySelection{Selected: slices.Clone(s.Selected)}
	if s.Primary != nil {
		p := *s.Primary
		out.Primary = &p
	}
	return out
}

// Toggle adds id when absent and removes it when present.
// Removing the primary promotes the first remaining id.
func (s *CategorySelection) Toggle(id int64) bool {
	if i := slices.Index(s.Selected, id); i >= 0 {
		s.Selected = slices.Delete(s.Selected, i, i+1)
		s.fixPrimary()
		return false
	}
	s.Selected = append(s.Selected, id)
	s.fixPrimary()
	return true
}

// Remove drops id from the selection if present
func (s *CategorySelection) Remove(id int64) {
	if i := slices.Index(s.Selected, id); i >= 0 {
		s.Selected = slices.Delete(s.Selected, i, i+1)
		s.fixPrimary()
	}
}

// Replace rewrites every occurrence of old with replacement
func (s *CategorySelection) Replace(old, replacement int64) bool {
	changed := false
	for i, id := range s.Selected {
		if id == old {
			s.Selected[i] = replacement
			changed = true
		}
	}
	if s.Primary != nil && *s.Primary == old {
		s.Primary = &replacement
		changed = true
	}
	if changed {
		s.Selected = dedupe(s.Selected)
	}
	return changed
}

// SetPrimary marks id as primary, selecting it first when needed
func (s *CategorySelection) SetPrimary(id int64) {
	if !s.Contains(id) {
		s.Selected = append(s.Selected, id)
	}
	s.Primary = &id
}

// fixPrimary keeps primary inside selected, defaulting to the first element
func (s *CategorySelection) fixPrimary() {
	if len(s.Selected) == 0 {
		s.Primary = nil
		return
	}
	if s.Primary == nil || !s.Contains(*s.Primary) {
		first := s.Selected[0]
		s.Primary = &first
	}
}

// Normalize enforces the primary-in-selected invariant
func (s CategorySelection) Normalize() CategorySelection {
	out := s.Clone()
	out.Selected = dedupe(out.Selected)
	out.fixPrimary()
	return out
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// FormState is the editable state of one context.
// For a shop context an empty field value means "inherit from default".
type FormState struct {
	Fields     map[Field]string  `json:"fields"`
	Categories CategorySelection `json:"categories"`
}

// NewFormState returns an empty form
func NewFormState() FormState {
	return FormState{Fields: make(map[Field]string)}
}

// Clone returns a deep copy
func (f FormState) Clone() FormState {
	out := FormState{
		Fields:     make(map[Field]string, len(f.Fields)),
		Categories: f.Categories.Clone(),
	}
	for k, v := range f.Fields {
		out.Fields[k] = v
	}
	return out
}

// Get returns the raw value of a field, "" when unset
func (f FormState) Get(field Field) string {
	if f.Fields == nil {
		return ""
	}
	return f.Fields[field]
}

// Set assigns a raw value
func (f *FormState) Set(field Field, value string) {
	if f.Fields == nil {
		f.Fields = make(map[Field]string)
	}
	f.Fields[field] = value
}
