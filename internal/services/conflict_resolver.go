package services

import (
	"fmt"
	"time"

	"gorm.io/datatypes"

	"catalog-override-service/internal/models"
)

// InboundProduct is an external product with categories already mapped to canonical ids
type InboundProduct struct {
	Fields     map[models.Field]string
	Categories models.CategorySelection
	UpdatedAt  time.Time
}

// FieldConflict holds both sides of a diverging field
type FieldConflict struct {
	Local    string `json:"local"`
	External string `json:"external"`
}

// Resolution is the decision taken for one inbound pull
type Resolution struct {
	Apply     bool                     `json:"apply"`
	Rejected  bool                     `json:"rejected"`
	Status    models.SyncStatus        `json:"status"`
	Reason    string                   `json:"reason"`
	Conflicts map[string]FieldConflict `json:"conflicts,omitempty"`
	Skipped   []string                 `json:"skipped,omitempty"`
}

// ConflictResolver decides whether inbound external data may overwrite a shop context
type ConflictResolver struct {
	significant map[string]bool
}

// NewConflictResolver creates a resolver. Divergence on a significant field is never
// applied automatically.
func NewConflictResolver(significantFields []string) *ConflictResolver {
	set := make(map[string]bool, len(significantFields))
	for _, f := range significantFields {
		set[f] = true
	}
	return &ConflictResolver{significant: set}
}

// Resolve compares the effective local values of a context with inbound data.
// A context whose push has not finished (PENDING or PROCESSING) always rejects the pull.
func (r *ConflictResolver) Resolve(strategy models.ConflictStrategy, data *models.ProductShopData, local models.FormState, inbound InboundProduct) Resolution {
	switch data.SyncStatus {
	case models.SyncStatusPending:
		return Resolution{
			Rejected: true,
			Status:   models.SyncStatusPending,
			Reason:   "local changes are waiting to be pushed",
		}
	case models.SyncStatusProcessing:
		return Resolution{
			Rejected: true,
			Status:   models.SyncStatusProcessing,
			Reason:   "local changes are being pushed",
		}
	}

	diffs, skipped := divergence(local, inbound)
	if len(diffs) == 0 {
		return Resolution{Apply: true, Status: models.SyncStatusSynced, Reason: "no differences", Skipped: skipped}
	}

	switch strategy {
	case models.StrategyManual:
		return Resolution{Status: models.SyncStatusConflict, Reason: "manual review required", Conflicts: diffs, Skipped: skipped}
	case models.StrategyLocalWins:
		return Resolution{Status: models.SyncStatusSynced, Reason: "local values kept", Skipped: skipped}
	case models.StrategyNewestWins:
		if !inbound.UpdatedAt.After(data.UpdatedAt) {
			return Resolution{Status: models.SyncStatusSynced, Reason: "local values are newer", Skipped: skipped}
		}
	}

	significant := make(map[string]FieldConflict)
	for name, c := range diffs {
		if r.significant[name] {
			significant[name] = c
		}
	}
	if len(significant) > 0 {
		return Resolution{
			Status:    models.SyncStatusConflict,
			Reason:    fmt.Sprintf("%d significant field(s) diverged", len(significant)),
			Conflicts: significant,
			Skipped:   skipped,
		}
	}
	return Resolution{Apply: true, Status: models.SyncStatusSynced, Reason: "external values accepted", Conflicts: diffs, Skipped: skipped}
}

// divergence lists fields whose inbound value differs from the local one.
// Fields the platform did not report are ignored; unparseable inbound values are skipped.
func divergence(local models.FormState, inbound InboundProduct) (map[string]FieldConflict, []string) {
	diffs := make(map[string]FieldConflict)
	var skipped []string
	for _, f := range models.AllFields() {
		ext, ok := inbound.Fields[f]
		if !ok {
			continue
		}
		ne, err := NormalizeValue(f, &ext)
		if err != nil {
			skipped = append(skipped, string(f))
			continue
		}
		loc := local.Get(f)
		nl, err := NormalizeValue(f, &loc)
		if err != nil || nl != ne {
			diffs[string(f)] = FieldConflict{Local: loc, External: ext}
		}
	}

	if !inbound.Categories.IsEmpty() &&
		NormalizeIDSet(inbound.Categories.Selected) != NormalizeIDSet(local.Categories.Selected) {
		diffs[CategoriesField] = FieldConflict{
			Local:    NormalizeIDSet(local.Categories.Selected),
			External: NormalizeIDSet(inbound.Categories.Selected),
		}
	}
	return diffs, skipped
}

// ApplyInbound writes inbound values into the override layer. A value equal to the
// canonical default clears the override so the field keeps inheriting.
// It returns the names of the fields whose override changed.
func ApplyInbound(data *models.ProductShopData, defaults models.FormState, inbound InboundProduct) ([]string, error) {
	before := data.FormState()

	for _, f := range models.AllFields() {
		ext, ok := inbound.Fields[f]
		if !ok {
			continue
		}
		ne, err := NormalizeValue(f, &ext)
		if err != nil {
			continue
		}
		def := defaults.Get(f)
		nd, _ := NormalizeValue(f, &def)

		var override *string
		if ne != "" && ne != nd {
			override = &ne
		}
		if err := data.SetOverride(f, override); err != nil {
			return nil, err
		}
	}

	if !inbound.Categories.IsEmpty() {
		selection := inbound.Categories.Normalize()
		if NormalizeIDSet(selection.Selected) == NormalizeIDSet(defaults.Categories.Selected) &&
			samePrimary(selection.Primary, defaults.Categories.Primary) {
			selection = models.CategorySelection{}
		}
		data.Categories = datatypes.NewJSONType(selection)
	}

	return ChangedFields(before, data.FormState()), nil
}
