package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProductShopData holds one shop's override layer and sync tracking for a product.
// A NULL column means the shop inherits the canonical value.
type ProductShopData struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64 `gorm:"not null;uniqueIndex:idx_product_shop_data_product_shop,priority:1" json:"productId"`
	ShopID    int64 `gorm:"not null;uniqueIndex:idx_product_shop_data_product_shop,priority:2;index:idx_product_shop_data_shop" json:"shopId"`

	// Overrides
	SKU              *string             `gorm:"type:varchar(128)" json:"sku"`
	Name             *string             `gorm:"type:varchar(255)" json:"name"`
	Slug             *string             `gorm:"type:varchar(255)" json:"slug"`
	ShortDescription *string             `gorm:"type:text" json:"shortDescription"`
	LongDescription  *string             `gorm:"type:text" json:"longDescription"`
	MetaTitle        *string             `gorm:"type:varchar(255)" json:"metaTitle"`
	MetaDescription  *string             `gorm:"type:text" json:"metaDescription"`
	Manufacturer     *string             `gorm:"type:varchar(255)" json:"manufacturer"`
	SupplierCode     *string             `gorm:"type:varchar(128)" json:"supplierCode"`
	EAN              *string             `gorm:"type:varchar(32)" json:"ean"`
	Weight           decimal.NullDecimal `gorm:"type:numeric(10,3)" json:"weight"`
	Height           decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"height"`
	Width            decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"width"`
	Length           decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"length"`
	TaxRate          decimal.NullDecimal `gorm:"type:numeric(5,2)" json:"taxRate"`
	IsActive         *bool               `json:"isActive"`
	SortOrder        *int                `json:"sortOrder"`

	Categories datatypes.JSONType[CategorySelection] `gorm:"default:'{\"selected\":[]}'" json:"categories"`

	// Sync tracking
	SyncStatus    SyncStatus                  `gorm:"type:varchar(20);not null;default:'NOT_LINKED';index:idx_product_shop_data_status" json:"syncStatus"`
	PendingFields datatypes.JSONSlice[string] `gorm:"default:'[]'" json:"pendingFields"`
	SyncJobID     *uuid.UUID                  `gorm:"type:uuid" json:"syncJobId,omitempty"`

	// Changes saved while a push was running; sent once that push finishes
	QueuedFields  datatypes.JSONSlice[string] `gorm:"default:'[]'" json:"queuedFields,omitempty"`
	QueuedHash    string                      `gorm:"type:varchar(64)" json:"-"`
	QueuedTrigger TriggerType                 `gorm:"type:varchar(50)" json:"-"`

	SyncError    string `gorm:"type:text" json:"syncError,omitempty"`
	ConflictData JSONB  `gorm:"type:jsonb" json:"conflictData,omitempty"`
	LastSyncHash string `gorm:"type:varchar(64)" json:"lastSyncHash,omitempty"`
	ExternalID   *int64 `json:"externalId,omitempty"`

	LastSyncAt         *time.Time `json:"lastSyncAt,omitempty"`
	LastPulledAt       *time.Time `json:"lastPulledAt,omitempty"`
	ConflictDetectedAt *time.Time `json:"conflictDetectedAt,omitempty"`

	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for ProductShopData
func (ProductShopData) TableName() string {
	return "product_shop_data"
}

// BeforeCreate starts optimistic versioning at 1 and marks the row unlinked
func (d *ProductShopData) BeforeCreate(tx *gorm.DB) error {
	if d.Version == 0 {
		d.Version = 1
	}
	if d.SyncStatus == "" {
		d.SyncStatus = SyncStatusNotLinked
	}
	return nil
}

func (d *ProductShopData) textColumn(f Field) **string {
	switch f {
	case FieldSKU:
		return &d.SKU
	case FieldName:
		return &d.Name
	case FieldSlug:
		return &d.Slug
	case FieldShortDescription:
		return &d.ShortDescription
	case FieldLongDescription:
		return &d.LongDescription
	case FieldMetaTitle:
		return &d.MetaTitle
	case FieldMetaDescription:
		return &d.MetaDescription
	case FieldManufacturer:
		return &d.Manufacturer
	case FieldSupplierCode:
		return &d.SupplierCode
	case FieldEAN:
		return &d.EAN
	}
	return nil
}

func (d *ProductShopData) decimalColumn(f Field) *decimal.NullDecimal {
	switch f {
	case FieldWeight:
		return &d.Weight
	case FieldHeight:
		return &d.Height
	case FieldWidth:
		return &d.Width
	case FieldLength:
		return &d.Length
	case FieldTaxRate:
		return &d.TaxRate
	}
	return nil
}

// Override returns the override of f in canonical string form; nil means inherit
func (d *ProductShopData) Override(f Field) *string {
	spec := f.Spec()
	switch spec.Kind {
	case KindDecimal:
		if col := d.decimalColumn(f); col != nil && col.Valid {
			v := col.Decimal.StringFixed(spec.Scale)
			return &v
		}
	case KindBoolean:
		if f == FieldIsActive && d.IsActive != nil {
			v := formatFlag(*d.IsActive)
			return &v
		}
	case KindInteger:
		if f == FieldSortOrder && d.SortOrder != nil {
			v := strconv.Itoa(*d.SortOrder)
			return &v
		}
	default:
		if col := d.textColumn(f); col != nil && *col != nil {
			v := **col
			return &v
		}
	}
	return nil
}

// SetOverride assigns a canonical string override; nil or "" clears it
func (d *ProductShopData) SetOverride(f Field, value *string) error {
	unset := value == nil || *value == ""
	spec := f.Spec()
	switch spec.Kind {
	case KindDecimal:
		col := d.decimalColumn(f)
		if col == nil {
			break
		}
		if unset {
			*col = decimal.NullDecimal{}
			return nil
		}
		v, err := decimal.NewFromString(*value)
		if err != nil {
			return fmt.Errorf("field %s: %w", f, err)
		}
		*col = decimal.NewNullDecimal(v)
		return nil
	case KindBoolean:
		if f == FieldIsActive {
			if unset {
				d.IsActive = nil
				return nil
			}
			b, err := parseFlag(*value)
			if err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
			d.IsActive = &b
			return nil
		}
	case KindInteger:
		if f == FieldSortOrder {
			if unset {
				d.SortOrder = nil
				return nil
			}
			n, err := strconv.Atoi(*value)
			if err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
			d.SortOrder = &n
			return nil
		}
	default:
		if col := d.textColumn(f); col != nil {
			if unset {
				*col = nil
				return nil
			}
			v := *value
			*col = &v
			return nil
		}
	}
	return &UnknownFieldError{Field: string(f)}
}

// FormState returns the override layer as a form; unset fields are ""
func (d *ProductShopData) FormState() FormState {
	state := NewFormState()
	for _, f := range AllFields() {
		if v := d.Override(f); v != nil {
			state.Fields[f] = *v
		} else {
			state.Fields[f] = ""
		}
	}
	state.Categories = d.Categories.Data().Normalize()
	return state
}

// NeedsSync reports whether the row is waiting on or blocked from the external system
func (d *ProductShopData) NeedsSync() bool {
	switch d.SyncStatus {
	case SyncStatusPending, SyncStatusError, SyncStatusConflict:
		return true
	}
	return false
}
