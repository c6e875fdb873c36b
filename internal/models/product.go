package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product is the canonical record; every shop inherits from it
type Product struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	SKU              string `gorm:"type:varchar(128);not null;uniqueIndex:idx_products_sku" json:"sku"`
	Name             string `gorm:"type:varchar(255);not null" json:"name"`
	Slug             string `gorm:"type:varchar(255)" json:"slug"`
	ShortDescription string `gorm:"type:text" json:"shortDescription"`
	LongDescription  string `gorm:"type:text" json:"longDescription"`
	MetaTitle        string `gorm:"type:varchar(255)" json:"metaTitle"`
	MetaDescription  string `gorm:"type:text" json:"metaDescription"`
	Manufacturer     string `gorm:"type:varchar(255)" json:"manufacturer"`
	SupplierCode     string `gorm:"type:varchar(128)" json:"supplierCode"`
	EAN              string `gorm:"type:varchar(32)" json:"ean"`

	Weight  decimal.Decimal `gorm:"type:numeric(10,3);default:0" json:"weight"`
	Height  decimal.Decimal `gorm:"type:numeric(10,2);default:0" json:"height"`
	Width   decimal.Decimal `gorm:"type:numeric(10,2);default:0" json:"width"`
	Length  decimal.Decimal `gorm:"type:numeric(10,2);default:0" json:"length"`
	TaxRate decimal.Decimal `gorm:"type:numeric(5,2);default:0" json:"taxRate"`

	IsActive  bool `gorm:"not null" json:"isActive"`
	SortOrder int  `gorm:"default:0" json:"sortOrder"`

	Categories datatypes.JSONType[CategorySelection] `gorm:"default:'{\"selected\":[]}'" json:"categories"`

	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for Product
func (Product) TableName() string {
	return "products"
}

// BeforeCreate starts optimistic versioning at 1
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.Version == 0 {
		p.Version = 1
	}
	return nil
}

func (p *Product) textColumn(f Field) *string {
	switch f {
	case FieldSKU:
		return &p.SKU
	case FieldName:
		return &p.Name
	case FieldSlug:
		return &p.Slug
	case FieldShortDescription:
		return &p.ShortDescription
	case FieldLongDescription:
		return &p.LongDescription
	case FieldMetaTitle:
		return &p.MetaTitle
	case FieldMetaDescription:
		return &p.MetaDescription
	case FieldManufacturer:
		return &p.Manufacturer
	case FieldSupplierCode:
		return &p.SupplierCode
	case FieldEAN:
		return &p.EAN
	}
	return nil
}

func (p *Product) decimalColumn(f Field) *decimal.Decimal {
	switch f {
	case FieldWeight:
		return &p.Weight
	case FieldHeight:
		return &p.Height
	case FieldWidth:
		return &p.Width
	case FieldLength:
		return &p.Length
	case FieldTaxRate:
		return &p.TaxRate
	}
	return nil
}

// FieldValue returns the default value of f in canonical string form
func (p *Product) FieldValue(f Field) string {
	spec := f.Spec()
	switch spec.Kind {
	case KindDecimal:
		if col := p.decimalColumn(f); col != nil {
			return col.StringFixed(spec.Scale)
		}
	case KindBoolean:
		if f == FieldIsActive {
			return formatFlag(p.IsActive)
		}
	case KindInteger:
		if f == FieldSortOrder {
			return strconv.Itoa(p.SortOrder)
		}
	default:
		if col := p.textColumn(f); col != nil {
			return *col
		}
	}
	return ""
}

// SetFieldValue assigns a canonical string value to f
func (p *Product) SetFieldValue(f Field, value string) error {
	spec := f.Spec()
	switch spec.Kind {
	case KindDecimal:
		col := p.decimalColumn(f)
		if col == nil {
			break
		}
		if value == "" {
			*col = decimal.Zero
			return nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", f, err)
		}
		*col = d
		return nil
	case KindBoolean:
		if f == FieldIsActive {
			b, err := parseFlag(value)
			if err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
			p.IsActive = b
			return nil
		}
	case KindInteger:
		if f == FieldSortOrder {
			if value == "" {
				p.SortOrder = 0
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
			p.SortOrder = n
			return nil
		}
	default:
		if col := p.textColumn(f); col != nil {
			*col = value
			return nil
		}
	}
	return &UnknownFieldError{Field: string(f)}
}

// FormState returns the canonical form of the product
func (p *Product) FormState() FormState {
	state := NewFormState()
	for _, f := range AllFields() {
		state.Fields[f] = p.FieldValue(f)
	}
	state.Categories = p.Categories.Data().Normalize()
	return state
}

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseFlag(value string) (bool, error) {
	switch value {
	case "1":
		return true, nil
	case "0", "":
		return false, nil
	}
	return strconv.ParseBool(value)
}

// Category is a canonical taxonomy node
type Category struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ParentID *int64 `gorm:"index:idx_categories_parent" json:"parentId,omitempty"`
	Name     string `gorm:"type:varchar(255);not null" json:"name"`
	Level    int    `gorm:"default:0" json:"level"`
	Position int    `gorm:"default:0" json:"position"`
	IsRoot   bool   `gorm:"default:false;index:idx_categories_root" json:"isRoot"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for Category
func (Category) TableName() string {
	return "categories"
}

// CategoryMapping links a canonical category to its id in one shop
type CategoryMapping struct {
	ID         int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CategoryID int64 `gorm:"not null;uniqueIndex:idx_category_mappings_shop_category,priority:2" json:"categoryId"`
	ShopID     int64 `gorm:"not null;uniqueIndex:idx_category_mappings_shop_external,priority:1;uniqueIndex:idx_category_mappings_shop_category,priority:1" json:"shopId"`
	ExternalID int64 `gorm:"not null;uniqueIndex:idx_category_mappings_shop_external,priority:2" json:"externalId"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for CategoryMapping
func (CategoryMapping) TableName() string {
	return "category_mappings"
}
