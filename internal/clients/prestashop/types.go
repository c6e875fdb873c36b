package prestashop

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexInt decodes ids the webservice sends either as numbers or quoted strings
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexBool decodes "1", 1, true and their negatives
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

type psLangValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// langField holds a translatable value, sent as a plain string or a per-language list
type langField struct {
	plain  string
	values []psLangValue
}

func (l *langField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '[' {
		return json.Unmarshal(data, &l.values)
	}
	return json.Unmarshal(data, &l.plain)
}

// pick returns the value for languageID, falling back to the first translation
func (l langField) pick(languageID int64) string {
	if len(l.values) == 0 {
		return l.plain
	}
	want := strconv.FormatInt(languageID, 10)
	for _, v := range l.values {
		if v.ID == want {
			return v.Value
		}
	}
	return l.values[0].Value
}

type psCategory struct {
	ID             flexInt   `json:"id"`
	ParentID       flexInt   `json:"id_parent"`
	Name           langField `json:"name"`
	IsRootCategory flexBool  `json:"is_root_category"`
}

type psAssociationID struct {
	ID flexInt `json:"id"`
}

type psProduct struct {
	ID                flexInt   `json:"id"`
	Reference         string    `json:"reference"`
	EAN13             string    `json:"ean13"`
	SupplierReference string    `json:"supplier_reference"`
	ManufacturerName  string    `json:"manufacturer_name"`
	Name              langField `json:"name"`
	LinkRewrite       langField `json:"link_rewrite"`
	DescriptionShort  langField `json:"description_short"`
	Description       langField `json:"description"`
	MetaTitle         langField `json:"meta_title"`
	MetaDescription   langField `json:"meta_description"`
	Weight            string    `json:"weight"`
	Height            string    `json:"height"`
	Width             string    `json:"width"`
	Depth             string    `json:"depth"`
	Active            flexBool  `json:"active"`
	DefaultCategoryID flexInt   `json:"id_category_default"`
	DateUpd           string    `json:"date_upd"`
	Associations      struct {
		Categories []psAssociationID `json:"categories"`
	} `json:"associations"`
}
