package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultContextKey is the buffer key of the canonical context
const DefaultContextKey = "default"

type contextKind uint8

const (
	contextDefault contextKind = iota
	contextShop
)

// Context is either the canonical product record or one shop's override layer
type Context struct {
	kind   contextKind
	shopID int64
}

// DefaultContext returns the canonical context
func DefaultContext() Context {
	return Context{kind: contextDefault}
}

// ShopContext returns the override context of a shop
func ShopContext(shopID int64) Context {
	return Context{kind: contextShop, shopID: shopID}
}

// IsDefault reports whether c is the canonical context
func (c Context) IsDefault() bool {
	return c.kind == contextDefault
}

// ShopID returns the shop of a shop context
func (c Context) ShopID() (int64, bool) {
	if c.kind != contextShop {
		return 0, false
	}
	return c.shopID, true
}

// Key returns the buffer key: "default" or the decimal shop id
func (c Context) Key() string {
	if c.kind == contextShop {
		return strconv.FormatInt(c.shopID, 10)
	}
	return DefaultContextKey
}

func (c Context) String() string {
	if c.kind == contextShop {
		return "shop:" + c.Key()
	}
	return DefaultContextKey
}

// ParseContextKey parses "default" or a positive decimal shop id.
// Shop ids are compared as integers, so "007" and "7" name the same context.
func ParseContextKey(key string) (Context, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.EqualFold(key, DefaultContextKey) {
		return DefaultContext(), nil
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return Context{}, fmt.Errorf("invalid context key %q", key)
	}
	return ShopContext(id), nil
}
