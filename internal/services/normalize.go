package services

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"catalog-override-service/internal/models"
)

// NormalizeValue converts a raw field value to its comparison form.
// NULL and "" both normalize to "".
func NormalizeValue(field models.Field, raw *string) (string, error) {
	if raw == nil {
		return "", nil
	}
	value := *raw
	spec := field.Spec()

	switch spec.Kind {
	case models.KindDecimal:
		value = strings.TrimSpace(value)
		if value == "" {
			return "", nil
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(value, ",", "."))
		if err != nil {
			return "", &DataError{Field: string(field), Value: value, Reason: "not a number"}
		}
		return d.StringFixed(spec.Scale), nil

	case models.KindInteger:
		value = strings.TrimSpace(value)
		if value == "" {
			return "", nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil || !d.IsInteger() {
			return "", &DataError{Field: string(field), Value: value, Reason: "not an integer"}
		}
		return d.String(), nil

	case models.KindBoolean:
		value = strings.TrimSpace(value)
		if value == "" {
			return "", nil
		}
		b, err := parseBool(value)
		if err != nil {
			return "", &DataError{Field: string(field), Value: value, Reason: err.Error()}
		}
		if b {
			return "1", nil
		}
		return "0", nil
	}

	return value, nil
}

// NormalizeAny normalizes an untyped value such as a decoded JSON scalar.
// Numbers compare by value, so 23 and "23.00" are equal.
func NormalizeAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return decimal.NewFromFloat(t).String()
	case decimal.Decimal:
		return t.String()
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(t)); err == nil {
			return d.String()
		}
		return t
	case []int64:
		return NormalizeIDSet(t)
	}
	return fmt.Sprint(v)
}

// NormalizeIDSet returns a sorted, de-duplicated, comma-joined form of ids
func NormalizeIDSet(ids []int64) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}
