package backend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sophialabs/odatamock/internal/domain/odata"
	"github.com/sophialabs/odatamock/internal/infrastructure/services"
)

// ErrInvalidKey indicates a malformed key predicate such as Products(1,).
var ErrInvalidKey = errors.New("invalid key predicate")

// typed literal prefixes accepted inside key predicates.
var literalPrefixes = []string{"guid", "datetimeoffset", "datetime", "time", "binary", "x"}

// ParseKey parses the text between the parentheses of an entity address.
// A single unnamed value binds to the first key property; composite keys
// use Name=value pairs.
func ParseKey(raw string, t *odata.EntityType) (map[string]any, error) {
	if t == nil || len(t.Keys) == 0 {
		return nil, fmt.Errorf("%w: entity type has no key", ErrInvalidKey)
	}

	parts, err := splitKey(raw)
	if err != nil {
		return nil, err
	}

	key := make(map[string]any, len(parts))
	for _, part := range parts {
		name, value, named := cutOutsideQuotes(part, '=')
		if !named {
			if len(parts) != 1 {
				return nil, fmt.Errorf("%w: %q needs named values", ErrInvalidKey, raw)
			}
			name, value = t.Keys[0], part
		}
		name = strings.TrimSpace(name)
		v, err := parseKeyValue(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		key[name] = v
	}

	for _, k := range t.Keys {
		if _, ok := key[k]; !ok {
			return nil, fmt.Errorf("%w: missing key property %s", ErrInvalidKey, k)
		}
	}
	if len(key) != len(t.Keys) {
		return nil, fmt.Errorf("%w: %q does not match key %v", ErrInvalidKey, raw, t.Keys)
	}
	return key, nil
}

// MatchesKey reports whether e carries key. Numeric and boolean key
// properties compare by value, so 1, 1.0 and "1" are the same key. Every
// other type compares its literal text exactly, so '23' never matches
// "000000000000000023". Guids ignore case.
func MatchesKey(e odata.Entity, key map[string]any, t *odata.EntityType) bool {
	for name, want := range key {
		got, ok := e[name]
		if !ok || !keyValueEqual(got, want, keyType(t, name)) {
			return false
		}
	}
	return true
}

func keyType(t *odata.EntityType, name string) string {
	if t == nil {
		return ""
	}
	p, _ := t.Property(name)
	return p.Type
}

func keyValueEqual(got, want any, edmType string) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	switch edmType {
	case "Edm.Int16", "Edm.Int32", "Edm.Int64", "Edm.Byte", "Edm.SByte",
		"Edm.Decimal", "Edm.Double", "Edm.Single", "Edm.Boolean":
		return services.CompareValues(got, want) == 0
	case "Edm.Guid":
		return strings.EqualFold(keyText(got), keyText(want))
	default:
		return keyText(got) == keyText(want)
	}
}

func keyText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// FormatKey renders the key predicate of e, without parentheses.
func FormatKey(e odata.Entity, t *odata.EntityType) string {
	if t == nil || len(t.Keys) == 0 {
		return ""
	}
	if len(t.Keys) == 1 {
		return formatKeyValue(e[t.Keys[0]], t, t.Keys[0])
	}
	pairs := make([]string, 0, len(t.Keys))
	for _, k := range t.Keys {
		pairs = append(pairs, k+"="+formatKeyValue(e[k], t, k))
	}
	return strings.Join(pairs, ",")
}

func formatKeyValue(v any, t *odata.EntityType, name string) string {
	p, _ := t.Property(name)
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		switch p.Type {
		case "Edm.Guid":
			return "guid'" + x + "'"
		case "Edm.DateTime":
			return "datetime'" + x + "'"
		case "Edm.Int16", "Edm.Int32", "Edm.Int64", "Edm.Byte", "Edm.SByte",
			"Edm.Decimal", "Edm.Double", "Edm.Single":
			return x
		}
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return fmt.Sprint(x)
	}
}

func parseKeyValue(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidKey)
	}

	lower := strings.ToLower(s)
	for _, prefix := range literalPrefixes {
		if strings.HasPrefix(lower, prefix+"'") {
			return unquote(s[len(prefix):])
		}
	}
	if s[0] == '\'' {
		return unquote(s)
	}

	switch lower {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}

	num := strings.TrimRight(s, "mMlLdDfF")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: unrecognised value %q", ErrInvalidKey, s)
	}
	return f, nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", fmt.Errorf("%w: unterminated string %s", ErrInvalidKey, s)
	}
	return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), nil
}

// splitKey splits on commas that are not inside quotes.
func splitKey(raw string) ([]string, error) {
	var parts []string
	inQuote := false
	start := 0
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '\'':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated string in %q", ErrInvalidKey, raw)
	}
	parts = append(parts, raw[start:])

	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidKey, raw)
		}
	}
	return parts, nil
}

func cutOutsideQuotes(s string, sep byte) (string, string, bool) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == sep && !inQuote:
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
