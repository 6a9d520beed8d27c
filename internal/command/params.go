package command

import (
	"fmt"
	"strings"

	"tableforge/internal/ddl"
	"tableforge/internal/domain"
)

// Parameter extraction helpers. Params arrive as map[string]any decoded
// from JSON (HTTP) or YAML (CLI), so numbers may be float64 or int and
// lists may be []any.

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", domain.ErrValidation("parameter %q is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", domain.ErrValidation("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalStringParam(params map[string]any, key, fallback string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.ErrValidation("parameter %q must be a string", key)
	}
	return s, nil
}

func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, domain.ErrValidation("parameter %q is required", key)
	}
	n, ok := toInt(v)
	if !ok {
		return 0, domain.ErrValidation("parameter %q must be an integer", key)
	}
	return int(n), nil
}

func optionalInt64Param(params map[string]any, key string) (int64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, false, domain.ErrValidation("parameter %q must be an integer", key)
	}
	return n, true, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func stringSliceParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, domain.ErrValidation("parameter %q is required", key)
	}
	switch s := v.(type) {
	case []string:
		if len(s) == 0 {
			return nil, domain.ErrValidation("parameter %q must not be empty", key)
		}
		return s, nil
	case []any:
		if len(s) == 0 {
			return nil, domain.ErrValidation("parameter %q must not be empty", key)
		}
		out := make([]string, len(s))
		for i, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, domain.ErrValidation("parameter %q must be a list of strings", key)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, domain.ErrValidation("parameter %q must be a list of strings", key)
	}
}

// renderValue turns a cell value into a SQL literal. Strings are quoted
// with standard single-quote doubling; nil renders as NULL.
func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return ddl.QuoteLiteral(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case float64, float32, int, int32, int64:
		return fmt.Sprint(x)
	default:
		return ddl.QuoteLiteral(fmt.Sprint(x))
	}
}

// validColumnTarget rejects commands aimed at internal columns: the
// ordering column and the Tier-1 base twins.
func validColumnTarget(name string) error {
	if err := ddl.ValidateIdentifier(name); err != nil {
		return domain.ErrValidation("invalid column name %q: %v", name, err)
	}
	if name == domain.OrderColumn {
		return domain.ErrValidation("column %q is managed internally", name)
	}
	if strings.HasSuffix(name, "__base") {
		return domain.ErrValidation("column %q is a version backup column", name)
	}
	return nil
}
