package proxy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"bridge-rpc/fault"
)

// CastKind is a normalized cast target.
type CastKind byte

const (
	CastString  CastKind = 'S'
	CastBoolean CastKind = 'B'
	CastInteger CastKind = 'I'
	CastFloat   CastKind = 'F'
	CastNull    CastKind = 'N'
	CastList    CastKind = 'A'
	CastMap     CastKind = 'M'
)

func (k CastKind) String() string {
	switch k {
	case CastString:
		return "string"
	case CastBoolean:
		return "boolean"
	case CastInteger:
		return "integer"
	case CastFloat:
		return "float"
	case CastNull:
		return "null"
	case CastList:
		return "list"
	case CastMap:
		return "map"
	}
	return fmt.Sprintf("cast(%c)", byte(k))
}

// ParseCastKind maps a kind name onto a CastKind by its leading character,
// case-insensitively: S string, B boolean, I/L integer, F/D float, N null,
// A list, M/O map. Anything else fails.
func ParseCastKind(kind string) (CastKind, error) {
	if kind == "" {
		return 0, fault.New(fault.KindUnsupportedCast, "empty cast kind")
	}
	switch kind[0] {
	case 'S', 's':
		return CastString, nil
	case 'B', 'b':
		return CastBoolean, nil
	case 'I', 'i', 'L', 'l':
		return CastInteger, nil
	case 'F', 'f', 'D', 'd':
		return CastFloat, nil
	case 'N', 'n':
		return CastNull, nil
	case 'A', 'a':
		return CastList, nil
	case 'M', 'm', 'O', 'o':
		return CastMap, nil
	default:
		return 0, fault.New(fault.KindUnsupportedCast, "unsupported cast kind %q", kind)
	}
}

// remoteCasts names the bridge method that converts a reference host-side.
var remoteCasts = map[CastKind]string{
	CastString:  "castToString",
	CastBoolean: "castToBoolean",
	CastInteger: "castToExact",
	CastFloat:   "castToInExact",
	CastList:    "getValues",
	CastMap:     "getValues",
}

// castLocal converts an unmarshaled value. References must have been
// resolved host-side first.
func castLocal(v any, kind CastKind) (any, error) {
	switch kind {
	case CastNull:
		return nil, nil
	case CastString:
		return toString(v)
	case CastBoolean:
		return toBool(v), nil
	case CastInteger:
		return toInt(v)
	case CastFloat:
		return toFloat(v)
	case CastList:
		return toList(v), nil
	case CastMap:
		return toMap(v), nil
	}
	return nil, fault.New(fault.KindUnsupportedCast, "unsupported cast kind %s", kind)
}

// normalize widens Go numeric types to the int64 and float64 that host
// values unmarshal to.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}

func cannotCast(v any, kind CastKind) error {
	return fault.New(fault.KindInvalidUsage, "cannot cast %T %v to %s", v, v, kind)
}

func toString(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	}
	return nil, cannotCast(v, CastString)
}

func toBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
		return t != "" && t != "0"
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func toInt(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return int64(0), nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), nil
		}
	}
	return nil, cannotCast(v, CastInteger)
}

func toFloat(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return float64(0), nil
	case bool:
		if t {
			return float64(1), nil
		}
		return float64(0), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, nil
		}
	}
	return nil, cannotCast(v, CastFloat)
}

// toList keeps lists, orders map values by key and wraps scalars.
func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = t[k]
		}
		return out
	}
	return []any{v}
}

// toMap keeps maps, keys lists by index and wraps scalars under "0".
func toMap(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return t
	case []any:
		out := make(map[string]any, len(t))
		for i, item := range t {
			out[strconv.Itoa(i)] = item
		}
		return out
	}
	return map[string]any{"0": v}
}
