package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// reservedColumns are server-managed and never written.
var reservedColumns = map[string]bool{
	"Id":          true,
	"ID":          true,
	"Modified":    true,
	"Attachments": true,
}

// Coerce converts a raw field value into the wire representation required
// by col. The second result is false when the value is absent and must be
// left out of the payload entirely: nil, empty strings, and numbers that do
// not parse. An unparseable number is never turned into zero.
func Coerce(raw any, col sharepoint.ColumnDescriptor) (any, bool) {
	if raw == nil {
		return nil, false
	}

	if s, ok := raw.(string); ok && s == "" {
		return nil, false
	}

	switch col.DataType {
	case sharepoint.TypeText:
		return stringify(raw), true
	case sharepoint.TypeNumber:
		if n, ok := toInteger(raw); ok {
			return n, true
		}

		f, ok := toFloat(raw)
		if !ok {
			return nil, false
		}

		return f, true
	default:
		return raw, true
	}
}

// CoerceFields builds a write payload from display-name keyed fields. Keys
// become internal names; reserved columns and absent values are omitted.
// Names unknown to schema are dropped.
func CoerceFields(fields sharepoint.Fields, schema sharepoint.Schema, logger *slog.Logger) map[string]any {
	out := make(map[string]any, len(fields))

	for name, raw := range fields {
		if reservedColumns[name] {
			continue
		}

		col, ok := schema[name]
		if !ok {
			if logger != nil {
				logger.Debug("dropping field not in destination schema", slog.String("field", name))
			}

			continue
		}

		if reservedColumns[col.InternalName] {
			continue
		}

		v, ok := Coerce(raw, col)
		if !ok {
			continue
		}

		out[col.InternalName] = v
	}

	return out
}

// stringify renders a scalar the way a user would type it.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// toInteger converts values that are exact integers. Integers stay int64 so
// values beyond 2^53 keep every digit; floats are left to toFloat.
func toInteger(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		n, err := strconv.ParseInt(x.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// toFloat converts numeric-looking values. NaN and infinities are rejected
// since they cannot be encoded as JSON.
func toFloat(v any) (float64, bool) {
	var f float64

	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}

		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}

		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}
