package datastore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FormatValue renders a row value the way a text comparison in Postgres would
// see it. Filters and ordering in the in-process backends compare these forms.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// Matches reports whether row satisfies every filter.
func Matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		got, ok := row[f.Column]
		if !ok || got == nil {
			if f.Value != nil {
				return false
			}
			continue
		}
		if FormatValue(got) != FormatValue(f.Value) {
			return false
		}
	}
	return true
}

// SortRows orders rows in place, ascending, by the text form of column.
func SortRows(rows []Row, column string) {
	if column == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return FormatValue(rows[i][column]) < FormatValue(rows[j][column])
	})
}

// CloneRow deep-copies nested maps and slices so callers cannot mutate stored state.
func CloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneRow(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	default:
		return val
	}
}
