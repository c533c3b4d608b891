package core

import (
	"cruiseline/internal/datastore"
)

// Resource describes one CRUD collection exposed by the API.
type Resource struct {
	// Name is the singular label used in error messages.
	Name       string
	Collection string
	// Required fields are checked in this order.
	Required []string
}

var (
	Projects = Resource{Name: "Project", Collection: "projects", Required: []string{"id", "name", "status"}}
	Records  = Resource{Name: "Record", Collection: "records", Required: []string{"id", "title", "division", "medium", "year", "status"}}
)

// Resources lists every collection the API serves.
func Resources() []Resource {
	return []Resource{Projects, Records}
}

// MissingFields returns the required fields that are absent or falsy in row.
func (r Resource) MissingFields(row datastore.Row) []string {
	var missing []string
	for _, field := range r.Required {
		if !truthy(row[field]) {
			missing = append(missing, field)
		}
	}
	return missing
}

// truthy treats nil, "", 0, false and empty collections as missing.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// IDOf returns the row's id in its text form, or "" when falsy.
func IDOf(row datastore.Row) string {
	if !truthy(row["id"]) {
		return ""
	}
	return datastore.FormatValue(row["id"])
}
