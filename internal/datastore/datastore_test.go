package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrConflict, true},
		{"wrapped sentinel", fmt.Errorf("insert projects: %w", ErrConflict), true},
		{"duplicate key text", errors.New(`ERROR: Duplicate Key value violates constraint "projects_pkey"`), true},
		{"unique text", errors.New("UNIQUE constraint failed: records.id"), true},
		{"other", errors.New("connection refused"), false},
		{"config", ErrConfig, false},
		{"server conflict", &Error{Code: "23505", Message: "key exists", Conflict: true}, true},
		{"server error", &Error{Code: "42703", Message: "column projects.bogus does not exist"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsConflict(tc.err); got != tc.want {
				t.Fatalf("IsConflict(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorKeepsServerMessage(t *testing.T) {
	cause := errors.New("driver detail")
	err := fmt.Errorf("wrapped: %w", &Error{Code: "42703", Message: "column projects.bogus does not exist", Err: cause})
	var dsErr *Error
	if !errors.As(err, &dsErr) || dsErr.Error() != "column projects.bogus does not exist" {
		t.Fatalf("expected server message, got %v", dsErr)
	}
	if !errors.Is(err, cause) || errors.Is(err, ErrConflict) {
		t.Fatalf("unexpected unwrap chain for %v", err)
	}
	if got := (&Error{Err: cause}).Error(); got != "driver detail" {
		t.Fatalf("expected cause text fallback, got %q", got)
	}
	if got := (&Error{Code: "XX000"}).Error(); got != "datastore error XX000" {
		t.Fatalf("expected code fallback, got %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	cases := map[string]struct {
		in   any
		want string
	}{
		"nil":     {nil, ""},
		"string":  {"GC-R-001", "GC-R-001"},
		"float":   {float64(2025), "2025"},
		"decimal": {1.5, "1.5"},
		"number":  {json.Number("42"), "42"},
		"bool":    {true, "true"},
		"int":     {7, "7"},
		"slice":   {[]any{"a"}, `["a"]`},
	}
	for name, tc := range cases {
		if got := FormatValue(tc.in); got != tc.want {
			t.Fatalf("%s: FormatValue = %q, want %q", name, got, tc.want)
		}
	}
}

func TestMatchesAndSort(t *testing.T) {
	rows := []Row{
		{"id": "b", "year": float64(2024)},
		{"id": "a", "year": float64(2025)},
		{"id": "c", "year": nil},
	}
	if !Matches(rows[1], []Filter{Eq("id", "a"), Eq("year", "2025")}) {
		t.Fatalf("expected row a to match")
	}
	if Matches(rows[0], []Filter{Eq("id", "a")}) {
		t.Fatalf("row b must not match id=a")
	}
	if Matches(rows[2], []Filter{Eq("year", 2024)}) {
		t.Fatalf("null column must not match a value")
	}
	if !Matches(rows[2], []Filter{Eq("year", nil)}) {
		t.Fatalf("null column should match nil filter")
	}

	SortRows(rows, "id")
	var ids []string
	for _, r := range rows {
		ids = append(ids, r["id"].(string))
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Fatalf("ascending order mismatch (-want +got):\n%s", diff)
	}
	SortRows(rows, "")
	if rows[0]["id"] != "a" {
		t.Fatalf("empty column should leave order alone, got %v", rows[0]["id"])
	}
}

func TestCloneRowIsDeep(t *testing.T) {
	orig := Row{"id": "GC-R-004", "archival": map[string]any{"state": "archived"}, "project": []any{"continuity-ledger"}}
	cp := CloneRow(orig)
	cp["archival"].(map[string]any)["state"] = "decayed"
	cp["project"].([]any)[0] = "other"
	if orig["archival"].(map[string]any)["state"] != "archived" {
		t.Fatalf("nested map shared with clone")
	}
	if orig["project"].([]any)[0] != "continuity-ledger" {
		t.Fatalf("nested slice shared with clone")
	}
	if CloneRow(nil) != nil {
		t.Fatalf("expected nil clone of nil row")
	}
}
