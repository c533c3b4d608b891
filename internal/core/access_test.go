package core

import (
	"encoding/json"
	"testing"
)

func TestCheckAccess(t *testing.T) {
	cases := []struct {
		name       string
		passphrase string
		secrets    Secrets
		want       AccessLevel
	}{
		{"admin", "helm", Secrets{Admin: "helm", Witness: "deck"}, AccessAdmin},
		{"admin precedence", "same", Secrets{Admin: "same", Witness: "same"}, AccessAdmin},
		{"witness", "deck", Secrets{Admin: "helm", Witness: "deck"}, AccessWitness},
		{"no match", "bilge", Secrets{Admin: "helm", Witness: "deck"}, AccessNone},
		{"admin unset", "helm", Secrets{Witness: "deck"}, AccessNone},
		{"both unset", "anything", Secrets{}, AccessNone},
		{"empty passphrase never matches", "", Secrets{}, AccessNone},
		{"case sensitive", "HELM", Secrets{Admin: "helm"}, AccessNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckAccess(tc.passphrase, tc.secrets); got != tc.want {
				t.Fatalf("CheckAccess(%q) = %s, want %s", tc.passphrase, got, tc.want)
			}
		})
	}
}

func TestAccessLevelJSON(t *testing.T) {
	out, err := json.Marshal(map[string]any{"admin": AccessAdmin, "none": AccessNone})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"admin":"admin","none":null}` {
		t.Fatalf("unexpected encoding %s", out)
	}
}

func TestNormalisePassphrase(t *testing.T) {
	if got := NormalisePassphrase(map[string]any{"passphrase": "  helm \n"}); got != "helm" {
		t.Fatalf("expected trimmed passphrase, got %q", got)
	}
	if got := NormalisePassphrase(map[string]any{"passphrase": 42.0}); got != "" {
		t.Fatalf("non-string passphrase should be empty, got %q", got)
	}
	if got := NormalisePassphrase(map[string]any{}); got != "" {
		t.Fatalf("missing passphrase should be empty, got %q", got)
	}
}
