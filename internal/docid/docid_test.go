package docid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"room:alpha", true},
		{"My_Doc-123", true},
		{"", false},
		{"bad id!", false},
		{string(make([]byte, 257)), false},
	}
	for _, tc := range cases {
		ok, reason := Validate(tc.id)
		require.Equal(t, tc.valid, ok, "id=%q reason=%q", tc.id, reason)
		if !ok {
			require.NotEmpty(t, reason)
		}
	}
}

func TestCanAccessDocumentNeverPanics(t *testing.T) {
	rules := PublicNamespaceRules{PlaygroundID: "playground"}
	inputs := []string{"", "playground", "playground:abc", "wordwall:x", "room:alpha",
		"1700000000000", "foo", "12345", "\x00\x01", string(make([]byte, 10000))}
	for _, in := range inputs {
		require.NotPanics(t, func() { rules.CanAccessDocument(in) })
	}
}

func TestPublicNamespaceTable(t *testing.T) {
	rules := PublicNamespaceRules{PlaygroundID: "playground"}
	cases := map[string]bool{
		"playground":      true,
		"playground:abc":  true,
		"wordwall:x":      true,
		"room:alpha":      true,
		"1700000000000":   true, // 13 digits
		"foo":             false,
		"12345":           false, // only 5 digits
		"wordwall":        true,
		"1234567890123:x": true,
	}
	for id, want := range cases {
		require.Equal(t, want, rules.CanAccessDocument(id), "id=%q", id)
	}
}
