package tools

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStripUserParams(t *testing.T) {
	tests := []struct {
		name        string
		args        map[string]any
		params      []string
		wantArgs    map[string]any
		wantRemoved []string
	}{
		{
			name:        "removes declared params",
			args:        map[string]any{"query": "refund", "user_id": "attacker", "tenant_id": "other"},
			params:      []string{"user_id", "tenant_id"},
			wantArgs:    map[string]any{"query": "refund"},
			wantRemoved: []string{"tenant_id", "user_id"},
		},
		{
			name:        "removes falsy values too",
			args:        map[string]any{"user_id": "", "flag": false, "n": 0.0, "q": "x"},
			params:      []string{"user_id", "flag", "n"},
			wantArgs:    map[string]any{"q": "x"},
			wantRemoved: []string{"flag", "n", "user_id"},
		},
		{
			name:     "absent params are not reported",
			args:     map[string]any{"q": "x"},
			params:   []string{"user_id", " "},
			wantArgs: map[string]any{"q": "x"},
		},
		{
			name:     "nil args",
			params:   []string{"user_id"},
			wantArgs: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before map[string]any
			if tt.args != nil {
				before = make(map[string]any, len(tt.args))
				for k, v := range tt.args {
					before[k] = v
				}
			}
			got, removed := StripUserParams(tt.args, tt.params)
			if diff := cmp.Diff(tt.wantArgs, got); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRemoved, removed); diff != "" {
				t.Errorf("removed mismatch (-want +got):\n%s", diff)
			}
			if before != nil {
				if diff := cmp.Diff(before, tt.args); diff != "" {
					t.Errorf("input was modified (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestScanArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want []Finding
	}{
		{
			name: "clean",
			args: map[string]any{"query": "where is my order", "limit": 5.0},
		},
		{
			name: "union select",
			args: map[string]any{"query": "x' UNION SELECT password FROM users"},
			want: []Finding{{Path: "query", Risk: "union_select"}},
		},
		{
			name: "nested and listed values",
			args: map[string]any{
				"filter": map[string]any{"name": "a'; DROP TABLE orders"},
				"tags":   []any{"ok", "1' or 1=1"},
			},
			want: []Finding{
				{Path: "filter.name", Risk: "stacked_statement"},
				{Path: "tags[1]", Risk: "tautology"},
			},
		},
		{
			name: "sleep",
			args: map[string]any{"q": "pg_sleep(10)"},
			want: []Finding{{Path: "q", Risk: "sleep"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanArguments(tt.args)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("findings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUserScopedParamsPresent(t *testing.T) {
	args := map[string]any{"user_id": "x", "customer_id": "y", "q": "z"}

	got := UserScopedParamsPresent(args, []string{"user_id"}, false)
	if diff := cmp.Diff([]string{"user_id"}, got); diff != "" {
		t.Errorf("not user scoped (-want +got):\n%s", diff)
	}

	got = UserScopedParamsPresent(args, []string{"user_id"}, true)
	if diff := cmp.Diff([]string{"customer_id", "user_id"}, got); diff != "" {
		t.Errorf("user scoped (-want +got):\n%s", diff)
	}
}
