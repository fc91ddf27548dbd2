package tools

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// sqlInjectionPatterns flag argument values that look like SQL fragments.
// A match is reported, never rejected.
var sqlInjectionPatterns = []struct {
	risk string
	re   *regexp.Regexp
}{
	{"union_select", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"stacked_statement", regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|update|insert|create|grant)\b`)},
	{"tautology", regexp.MustCompile(`(?i)'\s*or\s+'?\d+'?\s*=\s*'?\d+`)},
	{"comment", regexp.MustCompile(`--|/\*|\*/`)},
	{"procedure", regexp.MustCompile(`(?i)\bxp_\w+|\bexec\s*\(`)},
	{"sleep", regexp.MustCompile(`(?i)\b(pg_sleep|sleep|benchmark)\s*\(`)},
}

// identityParamNames are flagged on user-scoped tools even when the tool
// definition does not list them.
var identityParamNames = []string{
	"tenant_id",
	"user_id",
	"user_external_id",
	"customer_id",
	"account_id",
}

// Finding is one pattern match in the arguments.
type Finding struct {
	Path string `json:"path"`
	Risk string `json:"risk"`
}

func (f Finding) String() string {
	return fmt.Sprintf("possible sql injection (%s) in %s", f.Risk, f.Path)
}

// ScanArguments walks every string value, nested ones included, and
// reports SQL-like fragments.
func ScanArguments(args map[string]any) []Finding {
	var findings []Finding
	for _, k := range sortedKeys(args) {
		findings = scanValue(k, args[k], findings)
	}
	return findings
}

func scanValue(path string, v any, findings []Finding) []Finding {
	switch val := v.(type) {
	case string:
		for _, p := range sqlInjectionPatterns {
			if p.re.MatchString(val) {
				findings = append(findings, Finding{Path: path, Risk: p.risk})
				break
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(val) {
			findings = scanValue(path+"."+k, val[k], findings)
		}
	case []any:
		for i, item := range val {
			findings = scanValue(fmt.Sprintf("%s[%d]", path, i), item, findings)
		}
	}
	return findings
}

// UserScopedParamsPresent returns the identity parameter names the model
// supplied. The declared list is checked always; the common identity names
// only for user-scoped tools.
func UserScopedParamsPresent(args map[string]any, declared []string, userScoped bool) []string {
	seen := make(map[string]bool)
	var present []string
	check := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if _, ok := args[name]; ok {
			present = append(present, name)
		}
	}
	for _, name := range declared {
		check(name)
	}
	if userScoped {
		for _, name := range identityParamNames {
			check(name)
		}
	}
	sort.Strings(present)
	return present
}

// StripUserParams returns a copy of args without the declared user context
// parameters, plus the names that were removed. args is not modified.
func StripUserParams(args map[string]any, params []string) (map[string]any, []string) {
	clean := make(map[string]any, len(args))
	for k, v := range args {
		clean[k] = v
	}
	var removed []string
	for _, name := range params {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := clean[name]; ok {
			delete(clean, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return clean, removed
}
