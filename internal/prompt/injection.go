package prompt

import "regexp"

// Injection categories reported by DetectInjection.
const (
	InjectionMetaInstruction = "meta_instruction"
	InjectionRolePlaying     = "role_playing"
	InjectionDisclosure      = "disclosure_attempt"
	InjectionCrossAccess     = "cross_access_attempt"
)

type injectionRule struct {
	category string
	patterns []*regexp.Regexp
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

var injectionRules = []injectionRule{
	{InjectionMetaInstruction, compileAll(
		`(ignore|forget|disregard|override)\s+(previous|all|the)\s+(instructions?|rules?|prompts?)`,
		`you\s+are\s+now\s+(a|an)\s+`,
		`act\s+as\s+if\s+you\s+are`,
		`pretend\s+to\s+be`,
	)},
	{InjectionRolePlaying, compileAll(
		`you\s+are\s+(admin|administrator|root|superuser)`,
		`you\s+have\s+(admin|administrator|root|superuser)\s+(access|privileges?)`,
		`switch\s+to\s+(tenant|user|account)\s+`,
		`access\s+(tenant|user|account)\s+`,
	)},
	{InjectionDisclosure, compileAll(
		`(show|reveal|print)\s+(me\s+)?(your\s+)?(system\s+)?(prompt|instructions?|rules?)`,
		`what\s+(are\s+)?(your\s+)?(system\s+)?(prompt|instructions?|rules?)`,
	)},
	{InjectionCrossAccess, compileAll(
		`get\s+(data|info|information)\s+from\s+(tenant|user|account)\s+`,
		`access\s+(another|other|different)\s+(tenant|user|account)`,
		`show\s+me\s+(another|other|different)\s+(tenant|user|account)'?s?\s+`,
	)},
}

// DetectInjection returns the prompt injection categories found in user
// text, each at most once, in a fixed order. Detection never blocks a
// message; callers log and audit the result.
func DetectInjection(text string) []string {
	if text == "" {
		return nil
	}
	var found []string
	for _, rule := range injectionRules {
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				found = append(found, rule.category)
				break
			}
		}
	}
	return found
}
