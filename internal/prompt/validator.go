package prompt

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxTenantPromptLength is the longest tenant system prompt accepted, in characters.
const MaxTenantPromptLength = 8000

// Status is the outcome of validating a tenant prompt.
type Status string

const (
	StatusValid    Status = "valid"
	StatusRejected Status = "rejected"
)

// Issue codes.
const (
	IssueTooLong                = "TOO_LONG"
	IssueMetaOverride           = "META_OVERRIDE_ATTEMPT"
	IssueSafetyBypass           = "SAFETY_BYPASS_ATTEMPT"
	IssueSystemPromptDisclosure = "SYSTEM_PROMPT_DISCLOSURE_ATTEMPT"
	IssueRoleReassignment       = "ROLE_REASSIGNMENT_ATTEMPT"
)

// Issue is one problem found in a prompt. Start and End are character
// offsets into the raw prompt.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Start   int    `json:"span_start"`
	End     int    `json:"span_end"`
}

// ValidationResult reports whether a tenant prompt may be used.
type ValidationResult struct {
	Status    Status  `json:"status"`
	Sanitized string  `json:"sanitized_prompt"`
	Issues    []Issue `json:"issues"`
}

// OK reports whether the prompt passed.
func (r ValidationResult) OK() bool { return r.Status == StatusValid }

// Codes returns the issue codes in order.
func (r ValidationResult) Codes() []string {
	codes := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		codes[i] = issue.Code
	}
	return codes
}

type forbiddenPattern struct {
	re      *regexp.Regexp
	code    string
	message string
}

func forbid(pattern, code, message string) forbiddenPattern {
	return forbiddenPattern{re: regexp.MustCompile(`(?i)` + pattern), code: code, message: message}
}

var forbiddenPatterns = []forbiddenPattern{
	forbid(`ignore\s+previous\s+instructions?`, IssueMetaOverride, "Attempt to override previous instructions"),
	forbid(`forget\s+previous\s+instructions?`, IssueMetaOverride, "Attempt to forget previous instructions"),
	forbid(`disregard\s+all\s+earlier\s+rules?`, IssueMetaOverride, "Attempt to disregard earlier rules"),
	forbid(`you\s+are\s+no\s+longer\s+bound\s+by`, IssueMetaOverride, "Attempt to remove constraints"),
	forbid(`you\s+are\s+not\s+bound\s+by`, IssueMetaOverride, "Attempt to remove constraints"),
	forbid(`you\s+must\s+ignore\s+the\s+platform\s+rules`, IssueMetaOverride, "Attempt to ignore platform rules"),
	forbid(`disable\s+safety`, IssueSafetyBypass, "Attempt to disable safety"),
	forbid(`disable\s+guardrails?`, IssueSafetyBypass, "Attempt to disable guardrails"),
	forbid(`bypass\s+security`, IssueSafetyBypass, "Attempt to bypass security"),
	forbid(`act\s+as\s+if\s+there\s+are\s+no\s+restrictions`, IssueSafetyBypass, "Attempt to remove restrictions"),
	forbid(`reveal\s+(your\s+)?system\s+prompt`, IssueSystemPromptDisclosure, "Attempt to reveal system prompt"),
	forbid(`show\s+(your\s+)?system\s+prompt`, IssueSystemPromptDisclosure, "Attempt to show system prompt"),
	forbid(`print\s+(the\s+)?system\s+prompt`, IssueSystemPromptDisclosure, "Attempt to print system prompt"),
	forbid(`reveal\s+internal\s+configuration`, IssueSystemPromptDisclosure, "Attempt to reveal internal configuration"),
	forbid(`reveal\s+previous\s+system\s+messages?`, IssueSystemPromptDisclosure, "Attempt to reveal system messages"),
	forbid(`you\s+are\s+not\s+an\s+ai\s+assistant\s+anymore`, IssueRoleReassignment, "Attempt to change assistant role"),
	forbid(`you\s+are\s+now\s+DAN`, IssueRoleReassignment, "Attempt to change assistant role"),
}

// Validate checks a tenant system prompt. Any issue rejects the prompt;
// there is no partial sanitization.
func Validate(raw string) ValidationResult {
	if n := utf8.RuneCountInString(raw); n > MaxTenantPromptLength {
		return ValidationResult{
			Status: StatusRejected,
			Issues: []Issue{{
				Code:    IssueTooLong,
				Message: fmt.Sprintf("Prompt exceeds maximum length of %d characters", MaxTenantPromptLength),
				Start:   0,
				End:     n,
			}},
		}
	}

	var issues []Issue
	for _, p := range forbiddenPatterns {
		for _, loc := range p.re.FindAllStringIndex(raw, -1) {
			issues = append(issues, Issue{
				Code:    p.code,
				Message: p.message,
				Start:   utf8.RuneCountInString(raw[:loc[0]]),
				End:     utf8.RuneCountInString(raw[:loc[1]]),
			})
		}
	}
	if len(issues) > 0 {
		return ValidationResult{Status: StatusRejected, Issues: issues}
	}
	return ValidationResult{Status: StatusValid, Sanitized: raw}
}
