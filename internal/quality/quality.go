// Package quality gates agent output: minimum content, minimum confidence
// and no mock or placeholder material.
package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

const (
	// MinContentLength is the shortest acceptable trimmed result.
	MinContentLength = 10
	// MinConfidence is the lowest acceptable confidence score.
	MinConfidence = 0.3
)

// ResultIndicators are the words that reject a delegated result.
var ResultIndicators = []string{"mock", "placeholder", "example", "todo", "not implemented"}

// DefaultIndicators is the wider set used by the Detector.
var DefaultIndicators = []string{
	"mock", "placeholder", "example", "todo", "not implemented",
	"fake", "dummy", "stub", "simulated", "test_data",
}

// DefaultPlaceholderPatterns match placeholder code.
var DefaultPlaceholderPatterns = []string{
	`return.*".*example.*"`,
	`TODO.*implement`,
	`NotImplementedError`,
	`pass.*#.*mock`,
	`return.*".*placeholder.*"`,
}

// DefaultHardcodedResponses are literal canned outputs.
var DefaultHardcodedResponses = []string{
	"test-response",
	"mock-result",
	"example-output",
	"dummy-data",
}

// runtimeFakePatterns match fabricated identifiers in output text.
var runtimeFakePatterns = []string{
	`test-\w+-\d+`,
	`example-\w+`,
	`mock-\w+`,
	`dummy-\w+`,
	`fake-\w+`,
}

// ValidateResult applies the delegation quality gate.
func ValidateResult(r *task.Result) error {
	if r == nil {
		return sdkerr.TaskExecution("task result is missing")
	}
	if len(strings.TrimSpace(r.Content)) < MinContentLength {
		return sdkerr.TaskExecution("task result content is too short or empty").
			WithCode("RESULT_TOO_SHORT")
	}
	if r.ConfidenceScore < MinConfidence {
		return sdkerr.TaskExecution("task result confidence too low: %.2f", r.ConfidenceScore).
			WithCode("LOW_CONFIDENCE").
			WithDetail("confidence_score", r.ConfidenceScore)
	}
	if word, ok := containsAny(r.Content, ResultIndicators); ok {
		return sdkerr.TaskExecution("task result contains mock data or placeholders").
			WithCode("MOCK_DETECTED").
			WithDetail("indicator", word)
	}
	return nil
}

// containsAny reports the first word found anywhere in text, ignoring
// case. Inflections such as "mocked" or "TODOs" match.
func containsAny(text string, words []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, strings.ToLower(w)) {
			return w, true
		}
	}
	return "", false
}

// compileIndicators builds case-insensitive whole-word matchers.
func compileIndicators(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}

// Violation is one detector finding.
type Violation struct {
	Type      string `json:"type"`
	File      string `json:"file,omitempty"`
	Context   string `json:"context,omitempty"`
	Indicator string `json:"indicator,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Response  string `json:"response,omitempty"`
	Line      int    `json:"line,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

func (v Violation) String() string {
	what := v.Indicator
	if what == "" {
		what = v.Pattern
	}
	if what == "" {
		what = v.Response
	}
	where := v.File
	if where == "" {
		where = v.Context
	}
	if v.Line > 0 {
		return fmt.Sprintf("%s: %s at %s:%d", v.Type, what, where, v.Line)
	}
	return fmt.Sprintf("%s: %s in %s", v.Type, what, where)
}

// Detector scans code and runtime output for mock material.
type Detector struct {
	indicators   []string
	indicatorRE  []*regexp.Regexp
	placeholders []*regexp.Regexp
	hardcoded    []string
	fakes        []*regexp.Regexp
}

// NewDetector compiles a detector. Nil slices take the defaults.
func NewDetector(indicators, placeholderPatterns, hardcoded []string) (*Detector, error) {
	if indicators == nil {
		indicators = DefaultIndicators
	}
	if placeholderPatterns == nil {
		placeholderPatterns = DefaultPlaceholderPatterns
	}
	if hardcoded == nil {
		hardcoded = DefaultHardcodedResponses
	}

	d := &Detector{
		indicators:  indicators,
		indicatorRE: compileIndicators(indicators),
		hardcoded:   hardcoded,
	}
	for _, p := range placeholderPatterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, sdkerr.Configuration("invalid placeholder pattern %q: %v", p, err)
		}
		d.placeholders = append(d.placeholders, re)
	}
	for _, p := range runtimeFakePatterns {
		d.fakes = append(d.fakes, regexp.MustCompile(`(?i)`+p))
	}
	return d, nil
}

// DetectStatic scans source code.
func (d *Detector) DetectStatic(code, file string) []Violation {
	var out []Violation
	for i, re := range d.indicatorRE {
		if re.MatchString(code) {
			out = append(out, Violation{
				Type:      "mock_indicator",
				File:      file,
				Indicator: d.indicators[i],
				Line:      lineOf(code, re),
			})
		}
	}
	for _, re := range d.placeholders {
		if re.MatchString(code) {
			out = append(out, Violation{
				Type:    "placeholder_pattern",
				File:    file,
				Pattern: strings.TrimPrefix(re.String(), "(?i)"),
				Line:    lineOf(code, re),
			})
		}
	}
	for _, resp := range d.hardcoded {
		if strings.Contains(code, resp) {
			out = append(out, Violation{
				Type:     "hardcoded_response",
				File:     file,
				Response: resp,
				Line:     lineOf(code, regexp.MustCompile(regexp.QuoteMeta(resp))),
			})
		}
	}
	return out
}

// DetectRuntime scans agent output text. Indicators match anywhere in
// the text, not only as whole words.
func (d *Detector) DetectRuntime(text, context string) []Violation {
	var out []Violation
	snippet := truncate(text, 100)
	lower := strings.ToLower(text)
	for _, w := range d.indicators {
		if strings.Contains(lower, strings.ToLower(w)) {
			out = append(out, Violation{
				Type:      "runtime_mock_indicator",
				Context:   context,
				Indicator: w,
				Snippet:   snippet,
			})
		}
	}
	for _, re := range d.fakes {
		if re.MatchString(text) {
			out = append(out, Violation{
				Type:    "runtime_fake_pattern",
				Context: context,
				Pattern: strings.TrimPrefix(re.String(), "(?i)"),
				Snippet: snippet,
			})
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// lineOf returns the 1-based line of the first match, or 1.
func lineOf(code string, re *regexp.Regexp) int {
	for i, line := range strings.Split(code, "\n") {
		if re.MatchString(line) {
			return i + 1
		}
	}
	return 1
}
