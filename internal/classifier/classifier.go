// Package classifier maps raw failure text onto a closed set of error
// kinds using an ordered rule table. The first matching rule wins.
package classifier

import (
	"regexp"
	"strconv"
	"strings"
)

// maxMessageLen bounds ClassifiedError.Message, in runes.
const maxMessageLen = 200

// Location is a source position extracted from failure text.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// ClassifiedError is the structured form of a raw failure.
type ClassifiedError struct {
	Original string    `json:"original"`
	Kind     Kind      `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Location *Location `json:"location,omitempty"`
}

func (e ClassifiedError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// Rule pairs a matcher with the kind it assigns.
type Rule struct {
	Kind    Kind
	Pattern *regexp.Regexp
}

// Specific matchers come before generic ones: a timeout reported by a
// network dial is a timeout, and a failing test that mentions a
// connection is a test failure.
var defaultRules = []Rule{
	{KindTimeout, regexp.MustCompile(`(?i)\btimed out\b|\btime ?out(?:$|[^\w.]|\.(?:\s|$))|deadline exceeded|ETIMEDOUT|ESOCKETTIMEDOUT`)},
	{KindSyntax, regexp.MustCompile(`SyntaxError|(?i:syntax error|unexpected token|unexpected end of (?:input|file)|parse error|unterminated (?:string|comment))`)},
	{KindType, regexp.MustCompile(`TypeError|(?i:type error|type mismatch|incompatible types?|is not assignable to|cannot use .+ as .+ (?:value|type)|is not a function)`)},
	{KindReference, regexp.MustCompile(`ReferenceError|NameError|(?i:is not defined|undefined: |undefined (?:variable|reference|symbol|method)|cannot find (?:name|module|symbol|package)|unresolved reference|not declared)`)},
	{KindGit, regexp.MustCompile(`(?i:\bgit\b|merge conflict|not a git repository|non-fast-forward|detached head|pathspec)|(?m:^CONFLICT \()`)},
	{KindTest, regexp.MustCompile(`AssertionError|(?m:^--- FAIL|^FAIL\b)|(?i:\btests? failed|test suite failed|assertion failed|\d+ failing\b|expected .+ (?:to (?:be|equal)|but got))`)},
	{KindNetwork, regexp.MustCompile(`ECONNREFUSED|ECONNRESET|ENOTFOUND|EHOSTUNREACH|ENETUNREACH|EAI_AGAIN|EPIPE|(?i:connection (?:refused|reset|closed)|network (?:error|is unreachable)|dial tcp|no such host|socket hang up|fetch failed|bad gateway|service unavailable|too many requests|\b(?:429|502|503|504)\b)`)},
}

// file:line[:column]; the file needs an alphabetic extension.
var locationPattern = regexp.MustCompile(`((?:[A-Za-z]:)?[\w./\\-]*\w\.([A-Za-z]\w*)):(\d+)(?::(\d+))?`)

// Extensions accepted as source files when the reference has no directory.
var sourceExtensions = map[string]bool{
	"go": true, "js": true, "jsx": true, "mjs": true, "cjs": true, "ts": true, "tsx": true,
	"py": true, "rb": true, "rs": true, "java": true, "kt": true, "scala": true, "swift": true,
	"c": true, "h": true, "cc": true, "cpp": true, "hpp": true, "cs": true, "php": true,
	"sh": true, "lua": true, "dart": true, "ex": true, "exs": true, "erl": true,
	"vue": true, "svelte": true, "html": true, "css": true, "scss": true, "sql": true,
	"json": true, "yaml": true, "yml": true, "toml": true, "proto": true, "tf": true,
}

// DefaultRules returns a copy of the built-in rule table in evaluation order.
func DefaultRules() []Rule {
	return append([]Rule(nil), defaultRules...)
}

// Classifier evaluates an ordered rule table against failure text.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier. With no rules it uses DefaultRules.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = defaultRules
	}
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// Classify maps raw failure text to a ClassifiedError. It never fails:
// unmatched text is KindUnknown with low severity.
func (c *Classifier) Classify(raw string) ClassifiedError {
	kind := KindUnknown
	for _, rule := range c.rules {
		if rule.Pattern != nil && rule.Pattern.MatchString(raw) {
			kind = rule.Kind
			break
		}
	}

	return ClassifiedError{
		Original: raw,
		Kind:     kind,
		Severity: SeverityOf(kind),
		Message:  summarize(raw),
		Location: ExtractLocation(raw),
	}
}

// Classify uses the default rule table.
func Classify(raw string) ClassifiedError {
	return defaultClassifier.Classify(raw)
}

var defaultClassifier = New()

// ExtractLocation finds the first file:line[:column] reference in raw.
// Returns nil when none is present.
func ExtractLocation(raw string) *Location {
	for _, m := range locationPattern.FindAllStringSubmatch(raw, -1) {
		// URLs like http://host.com:8080 are not source positions
		if strings.Contains(m[1], "//") {
			continue
		}
		// Neither is a bare host:port like example.com:8080
		if !strings.ContainsAny(m[1], `/\`) && !sourceExtensions[strings.ToLower(m[2])] {
			continue
		}
		line, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		loc := &Location{File: m[1], Line: line}
		if m[4] != "" {
			if col, err := strconv.Atoi(m[4]); err == nil {
				loc.Column = col
			}
		}
		return loc
	}
	return nil
}

// summarize returns the first non-empty line of raw, trimmed and bounded.
func summarize(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxMessageLen {
			return string(r[:maxMessageLen-3]) + "..."
		}
		return line
	}
	return ""
}
