package classifier

import (
	"fmt"
	"strings"
)

// Kind is the closed taxonomy of task failure kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindSyntax
	KindType
	KindReference
	KindNetwork
	KindTimeout
	KindGit
	KindTest
)

var kindNames = map[Kind]string{
	KindUnknown:   "UNKNOWN",
	KindSyntax:    "SYNTAX",
	KindType:      "TYPE",
	KindReference: "REFERENCE",
	KindNetwork:   "NETWORK",
	KindTimeout:   "TIMEOUT",
	KindGit:       "GIT",
	KindTest:      "TEST",
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindUnknown, KindSyntax, KindType, KindReference, KindNetwork, KindTimeout, KindGit, KindTest}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String (case-insensitive).
func ParseKind(s string) (Kind, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == upper {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown error kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Severity is a fixed function of Kind.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

var severities = map[Kind]Severity{
	KindSyntax:    SeverityHigh,
	KindType:      SeverityHigh,
	KindReference: SeverityHigh,
	KindNetwork:   SeverityMedium,
	KindTimeout:   SeverityMedium,
	KindGit:       SeverityMedium,
	KindTest:      SeverityMedium,
	KindUnknown:   SeverityLow,
}

// SeverityOf returns the severity for kind.
func SeverityOf(kind Kind) Severity {
	if s, ok := severities[kind]; ok {
		return s
	}
	return SeverityLow
}

// Mechanically fixable kinds.
var autoFixable = map[Kind]bool{
	KindSyntax:    true,
	KindType:      true,
	KindReference: true,
}

// CanAutoFix reports whether failures of kind can be fixed mechanically.
func CanAutoFix(kind Kind) bool {
	return autoFixable[kind]
}
