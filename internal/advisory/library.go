package advisory

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"farmconnect/internal/types"
)

//go:embed library.yaml
var defaultLibraryYAML []byte

// libraryFile is the on-disk shape of a tip library.
type libraryFile struct {
	Rules []types.TipRule `yaml:"rules"`
}

// Library is an immutable, ordered set of tip rules.
type Library struct {
	rules []types.TipRule
}

// DefaultLibrary returns the embedded library. It panics if the embedded file
// is invalid, which can only happen through a broken build.
func DefaultLibrary() *Library {
	lib, err := ParseLibrary(bytes.NewReader(defaultLibraryYAML))
	if err != nil {
		panic(fmt.Sprintf("advisory: embedded library invalid: %v", err))
	}
	return lib
}

// LoadLibraryFile reads a replacement library from a YAML file. An empty path
// yields the embedded default.
func LoadLibraryFile(path string) (*Library, error) {
	if path == "" {
		return DefaultLibrary(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationTipLibrary, "cannot open tip library", err)
	}
	defer f.Close()
	return ParseLibrary(f)
}

// ParseLibrary decodes and validates a YAML tip library. Every rule must carry
// a known condition, a known severity and non-empty tip text.
func ParseLibrary(r io.Reader) (*Library, error) {
	var lf libraryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&lf); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationTipLibrary, "malformed tip library", err)
	}
	if len(lf.Rules) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationTipLibrary, "tip library has no rules", nil)
	}
	for i, rule := range lf.Rules {
		if !rule.Condition.Valid() {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationTipLibrary,
				"unknown condition in tip library", nil,
				map[string]any{"index": i, "condition": string(rule.Condition)})
		}
		if !rule.Severity.Valid() {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationTipLibrary,
				"unknown severity in tip library", nil,
				map[string]any{"index": i, "severity": string(rule.Severity)})
		}
		if rule.Tip == "" {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationTipLibrary,
				"empty tip text in tip library", nil,
				map[string]any{"index": i})
		}
	}
	return &Library{rules: lf.Rules}, nil
}

// NewLibrary builds a library from rules already in memory, without validation.
// The slice is copied.
func NewLibrary(rules []types.TipRule) *Library {
	cp := make([]types.TipRule, len(rules))
	copy(cp, rules)
	return &Library{rules: cp}
}

// Rules returns a copy of the rules in declaration order.
func (l *Library) Rules() []types.TipRule {
	cp := make([]types.TipRule, len(l.rules))
	copy(cp, l.rules)
	return cp
}

// ByCondition returns the rules for one condition in declaration order.
func (l *Library) ByCondition(c types.TipCondition) []types.TipRule {
	var out []types.TipRule
	for _, r := range l.rules {
		if r.Condition == c {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of rules.
func (l *Library) Len() int {
	return len(l.rules)
}
