// Package ruleset loads rule and point category definitions from YAML or JSON
// documents and validates them before they reach the engine. Every
// configuration error is reported here, together, as a ValidationError.
package ruleset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rewardkit/condition"
	"rewardkit/core"
)

// Format selects the document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the format from a file extension. Anything that is
// not .json is treated as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// RuleSet is a validated collection of categories and rules.
type RuleSet struct {
	Categories []core.PointCategory
	Rules      []core.Rule
}

// ValidationError lists every problem found in a document.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	src := e.Source
	if src == "" {
		src = "ruleset"
	}
	return fmt.Sprintf("%s: %d problem(s): %s", src, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Unwrap lets callers match the configuration sentinel.
func (e *ValidationError) Unwrap() error { return core.ErrInvalidRule }

// LoadFile reads and validates a rule set file.
func LoadFile(path string, reg *condition.Registry) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rule set: %w", err)
	}
	rs, err := parse(data, FormatFromPath(path), reg, path)
	if err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Parse decodes and validates a document. A nil registry uses condition.Default().
func Parse(data []byte, format Format, reg *condition.Registry) (RuleSet, error) {
	return parse(data, format, reg, "")
}

func parse(data []byte, format Format, reg *condition.Registry, source string) (RuleSet, error) {
	doc, err := decode(data, format)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rule set: %w", err)
	}
	if reg == nil {
		reg = condition.Default()
	}
	rs, problems := build(doc, reg)
	if len(problems) > 0 {
		return RuleSet{}, &ValidationError{Source: source, Problems: problems}
	}
	return rs, nil
}

func decode(data []byte, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return Document{}, err
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Document{}, err
		}
	default:
		return Document{}, fmt.Errorf("unsupported format %q", format)
	}
	return doc, nil
}

func build(doc Document, reg *condition.Registry) (RuleSet, []string) {
	var (
		rs       RuleSet
		problems []string
	)
	seenCats := map[core.CategoryID]bool{}
	for i, cd := range doc.Categories {
		c := cd.toCategory()
		if err := c.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("categories[%d]: %v", i, err))
			continue
		}
		if seenCats[c.ID] {
			problems = append(problems, fmt.Sprintf("categories[%d]: duplicate id %q", i, c.ID))
			continue
		}
		seenCats[c.ID] = true
		rs.Categories = append(rs.Categories, c)
	}

	seenRules := map[core.RuleID]bool{}
	for i, rd := range doc.Rules {
		prefix := fmt.Sprintf("rules[%d]", i)
		if rd.ID != "" {
			prefix = fmt.Sprintf("rules[%d] (%s)", i, rd.ID)
		}
		r, rp := rd.toRule()
		if rd.Position == nil {
			r.Position = i
		}
		if len(rp) == 0 {
			for _, err := range ValidateRule(r, reg) {
				rp = append(rp, err.Error())
			}
		}
		if len(rp) > 0 {
			for _, p := range rp {
				problems = append(problems, prefix+": "+p)
			}
			continue
		}
		if seenRules[r.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate rule id %q", prefix, r.ID))
			continue
		}
		seenRules[r.ID] = true
		rs.Rules = append(rs.Rules, r)
	}
	return rs, problems
}

// ValidateRule checks a rule's structure and compiles its conditions.
func ValidateRule(r core.Rule, reg *condition.Registry) []error {
	var errs []error
	if err := r.Validate(); err != nil {
		errs = append(errs, err)
	}
	if reg == nil {
		reg = condition.Default()
	}
	if _, err := reg.Compile(r.Conditions); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Encode renders a rule set in the requested format.
func Encode(rs RuleSet, format Format) ([]byte, error) {
	var doc Document
	for _, c := range rs.Categories {
		doc.Categories = append(doc.Categories, categoryDoc(c))
	}
	for _, r := range rs.Rules {
		doc.Rules = append(doc.Rules, RuleToDoc(r))
	}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML, "":
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// MarshalRule encodes one rule as JSON for storage.
func MarshalRule(r core.Rule) ([]byte, error) {
	return json.Marshal(RuleToDoc(r))
}

// UnmarshalRule decodes a rule stored with MarshalRule. Conditions are not
// compiled; the stored position is kept.
func UnmarshalRule(data []byte) (core.Rule, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d RuleDoc
	if err := dec.Decode(&d); err != nil {
		return core.Rule{}, fmt.Errorf("decode rule: %w", err)
	}
	r, problems := d.toRule()
	if len(problems) > 0 {
		return core.Rule{}, &ValidationError{Source: "rule " + d.ID, Problems: problems}
	}
	return r, nil
}

// MarshalCategory encodes a point category as JSON for storage.
func MarshalCategory(c core.PointCategory) ([]byte, error) {
	return json.Marshal(categoryDoc(c))
}

// UnmarshalCategory decodes a category stored with MarshalCategory.
func UnmarshalCategory(data []byte) (core.PointCategory, error) {
	var d CategoryDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return core.PointCategory{}, fmt.Errorf("decode category: %w", err)
	}
	return d.toCategory(), nil
}
