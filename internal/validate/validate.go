// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate cross-checks the document aggregate against the
// registry's declarative consistency rules and reports findings.
package validate

import (
	"fmt"
	"sort"
	"time"

	"github.com/rtolwani/iacuc-protocol-generator/internal/document"
	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

const dateLayout = "2006-01-02"

// Validate runs every validation rule against the current document
// fields and returns the findings for this pass. Rules execute
// independently: a panic inside one predicate becomes a synthetic
// error finding for that rule and the others still run. Findings are
// ordered errors-first, then by rule id, so repeated passes over an
// unchanged document produce identical output.
func Validate(doc *types.DocumentState, reg *registry.Registry, now time.Time) []types.Finding {
	var findings []types.Finding
	for _, rule := range reg.ValidationRules() {
		if f := evalRule(doc, rule, now); f != nil {
			findings = append(findings, *f)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity == types.SeverityError
		}
		return findings[i].RuleID < findings[j].RuleID
	})
	return findings
}

// Errors reports whether any finding carries error severity.
func Errors(findings []types.Finding) bool {
	for _, f := range findings {
		if f.Severity == types.SeverityError {
			return true
		}
	}
	return false
}

func evalRule(doc *types.DocumentState, rule types.ValidationRule, now time.Time) (f *types.Finding) {
	defer func() {
		if r := recover(); r != nil {
			f = &types.Finding{
				RuleID:   rule.ID,
				Severity: types.SeverityError,
				Message:  fmt.Sprintf("rule predicate failed: %v", r),
				Fields:   rule.Fields(),
				At:       now.UTC(),
			}
		}
	}()

	msg := ""
	switch rule.Kind {
	case types.KindSumEquals:
		msg = evalSumEquals(doc, rule)
	case types.KindForbiddenPair:
		msg = evalForbiddenPair(doc, rule)
	case types.KindRolesListed:
		msg = evalRolesListed(doc, rule)
	case types.KindDateOrder:
		msg = evalDateOrder(doc, rule)
	case types.KindRequiresField:
		msg = evalRequiresField(doc, rule)
	}
	if msg == "" {
		return nil
	}
	return &types.Finding{
		RuleID:   rule.ID,
		Severity: rule.Severity,
		Message:  msg,
		Fields:   rule.Fields(),
		At:       now.UTC(),
	}
}

// evalSumEquals passes when either side is absent; completeness is the
// branching engine's concern, not this rule's.
func evalSumEquals(doc *types.DocumentState, rule types.ValidationRule) string {
	partsVal, ok := document.Get(doc, rule.PartsField)
	if !ok {
		return ""
	}
	totalVal, ok := document.Get(doc, rule.TotalField)
	if !ok {
		return ""
	}

	parts, err := numberSlice(partsVal)
	if err != nil {
		return fmt.Sprintf("%s is not a list of numbers: %v", rule.PartsField, err)
	}
	total, err := number(totalVal)
	if err != nil {
		return fmt.Sprintf("%s is not a number: %v", rule.TotalField, err)
	}

	sum := 0.0
	for _, p := range parts {
		sum += p
	}
	if sum != total {
		return fmt.Sprintf("group counts sum to %g but the declared total is %g", sum, total)
	}
	return ""
}

func evalForbiddenPair(doc *types.DocumentState, rule types.ValidationRule) string {
	ifVal, ok := document.Get(doc, rule.IfField)
	if !ok || !valueIn(ifVal, rule.IfIn) {
		return ""
	}
	thenVal, ok := document.Get(doc, rule.ThenField)
	if !ok {
		return ""
	}
	if valueIn(thenVal, rule.NotIn) {
		return fmt.Sprintf("%s=%v is not allowed while %s matches %v",
			rule.ThenField, thenVal, rule.IfField, rule.IfIn)
	}
	return ""
}

func evalRolesListed(doc *types.DocumentState, rule types.ValidationRule) string {
	rolesVal, ok := document.Get(doc, rule.RolesField)
	if !ok {
		return ""
	}
	roles, err := toStrings(rolesVal)
	if err != nil {
		return fmt.Sprintf("%s is not a list of roles: %v", rule.RolesField, err)
	}

	var personnel []string
	if pv, ok := document.Get(doc, rule.PersonnelField); ok {
		if personnel, err = toStrings(pv); err != nil {
			return fmt.Sprintf("%s is not a list: %v", rule.PersonnelField, err)
		}
	}
	listed := make(map[string]bool, len(personnel))
	for _, p := range personnel {
		listed[p] = true
	}

	var missing []string
	for _, r := range roles {
		if !listed[r] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Sprintf("roles %v perform procedures but are not in the personnel list", missing)
	}
	return ""
}

func evalDateOrder(doc *types.DocumentState, rule types.ValidationRule) string {
	startVal, ok := document.Get(doc, rule.StartField)
	if !ok {
		return ""
	}
	endVal, ok := document.Get(doc, rule.EndField)
	if !ok {
		return ""
	}

	start, err := toDate(startVal)
	if err != nil {
		return fmt.Sprintf("%s: %v", rule.StartField, err)
	}
	end, err := toDate(endVal)
	if err != nil {
		return fmt.Sprintf("%s: %v", rule.EndField, err)
	}

	if end.Before(start) {
		return fmt.Sprintf("end date %s precedes start date %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}
	if rule.MaxSpanDays > 0 {
		if span := int(end.Sub(start).Hours() / 24); span > rule.MaxSpanDays {
			return fmt.Sprintf("study span of %d days exceeds the %d-day maximum", span, rule.MaxSpanDays)
		}
	}
	return ""
}

func evalRequiresField(doc *types.DocumentState, rule types.ValidationRule) string {
	ifVal, ok := document.Get(doc, rule.IfField)
	if !ok {
		return ""
	}
	if len(rule.IfIn) > 0 && !valueIn(ifVal, rule.IfIn) {
		return ""
	}
	if _, ok := document.Get(doc, rule.RequireField); !ok {
		return fmt.Sprintf("%s requires %s to be provided", rule.IfField, rule.RequireField)
	}
	return ""
}

// valueIn reports whether a scalar equals, or a list contains, any of
// the given values.
func valueIn(value any, values []string) bool {
	if list, err := toStrings(value); err == nil {
		for _, item := range list {
			for _, v := range values {
				if item == v {
					return true
				}
			}
		}
		return false
	}
	s := fmt.Sprintf("%v", value)
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}

func toStrings(value any) ([]string, error) {
	switch vs := value.(type) {
	case []string:
		return vs, nil
	case []any:
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("element %v is not a string", v)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("value %v is not a list", value)
}

func number(value any) (float64, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("value %v is not numeric", value)
}

func numberSlice(value any) ([]float64, error) {
	list, ok := value.([]any)
	if !ok {
		if fs, ok := value.([]float64); ok {
			return fs, nil
		}
		if is, ok := value.([]int); ok {
			out := make([]float64, len(is))
			for i, v := range is {
				out[i] = float64(v)
			}
			return out, nil
		}
		return nil, fmt.Errorf("value %v is not a list", value)
	}
	out := make([]float64, 0, len(list))
	for _, v := range list {
		n, err := number(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func toDate(value any) (time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("value %v is not a date string", value)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a YYYY-MM-DD date", s)
	}
	return t, nil
}
