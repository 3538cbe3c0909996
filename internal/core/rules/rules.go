// Package rules defines assignment rules and the first-match evaluation
// engine that binds recurring-event buckets to groups
package rules

import (
	"strings"

	"calsieve/internal/core/ics"
)

// Kind is the closed set of simple rule predicates. Adding a kind requires
// updating ParseKind, String, and the evaluator switch; the default branch
// in the evaluator never matches so an unhandled kind can only fail loudly
// at validation time
type Kind uint8

const (
	// KindInvalid is the zero value and never passes validation
	KindInvalid Kind = iota
	// KindTitleContains matches a case-insensitive substring of the title
	KindTitleContains
	// KindTitleNotContains is the negation of KindTitleContains
	KindTitleNotContains
	// KindDescriptionContains matches a substring of the description
	KindDescriptionContains
	// KindDescriptionNotContains is the negation of KindDescriptionContains
	KindDescriptionNotContains
	// KindCategoryContains matches a substring of any parsed category
	KindCategoryContains
	// KindCategoryNotContains is the negation of KindCategoryContains
	KindCategoryNotContains
)

// ParseKind maps the wire name of a rule type to its Kind
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "title_contains":
		return KindTitleContains, true
	case "title_not_contains":
		return KindTitleNotContains, true
	case "description_contains":
		return KindDescriptionContains, true
	case "description_not_contains":
		return KindDescriptionNotContains, true
	case "category_contains":
		return KindCategoryContains, true
	case "category_not_contains":
		return KindCategoryNotContains, true
	default:
		return KindInvalid, false
	}
}

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindTitleContains:
		return "title_contains"
	case KindTitleNotContains:
		return "title_not_contains"
	case KindDescriptionContains:
		return "description_contains"
	case KindDescriptionNotContains:
		return "description_not_contains"
	case KindCategoryContains:
		return "category_contains"
	case KindCategoryNotContains:
		return "category_not_contains"
	default:
		return "invalid"
	}
}

// Operator combines the conditions of a compound rule
type Operator uint8

const (
	// OpAnd requires every condition to hold; vacuously true when empty
	OpAnd Operator = iota + 1
	// OpOr requires at least one condition to hold; vacuously false when empty
	OpOr
)

// ParseOperator maps the wire name ("AND"/"OR") to an Operator
func ParseOperator(s string) (Operator, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AND":
		return OpAnd, true
	case "OR":
		return OpOr, true
	default:
		return 0, false
	}
}

// String returns the wire name of the operator
func (o Operator) String() string {
	if o == OpOr {
		return "OR"
	}
	return "AND"
}

// Rule is the sum of the two rule variants. Compound conditions are Simple
// by construction, so nesting is unrepresentable
type Rule interface {
	// TargetGroup is the group the rule assigns matching buckets to
	TargetGroup() int64
	// Matches evaluates the rule predicate against a representative event
	Matches(ev ics.Event) bool
}

// Simple is a single predicate test against one event field
type Simple struct {
	Kind          Kind
	Value         string
	TargetGroupID int64
}

// TargetGroup implements Rule
func (r Simple) TargetGroup() int64 { return r.TargetGroupID }

// Matches implements Rule with an exhaustive switch over the closed kind set
func (r Simple) Matches(ev ics.Event) bool {
	needle := strings.ToLower(r.Value)
	switch r.Kind {
	case KindTitleContains:
		return strings.Contains(strings.ToLower(ev.Title), needle)
	case KindTitleNotContains:
		return !strings.Contains(strings.ToLower(ev.Title), needle)
	case KindDescriptionContains:
		return strings.Contains(strings.ToLower(ev.Description), needle)
	case KindDescriptionNotContains:
		return !strings.Contains(strings.ToLower(ev.Description), needle)
	case KindCategoryContains:
		return ev.HasCategory(r.Value)
	case KindCategoryNotContains:
		return !ev.HasCategory(r.Value)
	case KindInvalid:
		return false
	}
	return false
}

// Compound is a boolean combination of simple conditions, no nesting
type Compound struct {
	Op            Operator
	Conditions    []Simple
	TargetGroupID int64
}

// TargetGroup implements Rule
func (r Compound) TargetGroup() int64 { return r.TargetGroupID }

// Matches implements Rule. AND over an empty condition list is vacuously
// true, OR vacuously false
func (r Compound) Matches(ev ics.Event) bool {
	if r.Op == OpOr {
		for _, c := range r.Conditions {
			if c.Matches(ev) {
				return true
			}
		}
		return false
	}
	for _, c := range r.Conditions {
		if !c.Matches(ev) {
			return false
		}
	}
	return true
}
