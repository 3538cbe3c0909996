package rules

import (
	"testing"
	"time"

	"calsieve/internal/core/grouping"
	"calsieve/internal/core/ics"
)

func mkEvent(title, description string) ics.Event {
	ev := ics.Event{
		Title:       title,
		Description: description,
		Start:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	ev.NormalizeTitle()
	return ev
}

func TestSimpleRulePredicates(t *testing.T) {
	ev := mkEvent("Math Exam", "final exam in room 4")
	ev.RawFragment = "BEGIN:VEVENT\nCATEGORIES:School,Tests\nEND:VEVENT"

	cases := []struct {
		rule Simple
		want bool
	}{
		{Simple{Kind: KindTitleContains, Value: "exam"}, true},
		{Simple{Kind: KindTitleContains, Value: "EXAM"}, true},
		{Simple{Kind: KindTitleContains, Value: "yoga"}, false},
		{Simple{Kind: KindTitleNotContains, Value: "yoga"}, true},
		{Simple{Kind: KindTitleNotContains, Value: "math"}, false},
		{Simple{Kind: KindDescriptionContains, Value: "Room 4"}, true},
		{Simple{Kind: KindDescriptionNotContains, Value: "online"}, true},
		{Simple{Kind: KindCategoryContains, Value: "test"}, true},
		{Simple{Kind: KindCategoryContains, Value: "sports"}, false},
		{Simple{Kind: KindCategoryNotContains, Value: "sports"}, true},
	}
	for _, tc := range cases {
		if got := tc.rule.Matches(ev); got != tc.want {
			t.Errorf("%s %q = %v, want %v", tc.rule.Kind, tc.rule.Value, got, tc.want)
		}
	}
}

func TestFirstMatchWins(t *testing.T) {
	e := NewEngine([]Rule{
		Simple{Kind: KindTitleContains, Value: "exam", TargetGroupID: 1},
		Simple{Kind: KindTitleContains, Value: "math", TargetGroupID: 2},
	})
	groupID, ok := e.Match(mkEvent("Math Exam", ""))
	if !ok || groupID != 1 {
		t.Fatalf("first match must win: got (%d, %v), want (1, true)", groupID, ok)
	}
}

func TestCompoundAndOr(t *testing.T) {
	conds := []Simple{
		{Kind: KindTitleContains, Value: "weekly"},
		{Kind: KindTitleNotContains, Value: "cancelled"},
	}
	and := Compound{Op: OpAnd, Conditions: conds, TargetGroupID: 1}
	or := Compound{Op: OpOr, Conditions: conds, TargetGroupID: 1}

	standup := mkEvent("Weekly Standup", "")
	cancelled := mkEvent("Weekly Standup (cancelled)", "")

	if !and.Matches(standup) {
		t.Fatalf("AND should match the plain standup")
	}
	if and.Matches(cancelled) {
		t.Fatalf("AND should reject the cancelled standup")
	}
	if !or.Matches(standup) || !or.Matches(cancelled) {
		t.Fatalf("OR should match both")
	}
}

func TestCompoundVacuousCases(t *testing.T) {
	ev := mkEvent("Anything", "")
	if !(Compound{Op: OpAnd}).Matches(ev) {
		t.Fatalf("empty AND is vacuously true")
	}
	if (Compound{Op: OpOr}).Matches(ev) {
		t.Fatalf("empty OR is vacuously false")
	}
}

func TestApplyOncePerBucket(t *testing.T) {
	buckets := grouping.GroupEvents([]ics.Event{
		mkEvent("Math Exam", ""),
		mkEvent("Math Exam", "second instance"),
		mkEvent("Yoga", ""),
	})
	e := NewEngine([]Rule{
		Simple{Kind: KindTitleContains, Value: "exam", TargetGroupID: 7},
	})

	got := e.Apply(buckets)
	if len(got) != 1 {
		t.Fatalf("want one group, got %v", got)
	}
	titles := got[7]
	if len(titles) != 1 || titles[0] != "Math Exam" {
		t.Fatalf("bucket must be assigned once regardless of instance count: %v", titles)
	}
}

func TestCompileValidDefinitions(t *testing.T) {
	defs := []Definition{
		{RuleType: "title_contains", RuleValue: "exam", TargetGroupID: 1},
		{
			Operator:      "AND",
			TargetGroupID: 2,
			Conditions: []Condition{
				{RuleType: "title_contains", RuleValue: "weekly"},
				{RuleType: "title_not_contains", RuleValue: "cancelled"},
			},
		},
	}
	compiled, err := Compile(defs)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(compiled) != 2 {
		t.Fatalf("want 2 rules, got %d", len(compiled))
	}
	if _, ok := compiled[0].(Simple); !ok {
		t.Fatalf("first rule should be simple")
	}
	c, ok := compiled[1].(Compound)
	if !ok || c.Op != OpAnd || len(c.Conditions) != 2 {
		t.Fatalf("second rule should be a 2-condition AND compound: %+v", compiled[1])
	}
}

func TestCompileRejectsBadDefinitions(t *testing.T) {
	bad := []struct {
		name string
		def  Definition
	}{
		{"unknown kind", Definition{RuleType: "title_matches_regex", RuleValue: "x", TargetGroupID: 1}},
		{"empty value", Definition{RuleType: "title_contains", RuleValue: "", TargetGroupID: 1}},
		{"zero group", Definition{RuleType: "title_contains", RuleValue: "x", TargetGroupID: 0}},
		{"negative group", Definition{RuleType: "title_contains", RuleValue: "x", TargetGroupID: -3}},
		{"bad operator", Definition{Operator: "XOR", TargetGroupID: 1}},
		{"bad condition kind", Definition{
			Operator:      "OR",
			TargetGroupID: 1,
			Conditions:    []Condition{{RuleType: "nope", RuleValue: "x"}},
		}},
		{"empty condition value", Definition{
			Operator:      "AND",
			TargetGroupID: 1,
			Conditions:    []Condition{{RuleType: "title_contains", RuleValue: ""}},
		}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Compile([]Definition{tc.def}); err == nil {
				t.Fatalf("want validation error")
			}
		})
	}
}
