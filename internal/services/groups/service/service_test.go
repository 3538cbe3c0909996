package service

import (
	"context"
	"testing"
	"time"

	"calsieve/internal/core/grouping"
	"calsieve/internal/core/ics"
	"calsieve/internal/core/rules"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/groups/domain"
	"calsieve/internal/services/groups/repo"
)

type fakeDB struct{}

func (fakeDB) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeDB) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (fakeDB) QueryRow(context.Context, string, ...any) store.Row             { return nil }
func (f fakeDB) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	return fn(f)
}

type fakeStorage struct {
	events      []ics.Event
	groups      []domain.Group
	rules       []rules.Definition
	assignments []domain.Assignment
}

func (f *fakeStorage) Events(context.Context, int64) ([]ics.Event, error)      { return f.events, nil }
func (f *fakeStorage) ListGroups(context.Context, int64) ([]domain.Group, error) {
	return f.groups, nil
}
func (f *fakeStorage) ListRules(context.Context, int64) ([]rules.Definition, error) {
	return f.rules, nil
}
func (f *fakeStorage) ListAssignments(context.Context, int64) ([]domain.Assignment, error) {
	return f.assignments, nil
}

type fakeBinder struct{ st *fakeStorage }

func (b fakeBinder) Bind(store.RowQuerier) repo.Storage { return b.st }

func event(uid, title string, day int) ics.Event {
	start := time.Date(2026, 9, day, 9, 0, 0, 0, time.UTC)
	ev := ics.Event{UID: uid, Title: title, Start: start, End: start.Add(time.Hour)}
	ev.NormalizeTitle()
	return ev
}

func find(t *testing.T, resp domain.GroupedResponse, id int64) domain.GroupView {
	t.Helper()
	for _, g := range resp.Groups {
		if g.ID == id {
			return g
		}
	}
	t.Fatalf("group %d missing from response", id)
	return domain.GroupView{}
}

func titles(g domain.GroupView) []string {
	out := make([]string, 0, len(g.RecurringEvents))
	for _, re := range g.RecurringEvents {
		out = append(out, re.Title)
	}
	return out
}

func TestGroupedPartitionsByPrecedence(t *testing.T) {
	st := &fakeStorage{
		events: []ics.Event{
			event("u1", "Math Lecture", 1),
			event("u2", "Math Lecture", 8),
			event("u3", "Chemistry Lab", 2),
			event("u4", "Chemistry Lab", 9),
			event("u5", "Weekly Standup", 3),
			event("u6", "Weekly Standup", 10),
			event("u7", "Open Day", 4),
		},
		groups: []domain.Group{
			{ID: 1, Name: "Sciences", Position: 1},
			{ID: 2, Name: "Meetings", Position: 2},
		},
		rules: []rules.Definition{
			{RuleType: "title_contains", RuleValue: "math", TargetGroupID: 2},
			{RuleType: "title_contains", RuleValue: "standup", TargetGroupID: 2},
		},
		assignments: []domain.Assignment{
			// the pin wins over the math rule
			{CalendarID: 1, NormalizedTitle: "Math Lecture", GroupID: 1},
			{CalendarID: 1, NormalizedTitle: "Chemistry Lab", GroupID: 1},
		},
	}
	svc := New(fakeDB{}, fakeBinder{st})

	resp, err := svc.Grouped(context.Background(), 1)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}

	sciences := find(t, resp, 1)
	if got := titles(sciences); len(got) != 2 || got[0] != "Math Lecture" || got[1] != "Chemistry Lab" {
		t.Fatalf("sciences got %v", got)
	}
	meetings := find(t, resp, 2)
	if got := titles(meetings); len(got) != 1 || got[0] != "Weekly Standup" {
		t.Fatalf("meetings got %v", got)
	}
	unique := find(t, resp, grouping.UniqueFallbackID)
	if got := titles(unique); len(got) != 1 || got[0] != "Open Day" {
		t.Fatalf("special events got %v", got)
	}

	// total coverage: every bucket appears somewhere
	seen := map[string]bool{}
	for _, g := range resp.Groups {
		for _, re := range g.RecurringEvents {
			seen[re.Title] = true
		}
	}
	for _, want := range []string{"Math Lecture", "Chemistry Lab", "Weekly Standup", "Open Day"} {
		if !seen[want] {
			t.Fatalf("bucket %q missing from all groups", want)
		}
	}
}

func TestGroupedExplicitAssignmentFansOut(t *testing.T) {
	st := &fakeStorage{
		events: []ics.Event{event("u1", "Math Lecture", 1), event("u2", "Math Lecture", 8)},
		groups: []domain.Group{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}},
		assignments: []domain.Assignment{
			{NormalizedTitle: "Math Lecture", GroupID: 1},
			{NormalizedTitle: "Math Lecture", GroupID: 2},
		},
	}
	svc := New(fakeDB{}, fakeBinder{st})

	resp, err := svc.Grouped(context.Background(), 1)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	for _, id := range []int64{1, 2} {
		if got := titles(find(t, resp, id)); len(got) != 1 || got[0] != "Math Lecture" {
			t.Fatalf("group %d got %v", id, got)
		}
	}
	// fanned-out buckets are assigned, so no fallback group appears
	if len(resp.Groups) != 2 {
		t.Fatalf("want only the two admin groups, got %d", len(resp.Groups))
	}
}

func TestGroupedFallbackSplitsRecurringFromUnique(t *testing.T) {
	st := &fakeStorage{
		events: []ics.Event{
			event("u1", "Yoga", 1),
			event("u2", "Yoga", 8),
			event("u3", "Open Day", 4),
		},
	}
	svc := New(fakeDB{}, fakeBinder{st})

	resp, err := svc.Grouped(context.Background(), 1)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	rec := find(t, resp, grouping.RecurringFallbackID)
	if got := titles(rec); len(got) != 1 || got[0] != "Yoga" {
		t.Fatalf("recurring fallback got %v", got)
	}
	uni := find(t, resp, grouping.UniqueFallbackID)
	if got := titles(uni); len(got) != 1 || got[0] != "Open Day" {
		t.Fatalf("unique fallback got %v", got)
	}
}

func TestGroupedDanglingRuleTargetFallsBack(t *testing.T) {
	st := &fakeStorage{
		events: []ics.Event{event("u1", "Math Lecture", 1)},
		rules:  []rules.Definition{{RuleType: "title_contains", RuleValue: "math", TargetGroupID: 99}},
	}
	svc := New(fakeDB{}, fakeBinder{st})

	resp, err := svc.Grouped(context.Background(), 1)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	uni := find(t, resp, grouping.UniqueFallbackID)
	if got := titles(uni); len(got) != 1 || got[0] != "Math Lecture" {
		t.Fatal("rule pointing at a deleted group must not swallow the bucket")
	}
}

func TestTitlesForResolvesAdminAndFallbackGroups(t *testing.T) {
	st := &fakeStorage{
		events: []ics.Event{
			event("u1", "Math Lecture", 1),
			event("u2", "Open Day", 4),
		},
		groups: []domain.Group{{ID: 1, Name: "Sciences"}},
		rules:  []rules.Definition{{RuleType: "title_contains", RuleValue: "math", TargetGroupID: 1}},
	}
	svc := New(fakeDB{}, fakeBinder{st})

	got, err := svc.TitlesFor(context.Background(), 1, []int64{1, grouping.UniqueFallbackID})
	if err != nil {
		t.Fatalf("titles for: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 titles, got %v", got)
	}
	if _, ok := got["Math Lecture"]; !ok {
		t.Fatal("missing rule-assigned title")
	}
	if _, ok := got["Open Day"]; !ok {
		t.Fatal("missing fallback title")
	}
}
