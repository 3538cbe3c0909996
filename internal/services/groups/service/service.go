// Package service assembles grouped-events responses
package service

import (
	"context"

	"calsieve/internal/core/grouping"
	"calsieve/internal/core/ics"
	"calsieve/internal/core/rules"
	"calsieve/internal/platform/logger"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/groups/domain"
	"calsieve/internal/services/groups/repo"
)

// Service implements domain.ReaderPort
type Service struct {
	DB     store.TxRunner
	Binder store.Binder[repo.Storage]
}

// New constructs a grouping service
func New(db store.TxRunner, b store.Binder[repo.Storage]) *Service {
	return &Service{DB: db, Binder: b}
}

// partition is the shared assignment pass: explicit pins claim buckets first,
// then rules in priority order, then the synthetic fallback groups. A target
// group id that no longer exists demotes the bucket to fallback instead of
// silently dropping it
type partition struct {
	buckets  *grouping.BucketSet
	groups   []domain.Group
	byGroup  map[int64][]string
	fallback []grouping.FallbackGroup
}

func (s *Service) partition(ctx context.Context, calendarID int64) (*partition, error) {
	st := s.Binder.Bind(s.DB)

	events, err := st.Events(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	groups, err := st.ListGroups(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	defs, err := st.ListRules(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	assignments, err := st.ListAssignments(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	known := make(map[int64]bool, len(groups))
	for _, g := range groups {
		known[g.ID] = true
	}

	explicit := make(map[string][]int64)
	for _, a := range assignments {
		if known[a.GroupID] {
			explicit[a.NormalizedTitle] = append(explicit[a.NormalizedTitle], a.GroupID)
		}
	}

	// Definitions are validated at write time; a stored rule that no longer
	// compiles (say its kind was retired) is skipped, never fatal for reads
	compiled := make([]rules.Rule, 0, len(defs))
	for i, d := range defs {
		rs, err := rules.Compile([]rules.Definition{d})
		if err != nil {
			logger.C(ctx).Warn().Err(err).Int("rule_index", i).Msg("skipping uncompilable stored rule")
			continue
		}
		compiled = append(compiled, rs...)
	}
	engine := rules.NewEngine(compiled)

	p := &partition{
		buckets: grouping.GroupEvents(events),
		groups:  groups,
		byGroup: make(map[int64][]string),
	}

	var unassigned []*grouping.Bucket
	p.buckets.Each(func(b *grouping.Bucket) {
		if gids := explicit[b.NormalizedTitle]; len(gids) > 0 {
			for _, gid := range gids {
				p.byGroup[gid] = append(p.byGroup[gid], b.NormalizedTitle)
			}
			return
		}
		if gid, ok := engine.Match(b.Representative()); ok && known[gid] {
			p.byGroup[gid] = append(p.byGroup[gid], b.NormalizedTitle)
			return
		}
		unassigned = append(unassigned, b)
	})
	p.fallback = grouping.Fallback(unassigned)
	return p, nil
}

// Grouped implements domain.ReaderPort
func (s *Service) Grouped(ctx context.Context, calendarID int64) (domain.GroupedResponse, error) {
	p, err := s.partition(ctx, calendarID)
	if err != nil {
		return domain.GroupedResponse{}, err
	}

	views := make([]domain.GroupView, 0, len(p.groups)+2)
	for _, g := range p.groups {
		view := domain.GroupView{ID: g.ID, Name: g.Name, RecurringEvents: []domain.RecurringEvent{}}
		for _, title := range p.byGroup[g.ID] {
			if b, ok := p.buckets.Get(title); ok {
				view.RecurringEvents = append(view.RecurringEvents, bucketView(b))
			}
		}
		views = append(views, view)
	}
	for _, fg := range p.fallback {
		view := domain.GroupView{ID: fg.ID, Name: fg.Name, RecurringEvents: []domain.RecurringEvent{}}
		for _, b := range fg.Buckets {
			view.RecurringEvents = append(view.RecurringEvents, bucketView(b))
		}
		views = append(views, view)
	}
	return domain.GroupedResponse{Groups: views}, nil
}

// TitlesFor implements domain.ReaderPort (and the projection Assigner port)
func (s *Service) TitlesFor(ctx context.Context, calendarID int64, groupIDs []int64) (map[string]struct{}, error) {
	p, err := s.partition(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]struct{})
	for _, gid := range groupIDs {
		for _, title := range p.byGroup[gid] {
			out[title] = struct{}{}
		}
		for _, fg := range p.fallback {
			if fg.ID != gid {
				continue
			}
			for _, b := range fg.Buckets {
				out[b.NormalizedTitle] = struct{}{}
			}
		}
	}
	return out, nil
}

func bucketView(b *grouping.Bucket) domain.RecurringEvent {
	events := make([]domain.GroupedEvent, 0, len(b.Events))
	for _, ev := range b.Events {
		events = append(events, eventView(ev))
	}
	return domain.RecurringEvent{
		Title:      b.NormalizedTitle,
		EventCount: b.Count(),
		Events:     events,
	}
}

func eventView(ev ics.Event) domain.GroupedEvent {
	return domain.GroupedEvent{
		UID:      ev.UID,
		Title:    ev.Title,
		Start:    ev.Start,
		End:      ev.End,
		AllDay:   ev.AllDay,
		Location: ev.Location,
	}
}
