package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"auditlog/internal/audit"
	"auditlog/pkg/platform/sentinel"
	"auditlog/pkg/requestcontext"
)

// InMemoryStore implements audit.Store in process memory. It keeps secondary
// indexes for the detector and filter access paths so those lookups scan only
// the matching records. Not durable; use it for tests and local runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event // position i holds ID i+1

	byIP         map[string][]int
	byEmail      map[string][]int
	byType       map[audit.EventType][]int
	byOutcome    map[audit.Outcome][]int
	suspicious   []int
	unsuspicious []int

	closed bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byIP:      make(map[string][]int),
		byEmail:   make(map[string][]int),
		byType:    make(map[audit.EventType][]int),
		byOutcome: make(map[audit.Outcome][]int),
	}
}

// Append assigns the next ID and the request-scoped timestamp.
func (s *InMemoryStore) Append(ctx context.Context, e audit.Event) (audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audit.Event{}, sentinel.ErrClosed
	}

	pos := len(s.events)
	e.ID = int64(pos + 1)
	e.Timestamp = requestcontext.Now(ctx).UTC()
	if e.Metadata != nil {
		e.Metadata = append([]byte(nil), e.Metadata...)
	}
	s.events = append(s.events, e)

	s.byIP[e.IPAddress] = append(s.byIP[e.IPAddress], pos)
	if e.UserEmail != "" {
		s.byEmail[e.UserEmail] = append(s.byEmail[e.UserEmail], pos)
	}
	s.byType[e.EventType] = append(s.byType[e.EventType], pos)
	s.byOutcome[e.Outcome] = append(s.byOutcome[e.Outcome], pos)
	if e.Suspicious {
		s.suspicious = append(s.suspicious, pos)
	} else {
		s.unsuspicious = append(s.unsuspicious, pos)
	}
	return cloneEvent(e), nil
}

func (s *InMemoryStore) CountByIP(_ context.Context, t audit.EventType, ip string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, sentinel.ErrClosed
	}
	return s.countIn(s.byIP[ip], t, since), nil
}

func (s *InMemoryStore) CountByEmail(_ context.Context, t audit.EventType, email string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, sentinel.ErrClosed
	}
	return s.countIn(s.byEmail[email], t, since), nil
}

// countIn must be called while holding s.mu.
func (s *InMemoryStore) countIn(positions []int, t audit.EventType, since time.Time) int {
	n := 0
	for _, pos := range positions {
		e := &s.events[pos]
		if e.EventType == t && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) Query(_ context.Context, f audit.Filter, p audit.Page) (audit.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return audit.QueryResult{}, sentinel.ErrClosed
	}

	var matched []audit.Event
	for _, pos := range s.candidates(f) {
		e := s.events[pos]
		if matches(e, f) {
			matched = append(matched, e)
		}
	}
	slices.SortFunc(matched, func(a, b audit.Event) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})

	result := audit.QueryResult{Total: len(matched), Logs: []audit.Event{}}
	if p.Offset >= len(matched) {
		return result, nil
	}
	end := min(p.Offset+p.Limit, len(matched))
	for _, e := range matched[p.Offset:end] {
		result.Logs = append(result.Logs, cloneEvent(e))
	}
	return result, nil
}

// candidates picks the narrowest index for the filter.
// Must be called while holding s.mu.
func (s *InMemoryStore) candidates(f audit.Filter) []int {
	lists := make([][]int, 0, 3)
	if f.EventType != "" {
		lists = append(lists, s.byType[f.EventType])
	}
	if f.Outcome != "" {
		lists = append(lists, s.byOutcome[f.Outcome])
	}
	if f.Suspicious != nil {
		if *f.Suspicious {
			lists = append(lists, s.suspicious)
		} else {
			lists = append(lists, s.unsuspicious)
		}
	}
	if len(lists) == 0 {
		all := make([]int, len(s.events))
		for i := range all {
			all[i] = i
		}
		return all
	}
	return slices.MinFunc(lists, func(a, b []int) int { return len(a) - len(b) })
}

func matches(e audit.Event, f audit.Filter) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Suspicious != nil && e.Suspicious != *f.Suspicious {
		return false
	}
	if f.Search != "" &&
		!strings.Contains(e.UserEmail, f.Search) &&
		!strings.Contains(e.IPAddress, f.Search) &&
		!strings.Contains(e.Endpoint, f.Search) {
		return false
	}
	return true
}

func (s *InMemoryStore) Stats(_ context.Context, p audit.StatsParams) (audit.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return audit.Summary{}, sentinel.ErrClosed
	}

	summary := audit.Summary{
		Total:      len(s.events),
		Failures:   len(s.byOutcome[audit.OutcomeFailure]),
		Suspicious: len(s.suspicious),
	}
	for i := range s.events {
		if !s.events[i].Timestamp.Before(p.RecentSince) {
			summary.Last24h++
		}
	}

	ips := make([]audit.IPCount, 0, len(s.byIP))
	for ip, positions := range s.byIP {
		ips = append(ips, audit.IPCount{IPAddress: ip, Count: len(positions)})
	}
	slices.SortFunc(ips, func(a, b audit.IPCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.IPAddress, b.IPAddress)
	})
	if len(ips) > p.TopIPs {
		ips = ips[:p.TopIPs]
	}
	summary.TopIPs = ips

	kinds := make([]audit.EventTypeCount, 0, len(s.byType))
	for t, positions := range s.byType {
		kinds = append(kinds, audit.EventTypeCount{EventType: t, Count: len(positions)})
	}
	slices.SortFunc(kinds, func(a, b audit.EventTypeCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(string(a.EventType), string(b.EventType))
	})
	summary.EventBreakdown = kinds
	return summary, nil
}

// Ping reports sentinel.ErrClosed after Close.
func (s *InMemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sentinel.ErrClosed
	}
	return nil
}

// Close marks the store closed; later calls return sentinel.ErrClosed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneEvent(e audit.Event) audit.Event {
	if e.Metadata != nil {
		e.Metadata = append([]byte(nil), e.Metadata...)
	}
	return e
}
