// README: In-memory Store for tests and single-process runs; transactions are serialized and roll back on error.
package matching

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fixit/internal/modules/location"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

type memData struct {
	requests    map[types.ID]repair.Request
	technicians map[types.ID]technician.Technician
	techOrder   []types.ID
	skills      map[types.ID]map[types.ID]int // serviceID -> technicianID -> level
	matches     map[types.ID]Match
	events      []repair.Event
	warranties  map[types.ID]repair.Warranty
	nextEventID int64
}

func (d *memData) clone() *memData {
	c := &memData{
		requests:    make(map[types.ID]repair.Request, len(d.requests)),
		technicians: make(map[types.ID]technician.Technician, len(d.technicians)),
		techOrder:   append([]types.ID(nil), d.techOrder...),
		skills:      make(map[types.ID]map[types.ID]int, len(d.skills)),
		matches:     make(map[types.ID]Match, len(d.matches)),
		events:      append([]repair.Event(nil), d.events...),
		warranties:  make(map[types.ID]repair.Warranty, len(d.warranties)),
		nextEventID: d.nextEventID,
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	for k, v := range d.technicians {
		c.technicians[k] = v
	}
	for svc, levels := range d.skills {
		m := make(map[types.ID]int, len(levels))
		for k, v := range levels {
			m[k] = v
		}
		c.skills[svc] = m
	}
	for k, v := range d.matches {
		c.matches[k] = v
	}
	for k, v := range d.warranties {
		c.warranties[k] = v
	}
	return c
}

// MemoryStore keeps everything in process memory. Values are copied in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	// held is set on the handle passed to InTx callbacks, where mu is already locked.
	held bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			requests:    make(map[types.ID]repair.Request),
			technicians: make(map[types.ID]technician.Technician),
			skills:      make(map[types.ID]map[types.ID]int),
			matches:     make(map[types.ID]Match),
			warranties:  make(map[types.ID]repair.Warranty),
		},
	}
}

func (s *MemoryStore) lock() func() {
	if s.held {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) InTx(_ context.Context, fn func(tx Store) error) error {
	if s.held {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&MemoryStore{mu: s.mu, data: s.data, held: true}); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

// PutRequest inserts or replaces a request.
func (s *MemoryStore) PutRequest(r repair.Request) {
	defer s.lock()()
	s.data.requests[r.ID] = r
}

// PutTechnician inserts or replaces a technician. Insertion order is the
// listing order.
func (s *MemoryStore) PutTechnician(t technician.Technician) {
	defer s.lock()()
	if _, ok := s.data.technicians[t.ID]; !ok {
		s.data.techOrder = append(s.data.techOrder, t.ID)
	}
	s.data.technicians[t.ID] = t
}

func (s *MemoryStore) PutSkill(sk technician.Skill) {
	defer s.lock()()
	levels, ok := s.data.skills[sk.ServiceID]
	if !ok {
		levels = make(map[types.ID]int)
		s.data.skills[sk.ServiceID] = levels
	}
	levels[sk.TechnicianID] = sk.Level
}

// SetPosition, TakeOffline and Nearby let the store back the location
// service when no database is configured.
func (s *MemoryStore) SetPosition(_ context.Context, id types.ID, p types.Point, at time.Time) (bool, error) {
	defer s.lock()()
	t, ok := s.data.technicians[id]
	if !ok {
		return false, nil
	}
	if t.LocationAt != nil && at.Before(*t.LocationAt) {
		return false, nil
	}
	t.Location = &p
	t.LocationAt = &at
	s.data.technicians[id] = t
	return true, nil
}

func (s *MemoryStore) TakeOffline(_ context.Context, id types.ID) error {
	defer s.lock()()
	t, ok := s.data.technicians[id]
	if !ok {
		return location.ErrUnknownTechnician
	}
	switch t.Status {
	case technician.StatusAvailable, technician.StatusOnline:
		t.Status = technician.StatusOffline
		t.StatusVersion++
	case technician.StatusOffline:
	default:
		return fmt.Errorf("%w: technician is %s", location.ErrTechnicianBusy, t.Status)
	}
	t.Location = nil
	s.data.technicians[id] = t
	return nil
}

func (s *MemoryStore) Nearby(_ context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	defer s.lock()()
	var hits []location.TechnicianLocation
	for _, id := range s.data.techOrder {
		t := s.data.technicians[id]
		if t.Location == nil {
			continue
		}
		if d := location.Distance(p, *t.Location); d <= radiusKm {
			hits = append(hits, location.TechnicianLocation{TechnicianID: id, Position: *t.Location, Distance: d})
		}
	}
	location.SortByDistance(hits, func(h location.TechnicianLocation) float64 { return h.Distance })
	out := make([]types.ID, len(hits))
	for i, h := range hits {
		out[i] = h.TechnicianID
	}
	return out, nil
}

func (s *MemoryStore) Events(requestID types.ID) []repair.Event {
	defer s.lock()()
	var out []repair.Event
	for _, e := range s.data.events {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) Matches(requestID types.ID) []Match {
	defer s.lock()()
	var out []Match
	for _, m := range s.data.matches {
		if m.ServiceRequestID == requestID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) Warranty(requestID types.ID) (repair.Warranty, bool) {
	defer s.lock()()
	w, ok := s.data.warranties[requestID]
	return w, ok
}

func (s *MemoryStore) GetRequest(_ context.Context, id types.ID) (*repair.Request, error) {
	defer s.lock()()
	r, ok := s.data.requests[id]
	if !ok {
		return nil, repair.ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) UpdateRequestStatus(_ context.Context, id types.ID, from, to repair.Status, version int, p repair.Patch) (bool, error) {
	if err := p.Check(to); err != nil {
		return false, err
	}
	defer s.lock()()
	r, ok := s.data.requests[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	r.Status = to
	r.StatusVersion++
	if p.Detaches(to) {
		r.TechnicianID = nil
	} else if p.TechnicianID != nil {
		id := *p.TechnicianID
		r.TechnicianID = &id
	}
	switch to {
	case repair.StatusAssigned:
		r.AssignedAt = &at
	case repair.StatusInProgress:
		r.StartedAt = &at
	case repair.StatusCompleted:
		r.CompletedAt = &at
	case repair.StatusCancelled:
		r.CancelledAt = &at
	}
	if p.SLADeadline != nil {
		d := *p.SLADeadline
		r.SLADeadline = &d
	}
	if p.FinalCost != nil {
		c := *p.FinalCost
		r.FinalCost = &c
	}
	s.data.requests[id] = r
	return true, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *repair.Event) error {
	defer s.lock()()
	s.data.nextEventID++
	e.ID = s.data.nextEventID
	s.data.events = append(s.data.events, *e)
	return nil
}

func (s *MemoryStore) CreateWarranty(_ context.Context, w *repair.Warranty) error {
	defer s.lock()()
	s.data.warranties[w.RequestID] = *w
	return nil
}

func (s *MemoryStore) GetTechnician(_ context.Context, id types.ID) (*technician.Technician, error) {
	defer s.lock()()
	t, ok := s.data.technicians[id]
	if !ok {
		return nil, technician.ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) ListMatchableTechnicians(_ context.Context) ([]technician.Technician, error) {
	defer s.lock()()
	var out []technician.Technician
	for _, id := range s.data.techOrder {
		if t := s.data.technicians[id]; t.Status.Matchable() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListSkills(_ context.Context, serviceID types.ID) ([]technician.Skill, error) {
	defer s.lock()()
	var out []technician.Skill
	for techID, level := range s.data.skills[serviceID] {
		out = append(out, technician.Skill{TechnicianID: techID, ServiceID: serviceID, Level: level})
	}
	return out, nil
}

func (s *MemoryStore) UpdateTechnicianStatus(_ context.Context, id types.ID, from []technician.Status, to technician.Status) (bool, error) {
	defer s.lock()()
	t, ok := s.data.technicians[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if t.Status == f {
			t.Status = to
			t.StatusVersion++
			s.data.technicians[id] = t
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) FinishTechnicianJob(_ context.Context, id types.ID) (bool, error) {
	defer s.lock()()
	t, ok := s.data.technicians[id]
	if !ok || t.Status != technician.StatusBusy {
		return false, nil
	}
	t.Status = technician.StatusAvailable
	t.StatusVersion++
	t.CompletedJobs++
	s.data.technicians[id] = t
	return true, nil
}

func (s *MemoryStore) CreateMatch(_ context.Context, m *Match) error {
	defer s.lock()()
	if m.Status == MatchPending {
		for _, existing := range s.data.matches {
			if existing.ServiceRequestID == m.ServiceRequestID && existing.Status == MatchPending {
				return ErrPendingExists
			}
		}
	}
	s.data.matches[m.ID] = copyMatch(*m)
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id types.ID) (*Match, error) {
	defer s.lock()()
	m, ok := s.data.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	m = copyMatch(m)
	return &m, nil
}

func (s *MemoryStore) UpdateMatchStatus(_ context.Context, id types.ID, from, to MatchStatus, respondedAt *time.Time, reason string) (bool, error) {
	defer s.lock()()
	m, ok := s.data.matches[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	if respondedAt != nil {
		at := *respondedAt
		m.RespondedAt = &at
	}
	if reason != "" {
		m.RejectReason = reason
	}
	s.data.matches[id] = m
	return true, nil
}

func (s *MemoryStore) PendingMatch(_ context.Context, requestID types.ID) (*Match, error) {
	defer s.lock()()
	return s.latest(requestID, MatchPending), nil
}

func (s *MemoryStore) AcceptedMatch(_ context.Context, requestID types.ID) (*Match, error) {
	defer s.lock()()
	return s.latest(requestID, MatchAccepted), nil
}

func (s *MemoryStore) latest(requestID types.ID, status MatchStatus) *Match {
	var found *Match
	for _, m := range s.data.matches {
		if m.ServiceRequestID != requestID || m.Status != status {
			continue
		}
		if found == nil || m.CreatedAt.After(found.CreatedAt) {
			c := copyMatch(m)
			found = &c
		}
	}
	return found
}

func (s *MemoryStore) ListPendingByTechnician(_ context.Context, technicianID types.ID) ([]Match, error) {
	defer s.lock()()
	var out []Match
	for _, m := range s.data.matches {
		if m.TechnicianID == technicianID && m.Status == MatchPending {
			out = append(out, copyMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]Match, error) {
	defer s.lock()()
	var out []Match
	for _, m := range s.data.matches {
		if m.Status == MatchPending && !now.Before(m.ExpiresAt) {
			out = append(out, copyMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyMatch(m Match) Match {
	m.Backups = append([]Backup(nil), m.Backups...)
	return m
}
