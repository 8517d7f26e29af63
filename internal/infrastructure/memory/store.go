// Package memory provides a map-backed store guarded by one mutex. It
// backs tests and DATABASE_TYPE=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/store"
)

type state struct {
	members       map[uuid.UUID]family.Member
	medications   map[uuid.UUID]medication.Medication
	prescriptions map[uuid.UUID]prescription.Prescription
	logs          map[uuid.UUID]medlog.Log
	// seq preserves insertion order for ties.
	seq map[uuid.UUID]int
}

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	state  state
	next   int
	events []*domain.Event
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: state{
		members:       map[uuid.UUID]family.Member{},
		medications:   map[uuid.UUID]medication.Medication{},
		prescriptions: map[uuid.UUID]prescription.Prescription{},
		logs:          map[uuid.UUID]medlog.Log{},
		seq:           map[uuid.UUID]int{},
	}}
}

func (s *Store) FamilyMembers() store.FamilyMembers   { return members{s} }
func (s *Store) Medications() store.Medications       { return medications{s} }
func (s *Store) Prescriptions() store.Prescriptions   { return prescriptions{s} }
func (s *Store) MedicationLogs() store.MedicationLogs { return logs{s} }
func (s *Store) Ping(context.Context) error           { return nil }
func (s *Store) Kind() string                         { return store.KindMemory }
func (s *Store) Close() error                         { return nil }

// Events returns the change events recorded so far, oldest first.
func (s *Store) Events() []*domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) track(id uuid.UUID) {
	s.next++
	s.state.seq[id] = s.next
}

func (s *Store) record(events ...*domain.Event) {
	s.events = append(s.events, events...)
}

// deletePrescription removes a prescription and its logs. Callers hold mu.
func (s *Store) deletePrescription(id uuid.UUID) {
	for logID, l := range s.state.logs {
		if l.PrescriptionID == id {
			delete(s.state.logs, logID)
			delete(s.state.seq, logID)
		}
	}
	delete(s.state.prescriptions, id)
	delete(s.state.seq, id)
}

type members struct{ s *Store }

func (r members) Create(_ context.Context, m *family.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.state.members[m.ID] = *m
	r.s.track(m.ID)
	return nil
}

func (r members) Get(_ context.Context, id uuid.UUID) (*family.Member, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.state.members[id]
	if !ok {
		return nil, domain.NotFound("Family member")
	}
	return &m, nil
}

func (r members) List(_ context.Context, f family.Filter) ([]*family.Member, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*family.Member, 0, len(r.s.state.members))
	for _, m := range r.s.state.members {
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		m := m
		out = append(out, &m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return r.s.state.seq[out[i].ID] < r.s.state.seq[out[j].ID]
	})
	return out, nil
}

func (r members) Update(_ context.Context, m *family.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.members[m.ID]; !ok {
		return domain.NotFound("Family member")
	}
	r.s.state.members[m.ID] = *m
	r.s.record(m.UpdatedEvent())
	return nil
}

func (r members) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.state.members[id]
	if !ok {
		return domain.NotFound("Family member")
	}
	for pid, p := range r.s.state.prescriptions {
		if p.FamilyMemberID == id {
			r.s.deletePrescription(pid)
		}
	}
	delete(r.s.state.members, id)
	delete(r.s.state.seq, id)
	r.s.record(m.RemovedEvent())
	return nil
}

type medications struct{ s *Store }

func (r medications) nameTaken(name string, except uuid.UUID) bool {
	for id, m := range r.s.state.medications {
		if id != except && m.Name == name {
			return true
		}
	}
	return false
}

func (r medications) Create(_ context.Context, m *medication.Medication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.nameTaken(m.Name, m.ID) {
		return medication.DuplicateName()
	}
	r.s.state.medications[m.ID] = *m
	r.s.track(m.ID)
	return nil
}

func (r medications) Get(_ context.Context, id uuid.UUID) (*medication.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.state.medications[id]
	if !ok {
		return nil, domain.NotFound("Medication")
	}
	return &m, nil
}

func (r medications) List(_ context.Context, search string) ([]*medication.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	search = strings.TrimSpace(search)
	out := make([]*medication.Medication, 0, len(r.s.state.medications))
	for _, m := range r.s.state.medications {
		if !m.Matches(search) {
			continue
		}
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r medications) Update(_ context.Context, m *medication.Medication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.medications[m.ID]; !ok {
		return domain.NotFound("Medication")
	}
	if r.nameTaken(m.Name, m.ID) {
		return medication.DuplicateName()
	}
	r.s.state.medications[m.ID] = *m
	r.s.record(m.UpdatedEvent())
	return nil
}

func (r medications) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.medications[id]; !ok {
		return domain.NotFound("Medication")
	}
	for _, p := range r.s.state.prescriptions {
		if p.MedicationID == id {
			return medication.InUse()
		}
	}
	delete(r.s.state.medications, id)
	delete(r.s.state.seq, id)
	return nil
}

type prescriptions struct{ s *Store }

func (r prescriptions) checkUnique(p *prescription.Prescription) error {
	peers := make([]*prescription.Prescription, 0)
	for _, other := range r.s.state.prescriptions {
		other := other
		peers = append(peers, &other)
	}
	return prescription.CheckUnique(p, peers)
}

// save stores a copy of p without its pending changes and records them.
func (r prescriptions) save(p *prescription.Prescription) {
	r.s.record(p.Changes()...)
	p.ClearChanges()
	r.s.state.prescriptions[p.ID] = *p
}

func (r prescriptions) Create(_ context.Context, p *prescription.Prescription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.members[p.FamilyMemberID]; !ok {
		return domain.NotFound("Family member")
	}
	if _, ok := r.s.state.medications[p.MedicationID]; !ok {
		return domain.NotFound("Medication")
	}
	if err := r.checkUnique(p); err != nil {
		return err
	}
	r.save(p)
	r.s.track(p.ID)
	return nil
}

func (r prescriptions) Get(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.state.prescriptions[id]
	if !ok {
		return nil, domain.NotFound("Prescription")
	}
	return &p, nil
}

func (r prescriptions) List(_ context.Context, f prescription.Filter) ([]*prescription.Prescription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*prescription.Prescription, 0, len(r.s.state.prescriptions))
	for _, p := range r.s.state.prescriptions {
		if !f.Matches(&p) {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.s.state.seq[out[i].ID] < r.s.state.seq[out[j].ID]
	})
	return out, nil
}

func (r prescriptions) Update(_ context.Context, p *prescription.Prescription, checkUnique bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.prescriptions[p.ID]; !ok {
		return domain.NotFound("Prescription")
	}
	if checkUnique {
		if err := r.checkUnique(p); err != nil {
			return err
		}
	}
	r.save(p)
	return nil
}

func (r prescriptions) Delete(_ context.Context, p *prescription.Prescription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.prescriptions[p.ID]; !ok {
		return domain.NotFound("Prescription")
	}
	r.s.deletePrescription(p.ID)
	r.s.record(p.Changes()...)
	p.ClearChanges()
	return nil
}

type logs struct{ s *Store }

func (r logs) Create(_ context.Context, l *medlog.Log) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.prescriptions[l.PrescriptionID]; !ok {
		return domain.NotFound("Prescription")
	}
	r.s.state.logs[l.ID] = *l
	r.s.track(l.ID)
	return nil
}

func (r logs) Get(_ context.Context, id uuid.UUID) (*medlog.Log, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.state.logs[id]
	if !ok {
		return nil, domain.NotFound("Medication log")
	}
	return &l, nil
}

func (r logs) List(_ context.Context, f medlog.Filter) ([]*medlog.Log, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*medlog.Log, 0)
	for _, l := range r.s.state.logs {
		if f.PrescriptionID != nil && l.PrescriptionID != *f.PrescriptionID {
			continue
		}
		if f.FamilyMemberID != nil {
			p, ok := r.s.state.prescriptions[l.PrescriptionID]
			if !ok || p.FamilyMemberID != *f.FamilyMemberID {
				continue
			}
		}
		if !f.InWindow(&l) {
			continue
		}
		l := l
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return r.s.state.seq[out[i].ID] < r.s.state.seq[out[j].ID]
	})
	return out, nil
}

func (r logs) Update(_ context.Context, l *medlog.Log) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.logs[l.ID]; !ok {
		return domain.NotFound("Medication log")
	}
	r.s.state.logs[l.ID] = *l
	return nil
}

func (r logs) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.logs[id]; !ok {
		return domain.NotFound("Medication log")
	}
	delete(r.s.state.logs, id)
	delete(r.s.state.seq, id)
	return nil
}

func (r logs) CountByPrescription(context.Context) (map[uuid.UUID]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[uuid.UUID]int)
	for _, l := range r.s.state.logs {
		counts[l.PrescriptionID]++
	}
	return counts, nil
}
