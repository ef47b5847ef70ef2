// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
)

// Store holds every record behind one mutex, which makes counter increments
// atomic with respect to each other.
type Store struct {
	mu           sync.Mutex
	users        map[string]user.User // keyed by user id
	usersByWAID  map[string]string
	subjects     map[int64]user.Subject
	classes      map[int64][]user.Class // keyed by subject id
	userClasses  map[string]map[int64][]int64
	counters     map[string]*counter
	now          func() time.Time
}

type counter struct {
	value     int64
	expiresAt time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]user.User),
		usersByWAID: make(map[string]string),
		subjects:    make(map[int64]user.Subject),
		classes:     make(map[int64][]user.Class),
		userClasses: make(map[string]map[int64][]int64),
		counters:    make(map[string]*counter),
		now:         time.Now,
	}
}

var _ storage.CounterStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.SubjectStore = (*Store)(nil)

// SetNow overrides the clock; for tests exercising counter expiry.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// --- CounterStore -----------------------------------------------------------

func (s *Store) Add(ctx context.Context, key quota.Key, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key.String()]
	if !ok || now.After(c.expiresAt) {
		c = &counter{expiresAt: now.Add(key.TTL(now))}
		s.counters[key.String()] = c
	}
	c.value += delta
	return c.value, nil
}

func (s *Store) Get(ctx context.Context, key quota.Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key.String()]
	if !ok || s.now().After(c.expiresAt) {
		return 0, nil
	}
	return c.value, nil
}

// --- UserStore --------------------------------------------------------------

func (s *Store) GetUserByWAID(ctx context.Context, waID string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByWAID[waID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetOrCreateUser(ctx context.Context, waID string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.usersByWAID[waID]; ok {
		return s.users[id], nil
	}
	now := s.now().UTC()
	u := user.User{
		ID:         uuid.NewString(),
		WAID:       waID,
		Onboarding: user.OnboardingNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.users[u.ID] = u
	s.usersByWAID[waID] = u.ID
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.UpdatedAt = s.now().UTC()
	s.users[u.ID] = u
	s.usersByWAID[u.WAID] = u.ID
	return u, nil
}

// --- SubjectStore -----------------------------------------------------------

// SeedSubject registers a subject with its classes; test and dev helper.
func (s *Store) SeedSubject(subject user.Subject, classes []user.Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject.ID] = subject
	s.classes[subject.ID] = classes
}

func (s *Store) ListSubjects(ctx context.Context) ([]user.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subjects := make([]user.Subject, 0, len(s.subjects))
	for _, subject := range s.subjects {
		subjects = append(subjects, subject)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].ID < subjects[j].ID })
	return subjects, nil
}

func (s *Store) GetSubject(ctx context.Context, subjectID int64) (user.Subject, []user.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[subjectID]
	if !ok {
		return user.Subject{}, nil, storage.ErrNotFound
	}
	return subject, append([]user.Class(nil), s.classes[subjectID]...), nil
}

func (s *Store) SetUserClasses(ctx context.Context, userID string, subjectID int64, classIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := s.subjects[subjectID]; !ok {
		return storage.ErrNotFound
	}
	selections, ok := s.userClasses[userID]
	if !ok {
		selections = make(map[int64][]int64)
		s.userClasses[userID] = selections
	}
	selections[subjectID] = append([]int64(nil), classIDs...)
	return nil
}

// UserClasses returns the recorded selections; test helper.
func (s *Store) UserClasses(userID string, subjectID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userClasses[userID][subjectID]
}
