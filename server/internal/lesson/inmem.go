package lesson

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lesson-sync/server/internal/model"
)

// InMemoryStore 是基于内存的名单实现。
// 注意：重启即丢数据；多实例部署用 RedisStore。
type InMemoryStore struct {
	mu      sync.RWMutex
	lessons map[string]map[string]model.Participant
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		lessons: make(map[string]map[string]model.Participant),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Join(_ context.Context, lessonID string, role model.Role) (*model.Participant, error) {
	if !ValidLessonID(lessonID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLesson, lessonID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.lessons[lessonID]
	if members == nil {
		members = make(map[string]model.Participant)
		s.lessons[lessonID] = members
	}
	if role.Authoritative() {
		for _, p := range members {
			if p.Role.Authoritative() {
				return nil, ErrTutorPresent
			}
		}
	}

	p := model.Participant{
		ID:       uuid.NewString(),
		LessonID: lessonID,
		Role:     role,
		JoinedAt: s.now(),
	}
	members[p.ID] = p
	return &p, nil
}

func (s *InMemoryStore) Leave(_ context.Context, lessonID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.lessons[lessonID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := members[participantID]; !ok {
		return ErrNotFound
	}
	delete(members, participantID)
	if len(members) == 0 {
		delete(s.lessons, lessonID)
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, lessonID string) (*model.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.lessons[lessonID]
	if !ok {
		return nil, ErrNotFound
	}
	out := &model.Lesson{ID: lessonID, Participants: make([]model.Participant, 0, len(members))}
	for _, p := range members {
		out.Participants = append(out.Participants, p)
	}
	sortParticipants(out.Participants)
	return out, nil
}

func (s *InMemoryStore) Lookup(_ context.Context, lessonID, participantID string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.lessons[lessonID][participantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func sortParticipants(ps []model.Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
