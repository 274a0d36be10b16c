package timeline

import (
	"context"
	"sync"
)

// DefaultLimit 每节课最多保留的记录条数。
const DefaultLimit = 500

// InMemoryStore 是基于内存的实现，每节课只保留最近 limit 条。
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	entries map[string][]Entry
	seq     map[string]int64
}

func NewInMemoryStore(limit int) *InMemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &InMemoryStore{
		limit:   limit,
		entries: make(map[string][]Entry),
		seq:     make(map[string]int64),
	}
}

// Append 追加记录并分配 seq；超过上限时丢弃最早的记录。
func (s *InMemoryStore) Append(_ context.Context, lessonID string, entry *Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[lessonID]++
	seq := s.seq[lessonID]

	e := *entry
	e.Seq = seq
	e.LessonID = lessonID

	list := append(s.entries[lessonID], e)
	if over := len(list) - s.limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	s.entries[lessonID] = list
	return seq, nil
}

// List 返回切片副本。
func (s *InMemoryStore) List(_ context.Context, lessonID string, after int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range s.entries[lessonID] {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Drop(_ context.Context, lessonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, lessonID)
	delete(s.seq, lessonID)
	return nil
}
