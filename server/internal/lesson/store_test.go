package lesson

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"lesson-sync/server/internal/model"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "", time.Hour)
}

// 两种实现共用同一组契约测试。
func storeImpls(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func TestStoreJoinAndGet(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			tutor, err := store.Join(ctx, "L1", model.RoleTutor)
			if err != nil {
				t.Fatalf("join tutor: %v", err)
			}
			student, err := store.Join(ctx, "L1", model.RoleStudent)
			if err != nil {
				t.Fatalf("join student: %v", err)
			}
			if tutor.ID == "" || tutor.ID == student.ID {
				t.Fatalf("expected distinct participant ids, got %q and %q", tutor.ID, student.ID)
			}

			lesson, err := store.Get(ctx, "L1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(lesson.Participants) != 2 {
				t.Fatalf("expected 2 participants, got %d", len(lesson.Participants))
			}
			got, ok := lesson.Tutor()
			if !ok || got.ID != tutor.ID {
				t.Fatalf("expected tutor %s, got %+v", tutor.ID, got)
			}

			p, err := store.Lookup(ctx, "L1", student.ID)
			if err != nil || p.Role != model.RoleStudent {
				t.Fatalf("lookup student: %+v %v", p, err)
			}
		})
	}
}

func TestStoreSingleTutor(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.Join(ctx, "L1", model.RoleTutor)
			if err != nil {
				t.Fatalf("join tutor: %v", err)
			}
			if _, err := store.Join(ctx, "L1", model.RoleTutor); !errors.Is(err, ErrTutorPresent) {
				t.Fatalf("expected ErrTutorPresent, got %v", err)
			}
			// 另一节课不受影响
			if _, err := store.Join(ctx, "L2", model.RoleTutor); err != nil {
				t.Fatalf("tutor for another lesson: %v", err)
			}

			if err := store.Leave(ctx, "L1", first.ID); err != nil {
				t.Fatalf("leave: %v", err)
			}
			if _, err := store.Join(ctx, "L1", model.RoleTutor); err != nil {
				t.Fatalf("tutor slot should be free after leave: %v", err)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for lesson, got %v", err)
			}
			if _, err := store.Lookup(ctx, "missing", "p"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for participant, got %v", err)
			}
			if err := store.Leave(ctx, "missing", "p"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on leave, got %v", err)
			}

			p, err := store.Join(ctx, "L1", model.RoleStudent)
			if err != nil {
				t.Fatalf("join: %v", err)
			}
			if err := store.Leave(ctx, "L1", p.ID); err != nil {
				t.Fatalf("leave: %v", err)
			}
			if _, err := store.Get(ctx, "L1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected empty lesson to disappear, got %v", err)
			}
		})
	}
}

func TestStoreRejectsInvalidLessonID(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Join(context.Background(), "bad id/../x", model.RoleStudent); !errors.Is(err, ErrInvalidLesson) {
				t.Fatalf("expected ErrInvalidLesson, got %v", err)
			}
		})
	}
}

func TestValidLessonID(t *testing.T) {
	cases := map[string]bool{
		"L1":             true,
		"lesson-2024_01": true,
		"a.b":            true,
		"":               false,
		"has space":      false,
		"slash/inside":   false,
		"colon:key":      false,
	}
	for id, want := range cases {
		if got := ValidLessonID(id); got != want {
			t.Errorf("ValidLessonID(%q) = %v, want %v", id, got, want)
		}
	}
}
