package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lesson-sync/server/internal/model"
)

// releaseTutor 只在 tutor 槽位仍属于该参与者时释放，避免误删后来者。
var releaseTutor = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore 把名单放在 Redis 里，供多个 relay 实例共享。
//
// key 布局：
//	<prefix><lessonId>:participants  hash participantId → Participant JSON
//	<prefix><lessonId>:tutor         string，当前 tutor 的 participantId
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore ttl 为 0 时 key 不过期。
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "lessonsync:lesson:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) participantsKey(lessonID string) string {
	return s.prefix + lessonID + ":participants"
}

func (s *RedisStore) tutorKey(lessonID string) string {
	return s.prefix + lessonID + ":tutor"
}

func (s *RedisStore) Join(ctx context.Context, lessonID string, role model.Role) (*model.Participant, error) {
	if !ValidLessonID(lessonID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLesson, lessonID)
	}

	p := model.Participant{
		ID:       uuid.NewString(),
		LessonID: lessonID,
		Role:     role,
		JoinedAt: s.now().UTC(),
	}

	if role.Authoritative() {
		ok, err := s.client.SetNX(ctx, s.tutorKey(lessonID), p.ID, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("claim tutor slot: %w", err)
		}
		if !ok {
			return nil, ErrTutorPresent
		}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal participant: %w", err)
	}

	key := s.participantsKey(lessonID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, p.ID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		if role.Authoritative() {
			releaseTutor.Run(ctx, s.client, []string{s.tutorKey(lessonID)}, p.ID)
		}
		return nil, fmt.Errorf("save participant: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) Leave(ctx context.Context, lessonID, participantID string) error {
	p, err := s.Lookup(ctx, lessonID, participantID)
	if err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.participantsKey(lessonID), participantID).Err(); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if p.Role.Authoritative() {
		if err := releaseTutor.Run(ctx, s.client, []string{s.tutorKey(lessonID)}, participantID).Err(); err != nil {
			return fmt.Errorf("release tutor slot: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, lessonID string) (*model.Lesson, error) {
	raw, err := s.client.HGetAll(ctx, s.participantsKey(lessonID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load lesson: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	out := &model.Lesson{ID: lessonID, Participants: make([]model.Participant, 0, len(raw))}
	for id, data := range raw {
		var p model.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", id, err)
		}
		out.Participants = append(out.Participants, p)
	}
	sortParticipants(out.Participants)
	return out, nil
}

func (s *RedisStore) Lookup(ctx context.Context, lessonID, participantID string) (*model.Participant, error) {
	data, err := s.client.HGet(ctx, s.participantsKey(lessonID), participantID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}

	var p model.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode participant: %w", err)
	}
	return &p, nil
}
