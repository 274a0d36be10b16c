// Package lesson 维护课程的参与者名单：谁在课上、谁是唯一的权威端。
package lesson

import (
	"context"
	"errors"
	"strings"

	"lesson-sync/server/internal/model"
)

var (
	ErrNotFound      = errors.New("lesson or participant not found")
	ErrTutorPresent  = errors.New("lesson already has a tutor")
	ErrInvalidLesson = errors.New("invalid lesson id")
)

type Store interface {
	// Join 分配参与者 ID；一节课最多一个 tutor。
	Join(ctx context.Context, lessonID string, role model.Role) (*model.Participant, error)
	Leave(ctx context.Context, lessonID, participantID string) error
	Get(ctx context.Context, lessonID string) (*model.Lesson, error)
	Lookup(ctx context.Context, lessonID, participantID string) (*model.Participant, error)
}

// ValidLessonID 课程 ID 会出现在 URL 与 Redis key 里，只允许字母数字与 - _ .
func ValidLessonID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '-' || r == '_' || r == '.':
			return false
		}
		return true
	}) < 0
}
