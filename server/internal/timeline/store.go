// Package timeline 记录 relay 转发过的同步消息，供课后排查“谁在什么版本做了什么”。
package timeline

import (
	"context"
	"time"

	"lesson-sync/server/internal/syncproto"
)

// Entry 是一条已转发消息的摘要，不保存原始载荷。
type Entry struct {
	Seq      int64     `json:"seq"`
	LessonID string    `json:"lessonId"`
	From     string    `json:"from"`
	Type     string    `json:"type"`
	Action   string    `json:"action,omitempty"`
	Version  int64     `json:"version,omitempty"`
	At       time.Time `json:"at"`
}

type Store interface {
	// Append 写入一条记录，返回分配的 seq。同一课程的 seq 单调递增。
	Append(ctx context.Context, lessonID string, entry *Entry) (int64, error)
	// List 返回 seq 大于 after 的记录（按 seq 顺序）。
	List(ctx context.Context, lessonID string, after int64) ([]Entry, error)
	// Drop 丢弃整节课的记录。
	Drop(ctx context.Context, lessonID string) error
}

// Describe 从消息里取出类型、动作与版本号。
func Describe(env syncproto.Envelope) (typ, action string, version int64) {
	typ = env.Tag()
	switch m := env.(type) {
	case *syncproto.MaterialSync:
		return typ, string(m.Action), m.StateVersion
	case *syncproto.ContentSync:
		return typ, string(m.Action.Kind), m.StateVersion
	case *syncproto.GrammarSync:
		return typ, string(m.Action), m.StateVersion
	case *syncproto.BlockMediaSync:
		return typ, string(m.Kind), 0
	case *syncproto.WorkspaceSync:
		if m.Open {
			return typ, "open", 0
		}
		return typ, "close", 0
	}
	return typ, "", 0
}
