package model

import (
	"fmt"
	"strings"
)

// Role 表示参与者在一节课中的身份。
// tutor 是权威端：本地动作会被打上版本号并广播；student 只跟随。
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Authoritative 返回该角色是否为权威端。
func (r Role) Authoritative() bool {
	return r == RoleTutor
}

// ParseRole 解析角色字符串，兼容 presenter/follower 等别名。
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tutor", "teacher", "presenter":
		return RoleTutor, nil
	case "student", "follower":
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Material 是工作区里可以播放的素材（视频/音频）。
type Material struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Valid 空 ID 的素材视为无效，open 时直接忽略。
func (m Material) Valid() bool {
	return strings.TrimSpace(m.ID) != ""
}

// VideoState 描述视频同步特性“当前为真”的状态。
type VideoState struct {
	Open      bool      `json:"open"`
	Material  *Material `json:"material,omitempty"`
	IsPlaying bool      `json:"isPlaying"`
	// Position 单位为秒。
	Position float64 `json:"position"`
}

// Clone 返回深拷贝，避免调用方改到内部的 Material。
func (v VideoState) Clone() VideoState {
	out := v
	if v.Material != nil {
		m := *v.Material
		out.Material = &m
	}
	return out
}

// MaterialID 关闭状态下返回空串。
func (v VideoState) MaterialID() string {
	if v.Material == nil {
		return ""
	}
	return v.Material.ID
}

// ContentState 描述课程内容块的导航状态。
type ContentState struct {
	Open         bool   `json:"open"`
	MaterialID   string `json:"materialId,omitempty"`
	FocusBlockID string `json:"focusBlockId,omitempty"`
	// Locked 为 true 时学生端滚动被锁定，只跟随老师。
	Locked bool `json:"locked"`
}

// GrammarState 描述语法练习的生命周期状态。
type GrammarState struct {
	Open       bool           `json:"open"`
	MaterialID string         `json:"materialId,omitempty"`
	ItemID     string         `json:"itemId,omitempty"`
	Started    bool           `json:"started"`
	TimerSec   int            `json:"timerSec,omitempty"`
	Revealed   bool           `json:"revealed"`
	Answers    map[int]string `json:"answers,omitempty"`
}

// Clone 拷贝 Answers，快照和读取都走这里。
func (g GrammarState) Clone() GrammarState {
	out := g
	if g.Answers != nil {
		out.Answers = make(map[int]string, len(g.Answers))
		for k, v := range g.Answers {
			out.Answers[k] = v
		}
	}
	return out
}
