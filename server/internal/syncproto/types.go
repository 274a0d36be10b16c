package syncproto

import (
	"lesson-sync/server/internal/model"
)

// 消息判别字段（type / t）的取值，属于对外契约，不能随意改名。
const (
	TypeMaterialSync   = "MATERIAL_SYNC"
	TypeContentSync    = "CONTENT_SYNC"
	TypeGrammarSync    = "GRAMMAR_SYNC"
	TypeWorkspaceSync  = "WORKSPACE_SYNC"
	TypeBlockMediaSync = "BLOCK_MEDIA_SYNC"
)

// ActionKind 是各同步特性共用的动作标签。
type ActionKind string

const (
	ActionOpen          ActionKind = "open"
	ActionClose         ActionKind = "close"
	ActionPlay          ActionKind = "play"
	ActionPause         ActionKind = "pause"
	ActionSeek          ActionKind = "seek"
	ActionFocus         ActionKind = "focus"
	ActionNavigate      ActionKind = "navigate"
	ActionLockScroll    ActionKind = "lockScroll"
	ActionStateRequest  ActionKind = "stateRequest"
	ActionStateSnapshot ActionKind = "stateSnapshot"

	// 语法练习
	ActionStart  ActionKind = "start"
	ActionReveal ActionKind = "reveal"
	ActionReset  ActionKind = "reset"
	ActionUpdate ActionKind = "update"
)

// Envelope 是一条可以在数据通道上传输的同步消息。
type Envelope interface {
	Tag() string
}

// MaterialSync 视频/音频素材播放同步。
type MaterialSync struct {
	Type         string            `json:"type"`
	StateVersion int64             `json:"stateVersion,omitempty"`
	MaterialID   string            `json:"materialId,omitempty"`
	Material     *model.Material   `json:"material,omitempty"`
	Action       ActionKind        `json:"action"`
	Time         *float64          `json:"time,omitempty"`
	State        *model.VideoState `json:"state,omitempty"`
}

func (*MaterialSync) Tag() string { return TypeMaterialSync }

// ContentAction 是 CONTENT_SYNC 的动作体。
type ContentAction struct {
	Kind       ActionKind          `json:"kind"`
	MaterialID string              `json:"materialId,omitempty"`
	BlockID    string              `json:"blockId,omitempty"`
	SectionID  string              `json:"sectionId,omitempty"`
	RowID      string              `json:"rowId,omitempty"`
	Locked     *bool               `json:"locked,omitempty"`
	State      *model.ContentState `json:"state,omitempty"`
}

// ContentSync 课程内容块的打开/聚焦/导航/滚动锁同步。
type ContentSync struct {
	Type         string        `json:"type"`
	StateVersion int64         `json:"stateVersion"`
	Action       ContentAction `json:"action"`
}

func (*ContentSync) Tag() string { return TypeContentSync }

// GrammarSync 语法练习同步。update 是按键级别的镜像，不带版本号。
type GrammarSync struct {
	Type         string              `json:"type"`
	StateVersion int64               `json:"stateVersion,omitempty"`
	MaterialID   string              `json:"materialId,omitempty"`
	Action       ActionKind          `json:"action"`
	ItemID       string              `json:"itemId,omitempty"`
	GapIndex     *int                `json:"gapIndex,omitempty"`
	Value        *string             `json:"value,omitempty"`
	TimerSec     *int                `json:"timerSec,omitempty"`
	State        *model.GrammarState `json:"state,omitempty"`
}

func (*GrammarSync) Tag() string { return TypeGrammarSync }

// WorkspaceSync 宿主工作区面板的开关。注意判别字段是 t 而不是 type。
type WorkspaceSync struct {
	T    string `json:"t"`
	Open bool   `json:"open"`
}

func (*WorkspaceSync) Tag() string { return TypeWorkspaceSync }

// BlockMediaSync 是媒体绑定器发出的“尽力而为”信号，不参与版本排序。
type BlockMediaSync struct {
	Type       string     `json:"type"`
	BlockID    string     `json:"blockId"`
	MaterialID string     `json:"materialId,omitempty"`
	Kind       ActionKind `json:"kind"`
	Value      *float64   `json:"value,omitempty"`
}

func (*BlockMediaSync) Tag() string { return TypeBlockMediaSync }

// Float 便于构造可选字段。
func Float(v float64) *float64 { return &v }

// Int 便于构造可选字段。
func Int(v int) *int { return &v }

// String 便于构造可选字段。
func String(v string) *string { return &v }

// Bool 便于构造可选字段。
func Bool(v bool) *bool { return &v }
