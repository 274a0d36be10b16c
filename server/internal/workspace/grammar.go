package workspace

import (
	"strings"

	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/syncproto"
)

// Grammar 是语法练习的生命周期同步：open → start → reveal/reset → close。
// 填空按键（update）走媒体绑定器语义：不带版本、任意一端都可以发、后到覆盖先到。
type Grammar struct {
	feature
	state model.GrammarState
}

func newGrammar(s *Session) *Grammar {
	return &Grammar{feature: feature{name: "grammar", s: s}}
}

func (g *Grammar) Open(materialID, itemID string) {
	g.s.exec(func() { g.open(materialID, itemID) })
}

// Start 开始练习，timerSec 为倒计时秒数，0 表示不计时。
func (g *Grammar) Start(timerSec int) { g.s.exec(func() { g.start(timerSec) }) }
func (g *Grammar) Reveal()            { g.s.exec(g.reveal) }
func (g *Grammar) Reset()             { g.s.exec(g.reset) }
func (g *Grammar) Close()             { g.s.exec(g.close) }

// SendInput 镜像一个填空的当前输入。
func (g *Grammar) SendInput(gapIndex int, value string) {
	g.s.exec(func() { g.sendInput(gapIndex, value) })
}

func (g *Grammar) State() model.GrammarState {
	var out model.GrammarState
	g.s.exec(func() { out = g.state.Clone() })
	return out
}

func (g *Grammar) Version() int64 {
	var out int64
	g.s.exec(func() { out = g.log.Current() })
	return out
}

func (g *Grammar) SuppressionPending() bool {
	var out bool
	g.s.exec(func() { out = g.suppressionPending() })
	return out
}

func (g *Grammar) open(materialID, itemID string) {
	if g.consumeSuppression() {
		return
	}
	if strings.TrimSpace(materialID) == "" {
		g.ignore()
		return
	}
	g.state = model.GrammarState{Open: true, MaterialID: materialID, ItemID: itemID, Answers: map[int]string{}}
	if g.authoritative() {
		g.send(&syncproto.GrammarSync{Action: syncproto.ActionOpen, ItemID: itemID})
	}
}

func (g *Grammar) start(timerSec int) {
	if g.consumeSuppression() {
		return
	}
	if !g.state.Open {
		g.ignore()
		return
	}
	if timerSec < 0 {
		timerSec = 0
	}
	g.state.Started = true
	g.state.Revealed = false
	g.state.TimerSec = timerSec
	if g.authoritative() {
		g.send(&syncproto.GrammarSync{Action: syncproto.ActionStart, ItemID: g.state.ItemID, TimerSec: syncproto.Int(timerSec)})
	}
}

func (g *Grammar) reveal() {
	if g.consumeSuppression() {
		return
	}
	if !g.state.Open {
		g.ignore()
		return
	}
	g.state.Revealed = true
	if g.authoritative() {
		g.send(&syncproto.GrammarSync{Action: syncproto.ActionReveal, ItemID: g.state.ItemID})
	}
}

func (g *Grammar) reset() {
	if g.consumeSuppression() {
		return
	}
	if !g.state.Open {
		g.ignore()
		return
	}
	g.state = g.resetState()
	if g.authoritative() {
		g.send(&syncproto.GrammarSync{Action: syncproto.ActionReset, ItemID: g.state.ItemID})
	}
}

// resetState 整体替换状态，只保留打开的材料与题目。
func (g *Grammar) resetState() model.GrammarState {
	return model.GrammarState{
		Open:       true,
		MaterialID: g.state.MaterialID,
		ItemID:     g.state.ItemID,
		Answers:    map[int]string{},
	}
}

func (g *Grammar) close() {
	if g.consumeSuppression() {
		return
	}
	if !g.state.Open {
		g.ignore()
		return
	}
	id := g.state.MaterialID
	g.state = model.GrammarState{}
	if g.authoritative() {
		g.broadcast(&syncproto.GrammarSync{StateVersion: g.log.Next(), MaterialID: id, Action: syncproto.ActionClose})
	}
}

func (g *Grammar) sendInput(gapIndex int, value string) {
	if !g.state.Open || gapIndex < 0 {
		g.ignore()
		return
	}
	g.state.Answers[gapIndex] = value
	g.s.sendEphemeral(&syncproto.GrammarSync{
		MaterialID: g.state.MaterialID,
		Action:     syncproto.ActionUpdate,
		ItemID:     g.state.ItemID,
		GapIndex:   syncproto.Int(gapIndex),
		Value:      syncproto.String(value),
	})
}

func (g *Grammar) send(msg *syncproto.GrammarSync) {
	msg.StateVersion = g.log.Next()
	msg.MaterialID = g.state.MaterialID
	g.broadcast(msg)
}

func (g *Grammar) handle(msg *syncproto.GrammarSync) {
	switch msg.Action {
	case syncproto.ActionUpdate:
		g.applyInput(msg)
	case syncproto.ActionStateRequest:
		if g.authoritative() {
			g.answerSnapshot()
		}
	case syncproto.ActionStateSnapshot:
		if g.authoritative() || msg.State == nil {
			g.ignore()
			return
		}
		if !g.acceptSnapshot(msg.StateVersion) {
			return
		}
		g.markRemote()
		g.state = msg.State.Clone()
		if g.state.Open {
			if g.state.Answers == nil {
				g.state.Answers = map[int]string{}
			}
			g.s.forceWorkspaceOpen()
		}
	case syncproto.ActionOpen, syncproto.ActionStart, syncproto.ActionReveal,
		syncproto.ActionReset, syncproto.ActionClose:
		if g.authoritative() {
			g.ignore()
			return
		}
		if !g.acceptAction(msg.StateVersion) {
			return
		}
		g.apply(msg)
	default:
		g.ignore()
	}
}

func (g *Grammar) apply(msg *syncproto.GrammarSync) {
	g.markRemote()

	switch msg.Action {
	case syncproto.ActionOpen:
		if msg.MaterialID == "" {
			return
		}
		g.state = model.GrammarState{Open: true, MaterialID: msg.MaterialID, ItemID: msg.ItemID, Answers: map[int]string{}}
		g.s.forceWorkspaceOpen()
	case syncproto.ActionStart:
		if !g.state.Open {
			return
		}
		g.state.Started = true
		g.state.Revealed = false
		if msg.TimerSec != nil {
			g.state.TimerSec = *msg.TimerSec
		}
	case syncproto.ActionReveal:
		if g.state.Open {
			g.state.Revealed = true
		}
	case syncproto.ActionReset:
		if g.state.Open {
			g.state = g.resetState()
		}
	case syncproto.ActionClose:
		g.state = model.GrammarState{}
	}
}

// applyInput 不看版本也不看顺序，后到的按键直接覆盖。
func (g *Grammar) applyInput(msg *syncproto.GrammarSync) {
	if !g.state.Open || msg.GapIndex == nil || msg.Value == nil {
		g.ignore()
		return
	}
	if msg.MaterialID != "" && msg.MaterialID != g.state.MaterialID {
		g.ignore()
		return
	}
	g.state.Answers[*msg.GapIndex] = *msg.Value
}

func (g *Grammar) answerSnapshot() {
	st := g.state.Clone()
	g.broadcast(&syncproto.GrammarSync{
		StateVersion: g.log.Current(),
		MaterialID:   st.MaterialID,
		Action:       syncproto.ActionStateSnapshot,
		State:        &st,
	})
}

func (g *Grammar) requestState() {
	g.broadcast(&syncproto.GrammarSync{Action: syncproto.ActionStateRequest})
}

func (g *Grammar) announce() {
	if g.authoritative() && g.state.Open {
		g.answerSnapshot()
	}
}
