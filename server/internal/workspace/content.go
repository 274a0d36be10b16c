package workspace

import (
	"strings"

	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/syncproto"
)

// Content 是课程内容块的导航同步：打开哪份材料、聚焦哪个块、是否锁定滚动。
// navigate 是瞬时动作，不进入版本化状态，只在跟随端触发一次滚动+高亮提示。
type Content struct {
	feature
	state model.ContentState
}

func newContent(s *Session) *Content {
	return &Content{feature: feature{name: "content", s: s}}
}

func (c *Content) Open(materialID string) { c.s.exec(func() { c.open(materialID) }) }
func (c *Content) Close()                 { c.s.exec(c.close) }
func (c *Content) Focus(blockID string)   { c.s.exec(func() { c.focus(blockID) }) }
func (c *Content) SetScrollLock(locked bool) {
	c.s.exec(func() { c.setScrollLock(locked) })
}

// Navigate 让跟随端滚动到 sectionID/rowID 并高亮。重复投递只会重复动画。
func (c *Content) Navigate(sectionID, rowID string) {
	c.s.exec(func() { c.navigate(sectionID, rowID) })
}

func (c *Content) State() model.ContentState {
	var out model.ContentState
	c.s.exec(func() { out = c.state })
	return out
}

func (c *Content) Version() int64 {
	var out int64
	c.s.exec(func() { out = c.log.Current() })
	return out
}

func (c *Content) SuppressionPending() bool {
	var out bool
	c.s.exec(func() { out = c.suppressionPending() })
	return out
}

func (c *Content) open(materialID string) {
	if c.consumeSuppression() {
		return
	}
	if strings.TrimSpace(materialID) == "" {
		c.ignore()
		return
	}
	c.state = model.ContentState{Open: true, MaterialID: materialID}
	if c.authoritative() {
		c.send(syncproto.ContentAction{Kind: syncproto.ActionOpen, MaterialID: materialID})
	}
}

func (c *Content) close() {
	if c.consumeSuppression() {
		return
	}
	if !c.state.Open {
		c.ignore()
		return
	}
	c.state = model.ContentState{}
	if c.authoritative() {
		c.send(syncproto.ContentAction{Kind: syncproto.ActionClose})
	}
}

func (c *Content) focus(blockID string) {
	if c.consumeSuppression() {
		return
	}
	if !c.state.Open || blockID == "" {
		c.ignore()
		return
	}
	c.state.FocusBlockID = blockID
	if c.authoritative() {
		c.send(syncproto.ContentAction{Kind: syncproto.ActionFocus, BlockID: blockID})
	}
}

func (c *Content) setScrollLock(locked bool) {
	if c.consumeSuppression() {
		return
	}
	if !c.state.Open {
		c.ignore()
		return
	}
	c.state.Locked = locked
	if c.authoritative() {
		c.send(syncproto.ContentAction{Kind: syncproto.ActionLockScroll, Locked: syncproto.Bool(locked)})
	}
}

func (c *Content) navigate(sectionID, rowID string) {
	if c.consumeSuppression() {
		return
	}
	if sectionID == "" && rowID == "" {
		c.ignore()
		return
	}
	if !c.authoritative() {
		return
	}
	// 不占用新版本号：瞬时动作不能让跟随端把后续真正的状态判成过期。
	c.broadcast(&syncproto.ContentSync{
		StateVersion: c.log.Current(),
		Action: syncproto.ContentAction{
			Kind:      syncproto.ActionNavigate,
			SectionID: sectionID,
			RowID:     rowID,
		},
	})
}

func (c *Content) send(action syncproto.ContentAction) {
	c.broadcast(&syncproto.ContentSync{StateVersion: c.log.Next(), Action: action})
}

func (c *Content) handle(msg *syncproto.ContentSync) {
	action := msg.Action
	switch action.Kind {
	case syncproto.ActionStateRequest:
		if c.authoritative() {
			c.answerSnapshot()
		}
	case syncproto.ActionStateSnapshot:
		if c.authoritative() || action.State == nil {
			c.ignore()
			return
		}
		if !c.acceptSnapshot(msg.StateVersion) {
			return
		}
		c.markRemote()
		c.state = *action.State
		if c.state.Open {
			c.s.forceWorkspaceOpen()
		}
	case syncproto.ActionNavigate:
		if c.authoritative() {
			c.ignore()
			return
		}
		c.s.cues.Publish(Cue{
			Kind:      CueNavigate,
			SectionID: action.SectionID,
			RowID:     action.RowID,
			At:        c.s.now(),
		})
	case syncproto.ActionOpen, syncproto.ActionClose, syncproto.ActionFocus, syncproto.ActionLockScroll:
		if c.authoritative() {
			c.ignore()
			return
		}
		if !c.acceptAction(msg.StateVersion) {
			return
		}
		c.apply(action)
	default:
		c.ignore()
	}
}

func (c *Content) apply(action syncproto.ContentAction) {
	c.markRemote()

	switch action.Kind {
	case syncproto.ActionOpen:
		if action.MaterialID == "" {
			return
		}
		c.state = model.ContentState{Open: true, MaterialID: action.MaterialID}
		c.s.forceWorkspaceOpen()
	case syncproto.ActionClose:
		c.state = model.ContentState{}
	case syncproto.ActionFocus:
		c.state.FocusBlockID = action.BlockID
	case syncproto.ActionLockScroll:
		if action.Locked != nil {
			c.state.Locked = *action.Locked
		}
	}
}

func (c *Content) answerSnapshot() {
	st := c.state
	c.broadcast(&syncproto.ContentSync{
		StateVersion: c.log.Current(),
		Action:       syncproto.ContentAction{Kind: syncproto.ActionStateSnapshot, State: &st},
	})
}

func (c *Content) requestState() {
	c.broadcast(&syncproto.ContentSync{Action: syncproto.ContentAction{Kind: syncproto.ActionStateRequest}})
}

func (c *Content) announce() {
	if c.authoritative() && c.state.Open {
		c.answerSnapshot()
	}
}
