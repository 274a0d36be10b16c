package workspace

import (
	"math"

	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/syncproto"
)

// Video 是视频播放同步状态机：Closed → Open{Paused, Playing}。
//
// 权威端的本地意图先乐观地改本地状态，再打版本号广播；
// 跟随端只应用收到的版本化动作，应用前设置回声抑制标志。
type Video struct {
	feature
	state     model.VideoState
	player    Player
	threshold float64
}

func newVideo(s *Session, player Player, threshold float64) *Video {
	return &Video{
		feature:   feature{name: "video", s: s},
		player:    player,
		threshold: threshold,
	}
}

// Open 打开素材，从 0 秒暂停开始。无效素材直接忽略。
func (v *Video) Open(m model.Material) { v.s.exec(func() { v.open(m) }) }

// Play 以播放器当前进度开始播放。
func (v *Video) Play() { v.s.exec(v.play) }

// Pause 以播放器当前进度暂停。
func (v *Video) Pause() { v.s.exec(v.pause) }

// Seek 跳转；权威端对小于阈值的拖动做限流。
func (v *Video) Seek(seconds float64) { v.s.exec(func() { v.seek(seconds) }) }

// Close 关闭素材，回到空状态。
func (v *Video) Close() { v.s.exec(v.close) }

// State 返回当前状态，打开时 Position 取自播放器。
func (v *Video) State() model.VideoState {
	var out model.VideoState
	v.s.exec(func() { out = v.current() })
	return out
}

// Version 权威端为最近分配的版本，跟随端为最近应用的版本。
func (v *Video) Version() int64 {
	var out int64
	v.s.exec(func() { out = v.log.Current() })
	return out
}

// SuppressionPending 回声抑制标志是否仍然有效。
func (v *Video) SuppressionPending() bool {
	var out bool
	v.s.exec(func() { out = v.suppressionPending() })
	return out
}

func (v *Video) current() model.VideoState {
	st := v.state.Clone()
	if st.Open {
		st.Position = v.player.CurrentTime()
	}
	return st
}

func (v *Video) setOpen(m model.Material) {
	mm := m
	v.state = model.VideoState{Open: true, Material: &mm}
	v.player.Pause()
	v.player.SeekTo(0)
}

func (v *Video) reset() {
	v.state = model.VideoState{}
	v.player.Pause()
}

func (v *Video) open(m model.Material) {
	if v.consumeSuppression() {
		return
	}
	if !m.Valid() {
		v.ignore()
		return
	}
	v.setOpen(m)
	if v.authoritative() {
		v.broadcast(&syncproto.MaterialSync{
			StateVersion: v.log.Next(),
			MaterialID:   m.ID,
			Material:     &m,
			Action:       syncproto.ActionOpen,
		})
	}
}

func (v *Video) play() {
	v.setPlaying(true, syncproto.ActionPlay)
}

func (v *Video) pause() {
	v.setPlaying(false, syncproto.ActionPause)
}

func (v *Video) setPlaying(playing bool, action syncproto.ActionKind) {
	if v.consumeSuppression() {
		return
	}
	if !v.state.Open {
		v.ignore()
		return
	}
	pos := v.player.CurrentTime()
	if playing {
		v.player.Play()
	} else {
		v.player.Pause()
	}
	v.state.IsPlaying = playing
	v.state.Position = pos

	if v.authoritative() {
		v.broadcast(&syncproto.MaterialSync{
			StateVersion: v.log.Next(),
			MaterialID:   v.state.MaterialID(),
			Action:       action,
			Time:         syncproto.Float(pos),
		})
	}
}

func (v *Video) seek(seconds float64) {
	if v.consumeSuppression() {
		return
	}
	if !v.state.Open {
		v.ignore()
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if v.authoritative() && math.Abs(seconds-v.player.CurrentTime()) < v.threshold {
		v.stats.Throttled++
		return
	}
	v.player.SeekTo(seconds)
	v.state.Position = seconds

	if v.authoritative() {
		v.broadcast(&syncproto.MaterialSync{
			StateVersion: v.log.Next(),
			MaterialID:   v.state.MaterialID(),
			Action:       syncproto.ActionSeek,
			Time:         syncproto.Float(seconds),
		})
	}
}

func (v *Video) close() {
	if v.consumeSuppression() {
		return
	}
	if !v.state.Open {
		v.ignore()
		return
	}
	id := v.state.MaterialID()
	v.reset()
	if v.authoritative() {
		v.broadcast(&syncproto.MaterialSync{
			StateVersion: v.log.Next(),
			MaterialID:   id,
			Action:       syncproto.ActionClose,
		})
	}
}

// handle 只按 action 分发；未知动作静默忽略。
func (v *Video) handle(msg *syncproto.MaterialSync) {
	switch msg.Action {
	case syncproto.ActionStateRequest:
		if v.authoritative() {
			v.answerSnapshot()
		}
	case syncproto.ActionStateSnapshot:
		if v.authoritative() || msg.State == nil {
			v.ignore()
			return
		}
		if !v.acceptSnapshot(msg.StateVersion) {
			return
		}
		v.applySnapshot(*msg.State)
	case syncproto.ActionOpen, syncproto.ActionPlay, syncproto.ActionPause,
		syncproto.ActionSeek, syncproto.ActionClose:
		if v.authoritative() {
			v.ignore()
			return
		}
		if !v.acceptAction(msg.StateVersion) {
			return
		}
		v.apply(msg)
	default:
		v.ignore()
	}
}

func (v *Video) apply(msg *syncproto.MaterialSync) {
	v.markRemote()

	switch msg.Action {
	case syncproto.ActionOpen:
		m := materialOf(msg)
		if !m.Valid() {
			return
		}
		v.setOpen(m)
		v.s.forceWorkspaceOpen()
	case syncproto.ActionPlay, syncproto.ActionPause, syncproto.ActionSeek:
		v.ensureMaterial(msg)
		if !v.state.Open {
			return
		}
		pos := v.player.CurrentTime()
		if msg.Time != nil {
			pos = *msg.Time
		}
		v.player.SeekTo(pos)
		v.state.Position = pos
			switch msg.Action {
		case syncproto.ActionPlay:
			v.player.Play()
			v.state.IsPlaying = true
		case syncproto.ActionPause:
			v.player.Pause()
			v.state.IsPlaying = false
		}
	case syncproto.ActionClose:
		v.reset()
	}
}

// ensureMaterial 跟随端错过 open 时，用 play/pause/seek 自带的 materialId 补开。
func (v *Video) ensureMaterial(msg *syncproto.MaterialSync) {
	if msg.MaterialID == "" {
		return
	}
	if v.state.Open && v.state.MaterialID() == msg.MaterialID {
		return
	}
	v.setOpen(materialOf(msg))
	v.s.forceWorkspaceOpen()
}

func (v *Video) applySnapshot(st model.VideoState) {
	v.markRemote()

	if !st.Open || st.Material == nil || !st.Material.Valid() {
		v.reset()
		return
	}
	v.state = st.Clone()
	v.player.SeekTo(st.Position)
	if st.IsPlaying {
		v.player.Play()
	} else {
		v.player.Pause()
	}
	v.s.forceWorkspaceOpen()
}

func (v *Video) answerSnapshot() {
	st := v.current()
	v.broadcast(&syncproto.MaterialSync{
		StateVersion: v.log.Current(),
		MaterialID:   st.MaterialID(),
		Action:       syncproto.ActionStateSnapshot,
		State:        &st,
	})
}

func (v *Video) requestState() {
	v.broadcast(&syncproto.MaterialSync{Action: syncproto.ActionStateRequest})
}

func (v *Video) announce() {
	if v.authoritative() && v.state.Open {
		v.answerSnapshot()
	}
}

func materialOf(msg *syncproto.MaterialSync) model.Material {
	if msg.Material != nil {
		return *msg.Material
	}
	return model.Material{ID: msg.MaterialID}
}
