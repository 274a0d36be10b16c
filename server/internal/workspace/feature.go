package workspace

import (
	"time"

	"lesson-sync/server/internal/syncproto"
)

// FeatureStats 记录单个同步特性的收发情况，用于诊断。
type FeatureStats struct {
	Applied    int64 `json:"applied"`
	Stale      int64 `json:"stale"`
	Ignored    int64 `json:"ignored"`
	Sent       int64 `json:"sent"`
	Dropped    int64 `json:"dropped"`
	Throttled  int64 `json:"throttled"`
	Suppressed int64 `json:"suppressed"`
}

// feature 是三个同步状态机共用的部分：版本日志、回声抑制标志、统计。
// 所有字段只在 Session 的事件循环里读写。
type feature struct {
	name string
	s    *Session
	log  syncproto.VersionLog

	suppress      bool
	suppressUntil time.Time

	// synced 跟随端应用过一次快照。零散的实时动作不算：错过的 open/play 只能靠快照补齐。
	synced bool
	stats  FeatureStats
}

func (f *feature) authoritative() bool {
	return f.s.role.Authoritative()
}

// markRemote 在应用远端动作之前调用，下一次本地意图会被吞掉。
func (f *feature) markRemote() {
	f.suppress = true
	f.suppressUntil = f.s.now().Add(f.s.suppressWindow)
}

// consumeSuppression 每次本地意图都必须先调用：标志最多存活一次调用，
// 超过窗口的标志视为失效，只清除不拦截。
func (f *feature) consumeSuppression() bool {
	if !f.suppress {
		return false
	}
	f.suppress = false
	if f.s.now().After(f.suppressUntil) {
		return false
	}
	f.stats.Suppressed++
	return true
}

func (f *feature) suppressionPending() bool {
	return f.suppress && !f.s.now().After(f.suppressUntil)
}

func (f *feature) acceptAction(version int64) bool {
	if !f.log.Accept(version) {
		f.stats.Stale++
		return false
	}
	f.stats.Applied++
	return true
}

func (f *feature) acceptSnapshot(version int64) bool {
	if !f.log.AcceptSnapshot(version) {
		f.stats.Stale++
		return false
	}
	f.synced = true
	f.stats.Applied++
	return true
}

func (f *feature) broadcast(env syncproto.Envelope) {
	f.s.emit(env, &f.stats)
}

func (f *feature) ignore() {
	f.stats.Ignored++
}

// syncedFeature 是 Session 在恢复/重新广播时看到的特性视图。
type syncedFeature interface {
	featureName() string
	isSynced() bool
	resetSynced()
	requestState()
	announce()
	statsSnapshot() FeatureStats
}

func (f *feature) featureName() string         { return f.name }
func (f *feature) isSynced() bool              { return f.synced }
func (f *feature) resetSynced()                { f.synced = false }
func (f *feature) statsSnapshot() FeatureStats { return f.stats }
