package syncproto

// VersionLog 是单个同步特性的版本序号。
//
// 权威端只调用 Next 生成严格递增的版本；跟随端只调用 Accept/AcceptSnapshot，
// 记录“已观察到的最大版本”，自己从不递增。
// 非并发安全：由 Session 的事件循环独占。
type VersionLog struct {
	version int64
}

// Next 为下一条权威动作分配版本号。
func (l *VersionLog) Next() int64 {
	l.version++
	return l.version
}

// Current 权威端返回最近分配的版本，跟随端返回最近应用的版本。
func (l *VersionLog) Current() int64 {
	return l.version
}

// Accept 普通动作：只有版本严格大于已应用版本才接受。
func (l *VersionLog) Accept(version int64) bool {
	if version <= l.version {
		return false
	}
	l.version = version
	return true
}

// AcceptSnapshot 快照：版本相等也接受（幂等重同步），并采纳该版本。
func (l *VersionLog) AcceptSnapshot(version int64) bool {
	if version < l.version {
		return false
	}
	l.version = version
	return true
}
