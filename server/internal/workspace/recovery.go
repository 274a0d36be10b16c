package workspace

import (
	"time"

	"github.com/cenkalti/backoff"
)

// recovery 是跟随端的快照恢复调度。
//
// 加入后等待 delay（给传输层连上的时间）发出第一轮 stateRequest；
// 之后只对还没应用过快照的特性按指数退避重发，
// 重试预算用完仍未收敛则标记为 out-of-sync，等待 Resync。
type recovery struct {
	s           *Session
	delay       time.Duration
	maxInterval time.Duration
	policy      backoff.BackOff
	timer       *time.Timer

	attempts  int
	final     bool
	exhausted bool
}

func newRecovery(s *Session, opts Options) *recovery {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.RetryInterval
	eb.MaxInterval = opts.RetryMaxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &recovery{
		s:           s,
		delay:       opts.RecoveryDelay,
		maxInterval: opts.RetryMaxInterval,
		policy:      backoff.WithMaxRetries(eb, uint64(opts.RecoveryRetries)),
	}
}

func (r *recovery) start() {
	r.attempts = 0
	r.final = false
	r.exhausted = false
	r.policy.Reset()
	r.schedule(r.delay)
}

func (r *recovery) schedule(d time.Duration) {
	r.stop()
	r.timer = time.AfterFunc(d, func() {
		r.s.loop.post(r.tick)
	})
}

func (r *recovery) stop() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *recovery) tick() {
	if r.s.closed {
		return
	}
	r.timer = nil

	pending := r.s.unsyncedFeatures()
	if len(pending) == 0 {
		if r.attempts > 0 {
			r.s.logger.Printf("[Session] converged after %d state request round(s) lesson=%s", r.attempts, r.s.lessonID)
		}
		r.exhausted = false
		return
	}
	if r.final {
		r.exhausted = true
		r.s.logger.Printf("[Session] ⚠️  no snapshot after %d round(s), out of sync lesson=%s pending=%d",
			r.attempts, r.s.lessonID, len(pending))
		return
	}

	for _, f := range pending {
		f.requestState()
	}
	r.attempts++

	wait := r.policy.NextBackOff()
	if wait == backoff.Stop {
		r.final = true
		wait = r.maxInterval
	}
	r.schedule(wait)
}

func (r *recovery) outOfSync() bool {
	return r.exhausted && len(r.s.unsyncedFeatures()) > 0
}

// OutOfSync 跟随端重试预算耗尽且仍有特性未收敛。
func (s *Session) OutOfSync() bool {
	var out bool
	s.exec(func() { out = s.recovery.outOfSync() })
	return out
}

// Resync 是手动重同步入口：跟随端清空收敛标记并立刻重新请求快照，
// 权威端则重新广播所有已打开特性的快照。
func (s *Session) Resync() {
	s.exec(func() {
		if s.role.Authoritative() {
			for _, f := range s.features {
				f.announce()
			}
			return
		}
		for _, f := range s.features {
			f.resetSynced()
		}
		r := s.recovery
		r.stop()
		r.attempts = 0
		r.final = false
		r.exhausted = false
		r.policy.Reset()
		r.tick()
	})
}
