package workspace

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/syncproto"
	"lesson-sync/server/internal/transport"
)

// 可调常量，不是协议契约。
const (
	DefaultRecoveryDelay    = 400 * time.Millisecond
	DefaultSeekThreshold    = 0.2
	DefaultRetryInterval    = 2 * time.Second
	DefaultRetryMaxInterval = 10 * time.Second
	DefaultRecoveryRetries  = 5
	DefaultSuppressWindow   = time.Second
)

var ErrNoTransport = errors.New("workspace: transport is required")

// Options 是创建 Session 的参数，零值字段使用默认值。
type Options struct {
	LessonID      string
	ParticipantID string
	Role          model.Role
	Transport     transport.Transport

	// Host 为 nil 时使用内置 Panel。
	Host WorkspaceHost
	// Player 为 nil 时使用 ClockPlayer。
	Player Player
	Logger *log.Logger
	Now    func() time.Time

	RecoveryDelay    time.Duration
	RetryInterval    time.Duration
	RetryMaxInterval time.Duration
	RecoveryRetries  int
	SeekThreshold    float64
	SuppressWindow   time.Duration
	QueueCapacity    int
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Host == nil {
		o.Host = NewPanel(nil)
	}
	if o.Player == nil {
		o.Player = NewClockPlayer(o.Now)
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = DefaultRecoveryDelay
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if o.RecoveryRetries <= 0 {
		o.RecoveryRetries = DefaultRecoveryRetries
	}
	if o.SeekThreshold <= 0 {
		o.SeekThreshold = DefaultSeekThreshold
	}
	if o.SuppressWindow <= 0 {
		o.SuppressWindow = DefaultSuppressWindow
	}
}

// Session 是一个参与者在一节直播课里的同步会话。
//
// 职责与契约：
// - 串行：入站消息、本地意图、恢复定时器都在同一个事件循环里执行，状态机无锁。
// - 权威：只有 tutor 打版本号广播；student 只应用、不发起版本化动作。
// - 不外抛：同步流量的任何失败都只记日志，不会以错误形式返回给宿主 UI。
type Session struct {
	lessonID      string
	participantID string
	role          model.Role
	transport     transport.Transport
	host          WorkspaceHost
	logger        *log.Logger
	now           func() time.Time

	suppressWindow time.Duration

	loop     *eventLoop
	video    *Video
	content  *Content
	grammar  *Grammar
	features []syncedFeature
	cues     *CueBus
	mirror   *MirrorView
	recovery *recovery

	// 以下字段由事件循环独占
	closed         bool
	workspaceStats FeatureStats

	unsubscribe func()
	closeOnce   sync.Once

	ephemeralSent    atomic.Int64
	ephemeralDropped atomic.Int64
}

// New 创建 Session 并立即挂到传输通道上；跟随端会在 RecoveryDelay 后请求快照。
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Role != model.RoleTutor && opts.Role != model.RoleStudent {
		return nil, fmt.Errorf("workspace: invalid role %q", opts.Role)
	}
	opts.applyDefaults()

	s := &Session{
		lessonID:       opts.LessonID,
		participantID:  opts.ParticipantID,
		role:           opts.Role,
		transport:      opts.Transport,
		host:           opts.Host,
		logger:         opts.Logger,
		now:            opts.Now,
		suppressWindow: opts.SuppressWindow,
		cues:           newCueBus(),
		mirror:         newMirrorView(),
	}
	s.loop = newEventLoop(opts.LessonID+"/"+opts.ParticipantID, opts.QueueCapacity, opts.Logger)
	s.video = newVideo(s, opts.Player, opts.SeekThreshold)
	s.content = newContent(s)
	s.grammar = newGrammar(s)
	s.features = []syncedFeature{s.video, s.content, s.grammar}
	s.recovery = newRecovery(s, opts)

	s.unsubscribe = s.transport.OnMessage(func(env syncproto.Envelope) {
		s.loop.post(func() { s.dispatch(env) })
	})

	if !s.role.Authoritative() {
		s.loop.call(s.recovery.start)
	}

	s.logger.Printf("[Session] attached lesson=%s participant=%s role=%s", s.lessonID, s.participantID, s.role)
	return s, nil
}

func (s *Session) LessonID() string      { return s.lessonID }
func (s *Session) ParticipantID() string { return s.participantID }
func (s *Session) Role() model.Role      { return s.role }
func (s *Session) Video() *Video         { return s.video }
func (s *Session) Content() *Content     { return s.content }
func (s *Session) Grammar() *Grammar     { return s.grammar }
func (s *Session) Cues() *CueBus         { return s.cues }
func (s *Session) Mirror() *MirrorView   { return s.mirror }
func (s *Session) Host() WorkspaceHost   { return s.host }

// Binder 返回某个内容块的媒体信号发送器。
func (s *Session) Binder(blockID, materialID string) *BlockBinder {
	return &BlockBinder{s: s, blockID: blockID, materialID: materialID}
}

// SetWorkspaceOpen 切换宿主工作区面板。
// 权威端打开面板时会重新广播所有已打开特性的快照，兜住“open 之后、stateRequest 之前”加入的跟随端。
func (s *Session) SetWorkspaceOpen(open bool) {
	s.exec(func() {
		s.host.SetWorkspaceOpen(open)
		if !s.role.Authoritative() {
			return
		}
		s.emit(&syncproto.WorkspaceSync{Open: open}, &s.workspaceStats)
		if open {
			for _, f := range s.features {
				f.announce()
			}
		}
	})
}

// Flush 等待此前投递到事件循环的任务全部执行完。
func (s *Session) Flush() {
	s.loop.call(func() {})
}

// Close 先退订传输通道、取消恢复定时器，再停掉事件循环。可重复调用。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.loop.call(func() {
			s.closed = true
			s.recovery.stop()
		})
		s.loop.close()
		s.logger.Printf("[Session] detached lesson=%s participant=%s", s.lessonID, s.participantID)
	})
}

// Stats 汇总各特性与事件循环的统计。
type Stats struct {
	Video            FeatureStats `json:"video"`
	Content          FeatureStats `json:"content"`
	Grammar          FeatureStats `json:"grammar"`
	Workspace        FeatureStats `json:"workspace"`
	EphemeralSent    int64        `json:"ephemeralSent"`
	EphemeralDropped int64        `json:"ephemeralDropped"`
	OutOfSync        bool         `json:"outOfSync"`
	Loop             LoopStats    `json:"loop"`
}

func (s *Session) Stats() Stats {
	var out Stats
	s.exec(func() {
		out.Video = s.video.statsSnapshot()
		out.Content = s.content.statsSnapshot()
		out.Grammar = s.grammar.statsSnapshot()
		out.Workspace = s.workspaceStats
		out.OutOfSync = s.recovery.outOfSync()
	})
	out.EphemeralSent = s.ephemeralSent.Load()
	out.EphemeralDropped = s.ephemeralDropped.Load()
	out.Loop = s.loop.stats()
	return out
}

func (s *Session) exec(fn func()) {
	if !s.loop.call(fn) {
		s.logger.Printf("[Session] session closed, dropping call lesson=%s participant=%s", s.lessonID, s.participantID)
	}
}

func (s *Session) dispatch(env syncproto.Envelope) {
	if s.closed {
		return
	}

	switch msg := env.(type) {
	case *syncproto.MaterialSync:
		s.video.handle(msg)
	case *syncproto.ContentSync:
		s.content.handle(msg)
	case *syncproto.GrammarSync:
		s.grammar.handle(msg)
	case *syncproto.WorkspaceSync:
		if !s.role.Authoritative() {
			s.host.SetWorkspaceOpen(msg.Open)
		}
	case *syncproto.BlockMediaSync:
		s.mirror.record(msg, s.now())
	default:
		s.logger.Printf("[Session] unhandled envelope: %s", env.Tag())
	}
}

// emit 在事件循环内调用。未就绪时只计数，不报错。
func (s *Session) emit(env syncproto.Envelope, stats *FeatureStats) bool {
	if !s.transport.IsReady() {
		stats.Dropped++
		s.logger.Printf("[Session] transport not ready, dropping %s", env.Tag())
		return false
	}
	s.safeSend(env)
	stats.Sent++
	return true
}

// sendEphemeral 媒体绑定器的发送路径，可在任意协程调用。
func (s *Session) sendEphemeral(env syncproto.Envelope) {
	if !s.transport.IsReady() {
		s.ephemeralDropped.Add(1)
		return
	}
	s.safeSend(env)
	s.ephemeralSent.Add(1)
}

func (s *Session) safeSend(env syncproto.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[Session] ❌ send panic recovered (%s): %v", env.Tag(), r)
		}
	}()
	s.transport.Send(env)
}

func (s *Session) forceWorkspaceOpen() {
	if !s.host.WorkspaceOpen() {
		s.host.SetWorkspaceOpen(true)
	}
}

func (s *Session) unsyncedFeatures() []syncedFeature {
	var out []syncedFeature
	for _, f := range s.features {
		if !f.isSynced() {
			out = append(out, f)
		}
	}
	return out
}
