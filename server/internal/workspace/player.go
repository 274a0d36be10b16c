package workspace

import (
	"sync"
	"time"
)

// Player 是本地媒体播放器。浏览器里对应 video 元素，这里只需要读写进度与播放态。
type Player interface {
	CurrentTime() float64
	SeekTo(seconds float64)
	Play()
	Pause()
}

// ClockPlayer 用时钟推算播放进度：播放中 position = 基准 + 已流逝时间。
type ClockPlayer struct {
	mu      sync.Mutex
	now     func() time.Time
	base    float64
	since   time.Time
	playing bool
}

// NewClockPlayer now 为 nil 时使用 time.Now。
func NewClockPlayer(now func() time.Time) *ClockPlayer {
	if now == nil {
		now = time.Now
	}
	return &ClockPlayer{now: now}
}

func (p *ClockPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *ClockPlayer) positionLocked() float64 {
	if !p.playing {
		return p.base
	}
	return p.base + p.now().Sub(p.since).Seconds()
}

func (p *ClockPlayer) SeekTo(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = seconds
	p.since = p.now()
}

func (p *ClockPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return
	}
	p.since = p.now()
	p.playing = true
}

func (p *ClockPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.base = p.positionLocked()
	p.playing = false
}

// Playing 返回当前是否在播放。
func (p *ClockPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
