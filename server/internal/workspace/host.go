package workspace

import "sync"

// WorkspaceHost 是宿主 UI 持有的“工作区面板开/关”标志。
// 跟随端收到 open 时会把面板强制打开，这是状态层面的副作用，不参与同步。
type WorkspaceHost interface {
	WorkspaceOpen() bool
	SetWorkspaceOpen(open bool)
}

// Panel 是 WorkspaceHost 的默认实现，可选地在变化时回调。
type Panel struct {
	mu       sync.Mutex
	open     bool
	onChange func(open bool)
}

// NewPanel 创建面板，onChange 可为 nil。
func NewPanel(onChange func(open bool)) *Panel {
	return &Panel{onChange: onChange}
}

func (p *Panel) WorkspaceOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Panel) SetWorkspaceOpen(open bool) {
	p.mu.Lock()
	changed := p.open != open
	p.open = open
	cb := p.onChange
	p.mu.Unlock()

	if changed && cb != nil {
		cb(open)
	}
}
