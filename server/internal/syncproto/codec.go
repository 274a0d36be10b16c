package syncproto

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed 负载不是合法的 JSON 对象，或字段类型不匹配。
	ErrMalformed = errors.New("malformed sync message")
	// ErrUnknownType 判别字段不属于任何已知消息。
	ErrUnknownType = errors.New("unknown sync message type")
)

// Encode 补齐判别字段后序列化。两个传输适配器都必须走这里，保证线上格式一致。
func Encode(env Envelope) ([]byte, error) {
	switch e := env.(type) {
	case *MaterialSync:
		e.Type = TypeMaterialSync
	case *ContentSync:
		e.Type = TypeContentSync
	case *GrammarSync:
		e.Type = TypeGrammarSync
	case *WorkspaceSync:
		e.T = TypeWorkspaceSync
	case *BlockMediaSync:
		e.Type = TypeBlockMediaSync
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, env)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Tag(), err)
	}
	return data, nil
}

// Decode 先读判别字段，再按具体类型解析。
// 未知类型返回 ErrUnknownType，调用方应静默丢弃（新旧客户端混跑时的前向兼容）。
func Decode(data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
		T    string `json:"t"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	tag := head.Type
	if tag == "" {
		tag = head.T
	}

	var env Envelope
	switch tag {
	case TypeMaterialSync:
		env = &MaterialSync{}
	case TypeContentSync:
		env = &ContentSync{}
	case TypeGrammarSync:
		env = &GrammarSync{}
	case TypeWorkspaceSync:
		env = &WorkspaceSync{}
	case TypeBlockMediaSync:
		env = &BlockMediaSync{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
	}
	return env, nil
}
