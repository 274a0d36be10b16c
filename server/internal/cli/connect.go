package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lesson-sync/server/internal/config"
	"lesson-sync/server/internal/transport"
	"lesson-sync/server/internal/transport/redisroom"
	"lesson-sync/server/internal/transport/wscall"
)

// link 是建立好的传输通道与其清理函数。
type link struct {
	transport     transport.Transport
	participantID string
	close         func()
}

type joinResponse struct {
	LessonID      string `json:"lessonId"`
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	Channel       string `json:"channel"`
}

// httpBase 把 relay 的 ws(s):// 地址换成 http(s)://。
func httpBase(wsBase string) (string, error) {
	u, err := url.Parse(strings.TrimRight(wsBase, "/"))
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// wsBase 把 http(s):// 地址换成 ws(s)://。
func wsBase(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

// connectRelay 先走 HTTP join 拿到参与者 ID，再连 relay 频道并等待 joined。
func connectRelay(ctx context.Context, relayURL, lessonID, role string, logger *log.Logger) (*link, error) {
	base, err := httpBase(relayURL)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"role": role})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/lessons/"+url.PathEscape(lessonID)+"/join", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("join lesson: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("join lesson: status=%d error=%s", resp.StatusCode, apiErr.Error)
	}

	var jr joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, fmt.Errorf("decode join response: %w", err)
	}

	adapter, err := wscall.Dial(ctx, wscall.Config{URL: wsBase(base) + jr.Channel, Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := adapter.WaitJoined(ctx); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("wait joined: %w", err)
	}

	return &link{
		transport:     adapter,
		participantID: jr.ParticipantID,
		close:         func() { adapter.Close() },
	}, nil
}

// connectRedis 直接订阅 Redis 课程频道，不经过 relay。
func connectRedis(ctx context.Context, cfg config.RedisConfig, lessonID string, logger *log.Logger) (*link, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	participantID := uuid.NewString()
	adapter, err := redisroom.Open(ctx, redisroom.Config{
		Client:        client,
		LessonID:      lessonID,
		ParticipantID: participantID,
		ChannelPrefix: cfg.ChannelPrefix,
		Logger:        logger,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	return &link{
		transport:     adapter,
		participantID: participantID,
		close: func() {
			adapter.Close()
			client.Close()
		},
	}, nil
}
