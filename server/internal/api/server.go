package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lesson-sync/server/internal/config"
	"lesson-sync/server/internal/lesson"
	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/relay"
	"lesson-sync/server/internal/timeline"
)

type Server struct {
	config *config.Config
	store  lesson.Store
	relays *relay.Registry
	logger *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, store lesson.Store, relays *relay.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		config: cfg,
		store:  store,
		relays: relays,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// 非浏览器客户端（workspacectl）不带 Origin
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.POST("/api/lessons/:id/join", s.handleJoin)
	engine.GET("/api/lessons/:id", s.handleLesson)
	engine.GET("/api/lessons/:id/channel", s.handleChannel)
	engine.GET("/api/lessons/:id/timeline", s.handleTimeline)
	engine.DELETE("/api/lessons/:id/participants/:pid", s.handleLeave)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "lessons": len(s.relays.Lessons())})
}

type joinRequest struct {
	Role string `json:"role"`
}

// JoinResponse 是加入课程的返回，Channel 是 websocket 频道的相对路径。
type JoinResponse struct {
	LessonID      string     `json:"lessonId"`
	ParticipantID string     `json:"participantId"`
	Role          model.Role `json:"role"`
	Channel       string     `json:"channel"`
}

// handleJoin 登记参与者；一节课只允许一个 tutor。
func (s *Server) handleJoin(c *gin.Context) {
	lessonID := c.Param("id")

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := s.store.Join(c.Request.Context(), lessonID, role)
	switch {
	case errors.Is(err, lesson.ErrInvalidLesson):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lesson id"})
		return
	case errors.Is(err, lesson.ErrTutorPresent):
		c.JSON(http.StatusConflict, gin.H{"error": "lesson already has a tutor"})
		return
	case err != nil:
		s.logger.Printf("[API] ❌ join failed lesson=%s: %v", lessonID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "join failed"})
		return
	}

	s.logger.Printf("[API] participant joined lesson=%s participant=%s role=%s", lessonID, p.ID, p.Role)
	c.JSON(http.StatusOK, JoinResponse{
		LessonID:      lessonID,
		ParticipantID: p.ID,
		Role:          p.Role,
		Channel:       ChannelPath(lessonID, p.ID),
	})
}

// ChannelPath 返回参与者的 websocket 频道路径。
func ChannelPath(lessonID, participantID string) string {
	return "/api/lessons/" + url.PathEscape(lessonID) + "/channel?participant=" + url.QueryEscape(participantID)
}

// LessonResponse 是课程名单加上 relay 频道统计（频道不存在时为空）。
type LessonResponse struct {
	Lesson *model.Lesson   `json:"lesson"`
	Relay  *relay.HubStats `json:"relay,omitempty"`
}

func (s *Server) handleLesson(c *gin.Context) {
	lessonID := c.Param("id")

	l, err := s.store.Get(c.Request.Context(), lessonID)
	if err != nil {
		if errors.Is(err, lesson.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "lesson not found"})
			return
		}
		s.logger.Printf("[API] ❌ load lesson %s failed: %v", lessonID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load lesson failed"})
		return
	}

	resp := LessonResponse{Lesson: l}
	if hub, ok := s.relays.Lookup(lessonID); ok {
		stats := hub.Stats()
		resp.Relay = &stats
	}
	c.JSON(http.StatusOK, resp)
}

// TimelineResponse 是课程的转发历史，after 之后的记录。
type TimelineResponse struct {
	LessonID string           `json:"lessonId"`
	Entries  []timeline.Entry `json:"entries"`
}

func (s *Server) handleTimeline(c *gin.Context) {
	lessonID := c.Param("id")

	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		after = v
	}

	resp := TimelineResponse{LessonID: lessonID, Entries: []timeline.Entry{}}
	if journal := s.relays.Journal(); journal != nil {
		entries, err := journal.List(c.Request.Context(), lessonID, after)
		if err != nil {
			s.logger.Printf("[API] ❌ list timeline failed lesson=%s: %v", lessonID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list timeline failed"})
			return
		}
		resp.Entries = entries
	}
	c.JSON(http.StatusOK, resp)
}

// handleChannel 升级为 websocket 并接入课程的 relay 频道，阻塞直到连接断开。
// 断开后参与者从名单移除（同一参与者已重连的情况除外），重新加入需再走 join。
func (s *Server) handleChannel(c *gin.Context) {
	lessonID := c.Param("id")
	participantID := c.Query("participant")

	p, err := s.store.Lookup(c.Request.Context(), lessonID, participantID)
	if err != nil {
		if errors.Is(err, lesson.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
			return
		}
		s.logger.Printf("[API] ❌ lookup participant failed lesson=%s: %v", lessonID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] ❌ failed to upgrade websocket: %v", err)
		return
	}
	s.logger.Printf("[API] 📞 channel opened lesson=%s participant=%s role=%s", lessonID, p.ID, p.Role)

	hub := s.relays.Serve(lessonID, p.ID, conn)

	if hub.Has(p.ID) {
		return
	}
	// 连接已被接管，名单清理用独立的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Leave(ctx, lessonID, p.ID); err != nil && !errors.Is(err, lesson.ErrNotFound) {
		s.logger.Printf("[API] ⚠️  leave after disconnect failed lesson=%s participant=%s: %v", lessonID, p.ID, err)
	}
	s.logger.Printf("[API] 🔌 channel closed lesson=%s participant=%s", lessonID, p.ID)
}

// handleLeave 把参与者移出名单并断开其频道连接。
func (s *Server) handleLeave(c *gin.Context) {
	lessonID := c.Param("id")
	participantID := c.Param("pid")

	if err := s.store.Leave(c.Request.Context(), lessonID, participantID); err != nil {
		if errors.Is(err, lesson.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
			return
		}
		s.logger.Printf("[API] ❌ leave failed lesson=%s participant=%s: %v", lessonID, participantID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leave failed"})
		return
	}
	if hub, ok := s.relays.Lookup(lessonID); ok {
		hub.Kick(participantID)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
