// Package relay is the fog persistence and replication service: a gin HTTP
// API over the fog store plus a websocket topic per session and map.
package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fogsync"
)

// Response codes carried in the envelope.
const (
	CodeSuccess   = 0
	CodeBadParams = 400
	CodeUnknown   = 500
)

// UserHeader names the participant making a write. It is recorded as
// revealed_by on rows that do not carry one.
const UserHeader = "X-User-ID"

// Response is the JSON envelope of every API reply.
type Response struct {
	Code      int         `json:"code"`
	Msg       string      `json:"msg"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// UpsertRequest is the POST body.
type UpsertRequest struct {
	Rows []fogsync.Row `json:"rows"`
}

// Store is what the relay needs from persistence.
type Store interface {
	LoadAll(ctx context.Context, key fogsync.MapKey) ([]fogsync.Row, error)
	UpsertBatch(ctx context.Context, rows []fogsync.Row) error
	OnWrite(fn func([]fogsync.Event))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	store Store
	hub   *Hub
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewServer wires committed store writes into the hub.
func NewServer(store Store, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		store: store,
		hub:   NewHub(log),
		log:   log.WithField("component", "relay"),
		now:   time.Now,
	}
	store.OnWrite(s.hub.Publish)
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the gin engine with all routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", UserHeader},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	Routers(r.Group("/api/v1"), s)
	return r
}

// Routers registers the fog API on g.
func Routers(g *gin.RouterGroup, s *Server) {
	fogGroup := g.Group("/sessions/:session/maps/:map/fog")
	fogGroup.GET("", s.loadFog)
	fogGroup.POST("", s.upsertFog)
	fogGroup.GET("/stream", s.streamFog)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("request")
	}
}

func (s *Server) reply(c *gin.Context, status, code int, msg string, data interface{}) {
	c.JSON(status, Response{Code: code, Msg: msg, Data: data, Timestamp: s.now().Unix()})
}

func mapKey(c *gin.Context) fogsync.MapKey {
	return fogsync.MapKey{SessionID: c.Param("session"), MapID: c.Param("map")}
}

func (s *Server) loadFog(c *gin.Context) {
	key := mapKey(c)
	rows, err := s.store.LoadAll(c.Request.Context(), key)
	if err != nil {
		s.log.WithError(err).WithField("topic", key.Topic()).Error("load fog")
		s.reply(c, http.StatusInternalServerError, CodeUnknown, "load fog failed", nil)
		return
	}
	s.reply(c, http.StatusOK, CodeSuccess, "success", rows)
}

func (s *Server) upsertFog(c *gin.Context) {
	key := mapKey(c)
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reply(c, http.StatusBadRequest, CodeBadParams, "invalid body: "+err.Error(), nil)
		return
	}
	if len(req.Rows) == 0 {
		s.reply(c, http.StatusOK, CodeSuccess, "success", gin.H{"rows": 0})
		return
	}

	user := c.GetHeader(UserHeader)
	now := s.now().UTC()
	for i := range req.Rows {
		r := &req.Rows[i]
		if r.SessionID == "" && r.MapID == "" {
			r.SessionID, r.MapID = key.SessionID, key.MapID
		}
		if r.Key() != key {
			s.reply(c, http.StatusBadRequest, CodeBadParams, "row belongs to another map", nil)
			return
		}
		if r.GridX < 0 || r.GridY < 0 {
			s.reply(c, http.StatusBadRequest, CodeBadParams, "negative grid coordinates", nil)
			return
		}
		if r.RevealedBy == "" {
			r.RevealedBy = user
		}
		if r.RevealedAt.IsZero() {
			r.RevealedAt = now
		}
	}

	if err := s.store.UpsertBatch(c.Request.Context(), req.Rows); err != nil {
		s.log.WithError(err).WithField("topic", key.Topic()).Error("upsert fog")
		s.reply(c, http.StatusInternalServerError, CodeUnknown, "upsert fog failed", nil)
		return
	}
	s.reply(c, http.StatusOK, CodeSuccess, "success", gin.H{"rows": len(req.Rows)})
}

func (s *Server) streamFog(c *gin.Context) {
	key := mapKey(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}
	p := &peer{hub: s.hub, key: key, conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.register(p)

	go p.writePump()
	go p.readPump()
}
