// README: API gateway; registers HTTP routes and delegates to the chat and places services.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"outing/internal/http/handlers"
	"outing/internal/http/middleware"
	"outing/internal/maps"
	"outing/internal/metrics"
)

// SessionCounter reports how many conversations are live.
type SessionCounter interface {
	ActiveSessions(ctx context.Context) (int, error)
}

type ServerDeps struct {
	Chat     handlers.ChatAPI
	Sessions SessionCounter
	Places   handlers.RestaurantFinder
	// Photos is optional and enables the photo proxy.
	Photos handlers.PhotoFetcher
	// CacheStats is optional and feeds /status.
	CacheStats  func() map[string]maps.CacheStats
	CORSOrigins []string
	TurnTimeout time.Duration
}

type Server struct {
	deps    ServerDeps
	started time.Time
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps, started: time.Now()}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.TraceID(), middleware.Logging(), middleware.Recovery(), middleware.CORS(s.deps.CORSOrigins))

	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	chat := handlers.NewChatHandler(s.deps.Chat, s.deps.TurnTimeout)
	api.POST("/chat/session", chat.CreateSession)
	api.GET("/chat/session/:id", chat.History)
	api.DELETE("/chat/session/:id", chat.Delete)
	api.POST("/chat", chat.Chat)

	if s.deps.Places != nil {
		places := handlers.NewPlacesHandler(s.deps.Places)
		api.GET("/places/nearby-restaurants", places.NearbyRestaurants)
		if s.deps.Photos != nil {
			places.WithPhotos(s.deps.Photos)
			api.GET("/places/photo", places.Photo)
		}
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	body := gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Sessions != nil {
		n, err := s.deps.Sessions.ActiveSessions(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "session store unavailable"})
			return
		}
		body["active_sessions"] = n
	}
	if s.deps.CacheStats != nil {
		body["caches"] = s.deps.CacheStats()
	}
	c.JSON(http.StatusOK, body)
}
