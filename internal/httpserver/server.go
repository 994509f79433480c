package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PratikDhanave/attendance-ingest/internal/auth"
	"github.com/PratikDhanave/attendance-ingest/internal/config"
	"github.com/PratikDhanave/attendance-ingest/internal/handlers"
)

const requestIDHeader = "X-Request-ID"

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueProbe reports shared queue reachability. *ingest.RedisQueue and
// *ingest.MemQueue satisfy it.
type QueueProbe interface {
	Len(ctx context.Context) (int64, error)
}

// Deps are the components the router exposes.
type Deps struct {
	DB       Pinger
	Queue    QueueProbe // nil when queueing is disabled
	Enqueuer handlers.Enqueuer
	Counter  handlers.RecordCounter
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics
// Authenticated: /attendance/ingest/queue/*, /attendance/stats
func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(log))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB and, when queueing, the shared queue are reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := d.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		body := gin.H{"status": "ready"}
		if d.Queue != nil {
			depth, err := d.Queue.Len(ctx)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
			body["queue_depth"] = depth
		}
		c.JSON(http.StatusOK, body)
	})

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// Auth group attaches the client name via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.APIKeys, log))

	handlers.RegisterAttendanceRoutes(authGroup, d.Enqueuer, log)
	handlers.RegisterStatsRoutes(authGroup, d.Counter, log)

	return r
}

// requestID echoes the caller's X-Request-ID or assigns a fresh one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("http request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", auth.ClientName(c)),
		)
	}
}
