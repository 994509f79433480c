package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/attendance-ingest/internal/auth"
	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

// Enqueuer accepts readings for asynchronous persistence.
// *ingest.Producer satisfies it.
type Enqueuer interface {
	EnqueueFace(ctx context.Context, r models.FaceReading) error
	EnqueueCard(ctx context.Context, r models.CardReading) error
}

// RegisterAttendanceRoutes registers the queue ingestion endpoints.
//
// POST /attendance/ingest/queue/face[/bulk]
// POST /attendance/ingest/queue/card[/bulk]
// - Requires X-API-Key (client context)
// - 202 once every reading is queued or dispatched directly
// - 500 with the accepted count when direct dispatch fails part way
func RegisterAttendanceRoutes(r gin.IRoutes, enq Enqueuer, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	r.POST("/attendance/ingest/queue/face", func(c *gin.Context) {
		var req models.FaceReading
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "personType and personId required"})
			return
		}
		accept(c, log, "face", []func(context.Context) error{
			func(ctx context.Context) error { return enq.EnqueueFace(ctx, req) },
		})
	})

	r.POST("/attendance/ingest/queue/face/bulk", func(c *gin.Context) {
		var req []models.FaceReading
		if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "non-empty array of face readings with personType and personId required"})
			return
		}
		calls := make([]func(context.Context) error, 0, len(req))
		for _, reading := range req {
			reading := reading
			calls = append(calls, func(ctx context.Context) error { return enq.EnqueueFace(ctx, reading) })
		}
		accept(c, log, "face", calls)
	})

	r.POST("/attendance/ingest/queue/card", func(c *gin.Context) {
		var req models.CardReading
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cardNo required"})
			return
		}
		accept(c, log, "card", []func(context.Context) error{
			func(ctx context.Context) error { return enq.EnqueueCard(ctx, req) },
		})
	})

	r.POST("/attendance/ingest/queue/card/bulk", func(c *gin.Context) {
		var req []models.CardReading
		if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "non-empty array of card readings with cardNo required"})
			return
		}
		calls := make([]func(context.Context) error, 0, len(req))
		for _, reading := range req {
			reading := reading
			calls = append(calls, func(ctx context.Context) error { return enq.EnqueueCard(ctx, reading) })
		}
		accept(c, log, "card", calls)
	})
}

// accept runs the enqueue calls in order and stops at the first failure.
func accept(c *gin.Context, log *zap.Logger, kind string, calls []func(context.Context) error) {
	log = auth.Logger(c, log)
	ctx := c.Request.Context()

	for i, call := range calls {
		if err := call(ctx); err != nil {
			log.Error("attendance ingest failed",
				zap.String("type", kind),
				zap.Int("accepted", i),
				zap.Int("submitted", len(calls)),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": "failed",
				"count":  i,
				"error":  "attendance persistence failed",
			})
			return
		}
	}

	log.Debug("attendance accepted",
		zap.String("type", kind),
		zap.Int("count", len(calls)),
	)
	c.JSON(http.StatusAccepted, models.IngestResponse{Status: "accepted", Count: len(calls)})
}
