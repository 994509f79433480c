package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/attendance-ingest/internal/auth"
	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

// RecordCounter counts persisted attendance records. *store.PostgresStore satisfies it.
type RecordCounter interface {
	CountRecords(ctx context.Context, checkType string, from, to time.Time) (int64, error)
}

// RegisterStatsRoutes registers the record statistics endpoint.
//
// GET /attendance/stats?check_type=face|card&from=...&to=...
// - Requires X-API-Key (client context)
// - Returns count for the window [from,to); check_type is optional
func RegisterStatsRoutes(r gin.IRoutes, counter RecordCounter, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	r.GET("/attendance/stats", func(c *gin.Context) {
		checkType := c.Query("check_type")
		fromStr := c.Query("from")
		toStr := c.Query("to")

		if fromStr == "" || toStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from, to are required"})
			return
		}
		if checkType != "" && checkType != "face" && checkType != "card" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "check_type must be face or card"})
			return
		}

		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}

		from = from.UTC()
		to = to.UTC()

		if !from.Before(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be < to"})
			return
		}

		count, err := counter.CountRecords(c.Request.Context(), checkType, from, to)
		if err != nil {
			auth.Logger(c, log).Error("attendance stats query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, models.StatsResponse{CheckType: checkType, Count: count})
	})
}
