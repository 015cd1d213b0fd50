package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"deadman_server/server/deadman/domain"
	deadmanservice "deadman_server/server/deadman/service"
)

// TrackActivity appends a signed activity event for every successful mutating
// request. Recording is deferred past the response path so it can never add
// latency or fail the request. Check-in endpoints record synchronously in
// their handlers and are skipped here.
func TrackActivity(activity *deadmanservice.ActivityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodGet {
			return
		}
		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		if strings.Contains(c.FullPath(), "/activity/checkin") {
			return
		}
		userID := c.GetString("auth_user_id")
		if userID == "" {
			return
		}
		activity.RecordAsync(deadmanservice.RecordInput{
			UserID:       userID,
			ActivityType: domain.ActivityAPICall,
			ClientType:   clientType(c),
			IP:           c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			Metadata:     map[string]any{"path": c.FullPath(), "method": c.Request.Method},
		})
	}
}
