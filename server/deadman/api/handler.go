package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"deadman_server/server/common/metrics"
	"deadman_server/server/common/middleware"
	"deadman_server/server/common/transport/httpresp"
	"deadman_server/server/deadman/domain"
	"deadman_server/server/deadman/repository"
	deadmanservice "deadman_server/server/deadman/service"
)

type tokenIssuer interface {
	GenerateToken(userID, role string) (string, error)
	ParseAuthContext(token string) (userID, role string, err error)
}

type successorDirectory interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Successor, error)
	Add(ctx context.Context, userID, email, name string) (string, error)
	Remove(ctx context.Context, userID, successorID string) (bool, error)
}

type Handler struct {
	users      *deadmanservice.UserService
	activity   *deadmanservice.ActivityService
	handovers  *deadmanservice.HandoverService
	notify     *deadmanservice.NotifyService
	status     *deadmanservice.StatusService
	scanner    *deadmanservice.ScannerService
	successors successorDirectory
	auth       tokenIssuer
	readyCheck func(context.Context) error
}

func NewHandler(users *deadmanservice.UserService, activity *deadmanservice.ActivityService, handovers *deadmanservice.HandoverService, notify *deadmanservice.NotifyService, status *deadmanservice.StatusService, scanner *deadmanservice.ScannerService, successors successorDirectory, auth tokenIssuer, readyCheck func(context.Context) error) *Handler {
	return &Handler{
		users:      users,
		activity:   activity,
		handovers:  handovers,
		notify:     notify,
		status:     status,
		scanner:    scanner,
		successors: successors,
		auth:       auth,
		readyCheck: readyCheck,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		if h.readyCheck != nil {
			if err := h.readyCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		if h.readyCheck != nil {
			if err := h.readyCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metrics.Handler())

	r.POST("/api/v1/auth/login", h.login)

	// The check-in link works without a session; the token is the capability.
	r.GET("/api/v1/checkin/validate", h.validateCheckIn)
	r.POST("/api/v1/checkin/confirm", h.confirmCheckIn)

	authed := r.Group("/api/v1", middleware.AuthRequired(h.auth), TrackActivity(h.activity))
	authed.POST("/activity/checkin", h.manualCheckIn)
	authed.GET("/activity/status", h.activityStatus)
	authed.GET("/activity/history", h.activityHistory)
	authed.GET("/settings", h.getSettings)
	authed.PUT("/settings", h.updateSettings)
	authed.POST("/settings/pause", h.pauseTracking)
	authed.POST("/settings/resume", h.resumeTracking)
	authed.GET("/handover/status", h.handoverStatus)
	authed.POST("/handover/cancel", h.cancelHandover)
	authed.POST("/handover/:id/respond", h.respondToHandover)
	authed.GET("/notifications", h.listNotifications)
	authed.GET("/successors", h.listSuccessors)
	authed.POST("/successors", h.addSuccessor)
	authed.DELETE("/successors/:id", h.removeSuccessor)

	admin := r.Group("/api/v1/admin", middleware.AuthRequired(h.auth), middleware.RequireRoles(domain.UserRoleAdmin))
	admin.POST("/users", h.createUser)
	admin.POST("/system/pause", h.pauseSystem)
	admin.POST("/system/resume", h.resumeSystem)
	admin.GET("/system/status", h.systemStatus)
	admin.GET("/scanner/stats", h.scannerStats)
	admin.POST("/handover/:id/complete", h.completeHandover)
}

func callerID(c *gin.Context) string {
	return c.GetString("auth_user_id")
}

func clientType(c *gin.Context) string {
	switch strings.ToLower(c.GetHeader("X-Client-Type")) {
	case domain.ClientMobile:
		return domain.ClientMobile
	case domain.ClientAPI:
		return domain.ClientAPI
	default:
		return domain.ClientWeb
	}
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidCredentials))
		return
	}
	token, err := h.auth.GenerateToken(user.UserID, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.activity.RecordAsync(deadmanservice.RecordInput{
		UserID:       user.UserID,
		ActivityType: domain.ActivityLogin,
		ClientType:   clientType(c),
		IP:           c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token, user.UserID, user.Role))
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.users.Create(c.Request.Context(), req.Email, req.DisplayName, req.Password, req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewIDResponse(id))
}

// manualCheckIn is an explicit user action: the activity write and the
// handover cancellation are synchronous so a failure is reported honestly
// with no state change hidden from the user.
func (h *Handler) manualCheckIn(c *gin.Context) {
	userID := callerID(c)
	_, err := h.activity.Record(c.Request.Context(), deadmanservice.RecordInput{
		UserID:       userID,
		ActivityType: domain.ActivityCheckIn,
		ClientType:   clientType(c),
		IP:           c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed"})
		return
	}
	if err := h.handovers.Cancel(c.Request.Context(), userID, "manual check-in"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in recorded but handover cancellation failed"})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) activityStatus(c *gin.Context) {
	status, err := h.activity.Status(c.Request.Context(), callerID(c))
	if err != nil {
		// Dashboard read: degrade to null instead of failing.
		c.JSON(http.StatusOK, gin.H{"status": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *Handler) activityHistory(c *gin.Context) {
	q := repository.ActivityQuery{}
	q.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	q.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	if raw := c.Query("startDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFromMustBeRFC3339))
			return
		}
		q.From = &t
	}
	if raw := c.Query("endDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrToMustBeRFC3339))
			return
		}
		q.To = &t
	}
	if raw := c.Query("activityTypes"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				q.Types = append(q.Types, part)
			}
		}
	}

	activities, total, err := h.activity.History(c.Request.Context(), callerID(c), q)
	if err != nil {
		c.JSON(http.StatusOK, historyResponse{Activities: []domain.ActivityRecord{}, Total: 0})
		return
	}
	c.JSON(http.StatusOK, historyResponse{Activities: activities, Total: total})
}

func (h *Handler) getSettings(c *gin.Context) {
	settings, err := h.activity.GetSettings(c.Request.Context(), callerID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

var allowedMethods = map[string]struct{}{
	domain.MethodEmail: {},
	domain.MethodSMS:   {},
	domain.MethodPush:  {},
}

// Settings validation happens here, before anything reaches the core.
func (h *Handler) updateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields := map[string]string{}
	if req.ThresholdDays < 30 || req.ThresholdDays > 365 {
		fields["threshold_days"] = "must be between 30 and 365"
	}
	if len(req.NotificationMethods) == 0 {
		fields["notification_methods"] = "at least one method is required"
	}
	for _, method := range req.NotificationMethods {
		if _, ok := allowedMethods[method]; !ok {
			fields["notification_methods"] = "methods must be a subset of email, sms, push"
			break
		}
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, httpresp.NewFieldErrorResponse("invalid settings", fields))
		return
	}

	settings, err := h.activity.UpdateSettings(c.Request.Context(), callerID(c), req.ThresholdDays, req.NotificationMethods)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) pauseTracking(c *gin.Context) {
	var req pauseTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.activity.PauseTracking(c.Request.Context(), callerID(c), req.Reason, req.PausedUntil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) resumeTracking(c *gin.Context) {
	if err := h.activity.ResumeTracking(c.Request.Context(), callerID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) handoverStatus(c *gin.Context) {
	proc := h.handovers.StatusForUser(c.Request.Context(), callerID(c))
	c.JSON(http.StatusOK, handoverStatusResponse{Process: proc})
}

func (h *Handler) cancelHandover(c *gin.Context) {
	var req cancelHandoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by user"
	}
	if err := h.handovers.Cancel(c.Request.Context(), callerID(c), reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) respondToHandover(c *gin.Context) {
	var req successorResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.handovers.RespondToHandover(c.Request.Context(), c.Param("id"), callerID(c), strings.ToLower(req.Response), req.Note)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) listNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	deliveries, err := h.notify.RecentDeliveries(c.Request.Context(), callerID(c), limit)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []domain.NotificationDelivery{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": deliveries})
}

func (h *Handler) listSuccessors(c *gin.Context) {
	successors, err := h.successors.ListByUser(c.Request.Context(), callerID(c))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"successors": []domain.Successor{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"successors": successors})
}

func (h *Handler) addSuccessor(c *gin.Context) {
	var req addSuccessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.successors.Add(c.Request.Context(), callerID(c), req.Email, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewIDResponse(id))
}

func (h *Handler) removeSuccessor(c *gin.Context) {
	matched, err := h.successors.Remove(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !matched {
		c.JSON(http.StatusNotFound, gin.H{"error": "successor not found"})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) validateCheckIn(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrCheckInTokenNeeded))
		return
	}
	c.JSON(http.StatusOK, h.notify.ValidateCheckInLink(c.Request.Context(), token))
}

// confirmCheckIn consumes an emailed check-in token: mark it used, cancel any
// open handover, append the check-in activity. All synchronous; a failure
// leaves the user with an explicit error.
func (h *Handler) confirmCheckIn(c *gin.Context) {
	var req confirmCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := h.notify.MarkCheckInTokenUsed(c.Request.Context(), req.Token, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.handovers.Cancel(c.Request.Context(), userID, "check-in via emailed link"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.activity.Record(c.Request.Context(), deadmanservice.RecordInput{
		UserID:       userID,
		ActivityType: domain.ActivityCheckIn,
		ClientType:   clientType(c),
		IP:           c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Metadata:     map[string]any{"via": "checkin_link"},
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) pauseSystem(c *gin.Context) {
	var req systemPauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.status.PauseSystemTracking(c.Request.Context(), strings.ToUpper(req.Status), req.Reason)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) resumeSystem(c *gin.Context) {
	rec, err := h.status.ResumeSystemTracking(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) systemStatus(c *gin.Context) {
	rec, err := h.status.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) scannerStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.scanner.Stats(c.Request.Context()))
}

func (h *Handler) completeHandover(c *gin.Context) {
	if err := h.handovers.Complete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}
