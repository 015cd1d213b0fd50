package api

import (
	"time"

	"deadman_server/server/deadman/domain"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createUserRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password" binding:"required"`
	Role        string `json:"role"`
}

type updateSettingsRequest struct {
	ThresholdDays       int      `json:"threshold_days"`
	NotificationMethods []string `json:"notification_methods"`
}

type pauseTrackingRequest struct {
	Reason      string     `json:"reason"`
	PausedUntil *time.Time `json:"paused_until"`
}

type cancelHandoverRequest struct {
	Reason string `json:"reason"`
}

type successorResponseRequest struct {
	Response string `json:"response" binding:"required"`
	Note     string `json:"note"`
}

type addSuccessorRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name" binding:"required"`
}

type confirmCheckInRequest struct {
	Token string `json:"token" binding:"required"`
}

type systemPauseRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type historyResponse struct {
	Activities []domain.ActivityRecord `json:"activities"`
	Total      int                     `json:"total"`
}

type handoverStatusResponse struct {
	Process *domain.HandoverProcess `json:"process"`
}
