package domain

import "time"

const (
	ActivityLogin          = "LOGIN"
	ActivityCheckIn        = "CHECK_IN"
	ActivityVaultAccess    = "VAULT_ACCESS"
	ActivitySettingsChange = "SETTINGS_CHANGE"
	ActivityAPICall        = "API_CALL"
)

const (
	ClientWeb    = "web"
	ClientMobile = "mobile"
	ClientAPI    = "api"
)

// Handover process states. CANCELLED is reachable from every state except
// COMPLETED; COMPLETED and CANCELLED are terminal.
const (
	HandoverGracePeriod         = "GRACE_PERIOD"
	HandoverAwaitingSuccessors  = "AWAITING_SUCCESSORS"
	HandoverVerificationPending = "VERIFICATION_PENDING"
	HandoverReadyForTransfer    = "READY_FOR_TRANSFER"
	HandoverCompleted           = "COMPLETED"
	HandoverCancelled           = "CANCELLED"
)

// Derived per-user handover view, reported on ActivityStatus.
const (
	StatusNormal         = "NORMAL"
	StatusReminderPhase  = "REMINDER_PHASE"
	StatusGracePeriod    = "GRACE_PERIOD"
	StatusHandoverActive = "HANDOVER_ACTIVE"
)

const (
	NotifyFirstReminder  = "FIRST_REMINDER"
	NotifySecondReminder = "SECOND_REMINDER"
	NotifyFinalWarning   = "FINAL_WARNING"
	NotifyHandoverAlert  = "HANDOVER_ALERT"
)

const (
	DeliverySent      = "SENT"
	DeliveryDelivered = "DELIVERED"
	DeliveryFailed    = "FAILED"
)

const (
	MethodEmail = "email"
	MethodSMS   = "sms"
	MethodPush  = "push"
)

const (
	SystemOperational = "OPERATIONAL"
	SystemMaintenance = "MAINTENANCE"
	SystemOutage      = "OUTAGE"
)

const (
	ResponseAccepted = "accepted"
	ResponseDeclined = "declined"
)

const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

const (
	DefaultThresholdDays = 90
	GracePeriodDuration  = 48 * time.Hour
)

type User struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type ActivityRecord struct {
	RecordID     string         `json:"record_id"`
	UserID       string         `json:"user_id"`
	ActivityType string         `json:"activity_type"`
	ClientType   string         `json:"client_type"`
	IP           string         `json:"ip"`
	UserAgent    string         `json:"user_agent"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Signature    string         `json:"signature"`
	CreatedAt    time.Time      `json:"created_at"`
}

type InactivitySettings struct {
	UserID              string     `json:"user_id"`
	ThresholdDays       int        `json:"threshold_days"`
	NotificationMethods []string   `json:"notification_methods"`
	IsPaused            bool       `json:"is_paused"`
	PauseReason         string     `json:"pause_reason,omitempty"`
	PausedUntil         *time.Time `json:"paused_until,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type ActivityStatus struct {
	UserID              string           `json:"user_id"`
	LastActivity        time.Time        `json:"last_activity"`
	InactivityDuration  time.Duration    `json:"inactivity_duration_ms"`
	ThresholdDays       int              `json:"threshold_days"`
	ThresholdPercentage float64          `json:"threshold_percentage"`
	NextReminderDue     *time.Time       `json:"next_reminder_due,omitempty"`
	HandoverStatus      string           `json:"handover_status"`
	TimeRemaining       time.Duration    `json:"time_remaining_ms"`
	Process             *HandoverProcess `json:"process,omitempty"`
}

type HandoverProcess struct {
	ProcessID          string         `json:"process_id"`
	UserID             string         `json:"user_id"`
	Status             string         `json:"status"`
	InitiatedAt        time.Time      `json:"initiated_at"`
	GracePeriodEnds    time.Time      `json:"grace_period_ends"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty"`
	CancellationReason string         `json:"cancellation_reason,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

type Successor struct {
	SuccessorID string    `json:"successor_id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

type SuccessorResponse struct {
	ProcessID   string    `json:"process_id"`
	SuccessorID string    `json:"successor_id"`
	Response    string    `json:"response"`
	Note        string    `json:"note,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

type NotificationDelivery struct {
	DeliveryID       string    `json:"delivery_id"`
	UserID           string    `json:"user_id"`
	NotificationType string    `json:"notification_type"`
	Method           string    `json:"method"`
	Recipient        string    `json:"recipient"`
	Status           string    `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	RetryCount       int       `json:"retry_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// DeliveryResult is what SendReminder always returns; callers branch on
// Status instead of handling errors.
type DeliveryResult struct {
	DeliveryID string    `json:"delivery_id"`
	Method     string    `json:"method"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
}

type CheckInToken struct {
	TokenHash string     `json:"-"`
	UserID    string     `json:"user_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type CheckInValidation struct {
	IsValid       bool          `json:"is_valid"`
	UserID        string        `json:"user_id,omitempty"`
	RemainingTime time.Duration `json:"remaining_time_ms,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type SystemStatusRecord struct {
	StatusID      string     `json:"status_id"`
	Status        string     `json:"status"`
	DowntimeStart *time.Time `json:"downtime_start,omitempty"`
	DowntimeEnd   *time.Time `json:"downtime_end,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ScannerStats struct {
	IsRunning     bool          `json:"is_running"`
	CheckInterval time.Duration `json:"check_interval_ms"`
	ActiveUsers   int           `json:"active_users"`
	SystemStatus  string        `json:"system_status"`
}

func IsTerminalHandoverStatus(status string) bool {
	return status == HandoverCompleted || status == HandoverCancelled
}
