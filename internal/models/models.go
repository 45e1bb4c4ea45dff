package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionType enum values
const (
	TypePay     = "pay"
	TypeCollect = "collect"
	TypeQRPay   = "qr_pay"
)

// DevicePosture is the caller-supplied device signal bundle. All fields
// default to their neutral value when the bundle is absent.
type DevicePosture struct {
	InstalledAppCount          int  `json:"installed_app_count"`
	SuspiciousAppFlag          bool `json:"suspicious_app_flag"`
	AccessibilityServiceActive bool `json:"accessibility_service_active"`
	ScreenOverlayActive        bool `json:"screen_overlay_active"`
	DebuggerAttached           bool `json:"debugger_attached"`
	RecentSideload             bool `json:"recent_sideload"`
}

// TransactionRequest is one screening event. Immutable once received.
type TransactionRequest struct {
	TransactionID   string         `json:"transaction_id" binding:"required,max=128"`
	PayerVPA        string         `json:"payer_vpa"`
	PayeeVPA        string         `json:"payee_vpa"`
	Amount          float64        `json:"amount"`
	Message         string         `json:"message"`
	TransactionType string         `json:"transaction_type" binding:"omitempty,oneof=pay collect qr_pay"`
	QRPayload       string         `json:"qr_payload"`
	PayeeNew        int            `json:"payee_new"`
	DevicePosture   *DevicePosture `json:"device_posture"`
}

// Detector ids
const (
	DetectorPhishing = "phishing"
	DetectorQuishing = "quishing"
	DetectorCollect  = "collect"
	DetectorMalware  = "malware"
)

// Confidence tiers, derived from model margin and rule corroboration.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Reserved rule tokens emitted by the coordinator rather than a rule table.
const (
	RuleDetectorUnavailable = "detector_unavailable"
	RuleTimeout             = "timeout"
)

// Subscore is one detector's verdict.
type Subscore struct {
	Detector    string   `json:"detector"`
	Probability float64  `json:"probability"` // in [0,1]
	RuleHits    []string `json:"rule_hits"`
	HardHit     bool     `json:"hard_hit"` // a hard rule fired
	Confidence  string   `json:"confidence"`
}

// Actions
const (
	ActionAllow       = "ALLOW"
	ActionWarn        = "WARN"
	ActionBlock       = "BLOCK"
	ActionHumanReview = "HUMAN_REVIEW"
)

// Risk levels for display banding.
const (
	RiskLevelLow       = "LOW"
	RiskLevelLowMedium = "LOW-MEDIUM"
	RiskLevelMedium    = "MEDIUM"
	RiskLevelHigh      = "HIGH"
	RiskLevelCritical  = "CRITICAL"
)

// Decision is the aggregator's result.
type Decision struct {
	TrustScore int        `json:"trust_score"` // 0..100, higher = safer
	Action     string     `json:"action"`
	Subscores  []Subscore `json:"subscores"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FeatureImportance is one (feature, weight) pair for display.
type FeatureImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// Explanation is the human-facing reasoning bundle.
type Explanation struct {
	Reasons           []string            `json:"reasons"`
	RiskBreakdown     map[string]float64  `json:"risk_breakdown"` // detector -> share of risk
	FeatureImportance []FeatureImportance `json:"feature_importance"`
	RiskLevel         string              `json:"risk_level"`
	Nominal           bool                `json:"nominal"` // all detectors at zero risk
}

// Review priorities
const (
	PriorityCritical = "CRITICAL"
	PriorityHigh     = "HIGH"
	PriorityMedium   = "MEDIUM"
	PriorityLow      = "LOW"
)

// Analyst decisions
const (
	ReviewApprove  = "APPROVE"
	ReviewReject   = "REJECT"
	ReviewEscalate = "ESCALATE"
)

// ReviewQueueEntry is persisted when HITL demands review.
// Invariant: once Reviewed is true, AnalystID and Decision are non-null and
// immutable.
type ReviewQueueEntry struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID string     `json:"transaction_id"`
	TrustScore    int        `json:"trust_score"`
	Priority      string     `json:"priority"`
	Request       JSONB      `json:"request"`
	Subscores     JSONB      `json:"subscores"`
	RuleHits      []string   `json:"rule_hits"`
	SLADeadline   time.Time  `json:"sla_deadline"`
	CreatedAt     time.Time  `json:"created_at"`
	Reviewed      bool       `json:"reviewed"`
	AnalystID     *string    `json:"analyst_id,omitempty"`
	Decision      *string    `json:"decision,omitempty"`
	FeedbackText  *string    `json:"feedback_text,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
}

// FeedbackRecord is one labeled example staged for retraining. Never deleted.
type FeedbackRecord struct {
	ID                 uuid.UUID `json:"id"`
	TransactionID      string    `json:"transaction_id"`
	OriginalTrustScore int       `json:"original_trust_score"`
	OriginalSubscores  JSONB     `json:"original_subscores"`
	AnalystDecision    string    `json:"analyst_decision"`
	CorrectLabel       int       `json:"correct_label"` // 0 legitimate, 1 fraud
	ModelWasCorrect    bool      `json:"model_was_correct"`
	UsedForRetraining  bool      `json:"used_for_retraining"`
	CreatedAt          time.Time `json:"created_at"`
}

// ScoreResponse is the synchronous scoring API response.
type ScoreResponse struct {
	TransactionID     string              `json:"transaction_id"`
	TrustScore        int                 `json:"trust_score"`
	Action            string              `json:"action"`
	Subscores         map[string]float64  `json:"subscores"`
	Reasons           []string            `json:"reasons"`
	RiskBreakdown     map[string]float64  `json:"risk_breakdown"`
	FeatureImportance []FeatureImportance `json:"feature_importance"`
	RiskLevel         string              `json:"risk_level"`
	ReviewID          *string             `json:"review_id"`
}

// ReviewEvent is published to the Redis review stream when an entry is
// enqueued, resolved or escalated.
type ReviewEvent struct {
	EventType     string    `json:"event_type"` // enqueued, resolved, escalated
	TransactionID string    `json:"transaction_id"`
	ReviewID      string    `json:"review_id"`
	Priority      string    `json:"priority"`
	TrustScore    int       `json:"trust_score"`
	SLADeadline   time.Time `json:"sla_deadline"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditLog is one audit trail entry.
type AuditLog struct {
	ID         uuid.UUID `json:"id"`
	EventType  string    `json:"event_type"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	Action     string    `json:"action"`
	Payload    JSONB     `json:"payload"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventDecision     = "decision"
	AuditEventReview       = "review"
	AuditEventModelReload  = "model_reload"
	AuditEventConfigReload = "config_reload"
)

// JSONB is a helper type for PostgreSQL JSONB columns.
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// ToJSONB marshals any value into a JSONB map, empty on failure.
func ToJSONB(v interface{}) JSONB {
	data, err := json.Marshal(v)
	if err != nil {
		return JSONB{}
	}
	var out JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return JSONB{}
	}
	return out
}
