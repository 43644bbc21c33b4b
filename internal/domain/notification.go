package domain

import "time"

// Type classifies a notification. Clients use it for routing and filtering;
// the delivery core never branches on it beyond validation.
type Type string

const (
	TypeEvidenceUploaded Type = "EVIDENCE_UPLOADED"
	TypeAnalysisComplete Type = "ANALYSIS_COMPLETE"
	TypeCaseUpdated      Type = "CASE_UPDATED"
	TypeAlertTriggered   Type = "ALERT_TRIGGERED"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeEvidenceUploaded, TypeAnalysisComplete, TypeCaseUpdated, TypeAlertTriggered:
		return true
	}
	return false
}

// Priority is an ordered enumeration: LOW < MEDIUM < HIGH < URGENT.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// rank maps priorities onto their total order. Unknown priorities rank lowest.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// AtLeast reports whether p is ordered at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return p.rank() >= other.rank()
}

// Notification is the unit of delivery.
//
// ID, RecipientID and CreatedAt are immutable after creation. Read flips
// false→true exactly once; AcknowledgedAt is set together with it and never
// cleared.
type Notification struct {
	ID               string            `json:"id"`
	RecipientID      string            `json:"recipient_id"`
	Type             Type              `json:"type"`
	Priority         Priority          `json:"priority"`
	Title            string            `json:"title"`
	Message          string            `json:"message"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	SensitivePayload []byte            `json:"sensitive_payload,omitempty"`
	Read             bool              `json:"read"`
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
}

// ChannelPush is the only delivery channel this service operates.
// DeliveryStatus is keyed by (notification, channel) so further channels
// can be added without a schema change.
const ChannelPush = "push"

// DeliveryState tracks the outcome of delivery over one channel.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryFailed    DeliveryState = "FAILED"
)

// DeliveryStatus is one record per (notification, channel).
// Attempts only ever increases; State moves PENDING→DELIVERED or
// PENDING→FAILED and never reverses.
type DeliveryStatus struct {
	NotificationID string        `json:"notification_id"`
	Channel        string        `json:"channel"`
	State          DeliveryState `json:"state"`
	Attempts       int           `json:"attempts"`
	LastAttempt    time.Time     `json:"last_attempt"`
	Error          *string       `json:"error,omitempty"`
}

// SubmitRequest is the inbound payload for a single notification.
type SubmitRequest struct {
	RecipientID      string            `json:"recipient_id"`
	Type             Type              `json:"type"`
	Priority         Priority          `json:"priority"`
	Title            string            `json:"title"`
	Message          string            `json:"message"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	SensitivePayload []byte            `json:"sensitive_payload,omitempty"`
}

func (r *SubmitRequest) Validate() error {
	if r.RecipientID == "" || len(r.RecipientID) > 255 {
		return ErrInvalidRecipient
	}
	if !r.Type.IsValid() {
		return ErrInvalidType
	}
	if !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if r.Title == "" || len(r.Title) > 256 {
		return ErrInvalidTitle
	}
	if len(r.Message) > 4096 {
		return ErrInvalidMessage
	}
	return nil
}
