package domain

import "time"

// NotificationType is the delivery channel.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypePush  NotificationType = "push"
)

// Valid reports whether t is a known channel.
func (t NotificationType) Valid() bool {
	return t == TypeEmail || t == TypePush
}

// NotificationStatus is the lifecycle state of a notification record.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
)

// PriorityThreshold splits standard from priority routing: requests with
// priority >= PriorityThreshold land on the {type}.priority queue.
const PriorityThreshold = 5

// NotificationRequest is the ingress input.
type NotificationRequest struct {
	NotificationType NotificationType `json:"notification_type" validate:"required,oneof=email push"`
	UserID           string           `json:"user_id" validate:"required"`
	TemplateCode     string           `json:"template_code" validate:"required"`
	Variables        map[string]any   `json:"variables"`
	RequestID        string           `json:"request_id" validate:"required"`
	Priority         int              `json:"priority" validate:"gte=0,lte=10"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// QueueMessage is the envelope placed on the broker.
type QueueMessage struct {
	NotificationID   string           `json:"notification_id"`
	NotificationType NotificationType `json:"notification_type"`
	UserID           string           `json:"user_id"`
	Recipient        string           `json:"recipient"`
	TemplateCode     string           `json:"template_code"`
	Variables        map[string]any   `json:"variables"`
	RequestID        string           `json:"request_id"`
	Priority         int              `json:"priority"`
	Timestamp        time.Time        `json:"timestamp"`
	RetryCount       int              `json:"retry_count"`
	MaxRetries       int              `json:"max_retries"`
	CorrelationID    string           `json:"correlation_id,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// RoutingKey returns the routing key for the message's channel and priority.
func (m *QueueMessage) RoutingKey() string {
	return RoutingKeyFor(m.NotificationType, m.Priority)
}

// RoutingKeyFor selects the routing key: priority >= PriorityThreshold goes
// to the channel's priority queue.
func RoutingKeyFor(t NotificationType, priority int) string {
	if priority >= PriorityThreshold {
		return string(t) + ".priority"
	}
	return string(t)
}

// NotificationRecord is the KV record tracking one notification.
type NotificationRecord struct {
	NotificationID   string             `json:"notification_id"`
	UserID           string             `json:"user_id"`
	NotificationType NotificationType   `json:"notification_type"`
	Status           NotificationStatus `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	RequestID        string             `json:"request_id"`
	Error            string             `json:"error,omitempty"`
}

// StatusUpdate is posted by workers to the gateway's status endpoints.
type StatusUpdate struct {
	NotificationID string             `json:"notification_id" validate:"required"`
	Status         NotificationStatus `json:"status" validate:"required,oneof=pending delivered failed"`
	Error          string             `json:"error,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// Preferences is a user's per-channel opt-in record.
type Preferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

// UserInfo is the user directory's view of a recipient.
type UserInfo struct {
	Email       string      `json:"email"`
	PushToken   string      `json:"push_token"`
	Preferences Preferences `json:"preferences"`
}

// Recipient returns the channel-specific address, or "" when missing.
func (u *UserInfo) Recipient(t NotificationType) string {
	switch t {
	case TypeEmail:
		return u.Email
	case TypePush:
		return u.PushToken
	}
	return ""
}

// Allows reports whether the user accepts notifications on the channel.
func (u *UserInfo) Allows(t NotificationType) bool {
	switch t {
	case TypeEmail:
		return u.Preferences.Email
	case TypePush:
		return u.Preferences.Push
	}
	return false
}

// SubmitResult is the ingress response payload.
type SubmitResult struct {
	NotificationID   string             `json:"notification_id"`
	Status           NotificationStatus `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	AlreadyProcessed bool               `json:"already_processed,omitempty"`
}

// PaginationMeta describes one page of a list response.
type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
