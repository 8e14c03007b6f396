package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationDiagnosisUpdate   NotificationType = "DIAGNOSIS_UPDATE"
	NotificationPermissionGranted NotificationType = "PERMISSION_GRANTED"
	NotificationPermissionRevoked NotificationType = "PERMISSION_REVOKED"
	NotificationAccessRequest     NotificationType = "ACCESS_REQUEST"
)

const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

type NotificationStatus string

const (
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
)

// Notification is a unit of outbound push communication. It lives in the
// dispatcher queue until it reaches a terminal log record.
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	UserID    string            `json:"userId" validate:"required"`
	Type      NotificationType  `json:"type" validate:"required,oneof=DIAGNOSIS_UPDATE PERMISSION_GRANTED PERMISSION_REVOKED ACCESS_REQUEST"`
	Title     string            `json:"title" validate:"required,max=200"`
	Body      string            `json:"body" validate:"required,max=1000"`
	Data      map[string]string `json:"data,omitempty"`
	Priority  string            `json:"priority" validate:"omitempty,oneof=high normal low"`
	Retries   int               `json:"retries"`
	Timestamp time.Time         `json:"timestamp"`
	NextRetry time.Time         `json:"nextRetry,omitempty"`
}

// DeliveryError is the error summary stored on a failed record.
type DeliveryError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NotificationRecord is the terminal log entry of a processed notification.
type NotificationRecord struct {
	Notification
	Status      NotificationStatus `json:"status"`
	MessageID   string             `json:"messageId,omitempty"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty"`
	FailedAt    *time.Time         `json:"failedAt,omitempty"`
	Error       *DeliveryError     `json:"error,omitempty"`
}
