package model

import "time"

// Audit actions
const (
	AuditActionRead   = "read"
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
)

// AuditLog is one access to a patient's records, stored under
// patients/{patientId}/auditLogs.
type AuditLog struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId"`
	ActorRole string    `json:"actorRole"`
	PatientID string    `json:"patientId"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Changes   JSONMap   `json:"changes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
