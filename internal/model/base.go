package model

import (
	"time"
)

// Collection names in the document store
const (
	CollectionUsers               = "users"
	CollectionPatients            = "patients"
	CollectionDoctors             = "doctors"
	CollectionPermissions         = "permissions"
	CollectionMedicalRecords      = "medicalRecords"
	CollectionAccessRequests      = "accessRequests"
	CollectionAuditLogs           = "auditLogs"
	CollectionNotifications       = "notifications"
	CollectionFailedNotifications = "failedNotifications"
)

// Base contains common fields for all stored profiles
type Base struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}

// PermissionsPath is the sub-collection holding a patient's grants.
func PermissionsPath(patientID string) string {
	return CollectionPatients + "/" + patientID + "/" + CollectionPermissions
}

// AccessRequestsPath is the sub-collection holding doctors' pending requests.
func AccessRequestsPath(patientID string) string {
	return CollectionPatients + "/" + patientID + "/" + CollectionAccessRequests
}

// MedicalRecordsPath is the sub-collection holding a patient's records.
func MedicalRecordsPath(patientID string) string {
	return CollectionPatients + "/" + patientID + "/" + CollectionMedicalRecords
}

// AuditLogsPath is the sub-collection recording who touched a patient's records.
func AuditLogsPath(patientID string) string {
	return CollectionPatients + "/" + patientID + "/" + CollectionAuditLogs
}
