package model

import "time"

type PermissionStatus string

const (
	PermissionStatusActive  PermissionStatus = "active"
	PermissionStatusRevoked PermissionStatus = "revoked"
)

// Permission grants one doctor read access to one patient's records. It is
// stored at patients/{patientId}/permissions/{doctorId}; the document's
// existence is the grant.
type Permission struct {
	DoctorID        string           `json:"doctorId" validate:"required"`
	PatientID       string           `json:"patientId" validate:"required"`
	GrantedAt       time.Time        `json:"grantedAt"`
	LastUpdated     time.Time        `json:"lastUpdated"`
	Status          PermissionStatus `json:"status" validate:"oneof=active revoked"`
	DoctorName      string           `json:"doctorName"`
	DoctorSpecialty string           `json:"doctorSpecialty"`
}

// AccessRequest is a doctor's advisory ask to view a patient's records,
// stored at patients/{patientId}/accessRequests/{doctorId}.
type AccessRequest struct {
	DoctorID           string     `json:"doctorId"`
	PatientID          string     `json:"patientId"`
	RequestedAt        time.Time  `json:"requestedAt"`
	NotificationSent   bool       `json:"notificationSent"`
	NotificationSentAt *time.Time `json:"notificationSentAt,omitempty"`
}

// MedicalRecord is stored at patients/{patientId}/medicalRecords/{recordId}.
// ID is filled from the document address on read.
type MedicalRecord struct {
	ID        string    `json:"id,omitempty"`
	Diagnosis string    `json:"diagnosis"`
	DoctorID  string    `json:"doctorId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
