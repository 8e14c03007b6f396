package model

import "time"

// Roles
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// User status constants
const (
	UserStatusActive    = "active"
	UserStatusPending   = "pending"
	UserStatusSuspended = "suspended"
	UserStatusInactive  = "inactive"
)

// User is the profile shared by patients and doctors.
type User struct {
	Base
	UID      string `json:"uid"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Status   string `json:"status"`
	// FCMToken is the recipient's registered push token.
	FCMToken        string     `json:"fcmToken,omitempty"`
	LastTokenUpdate *time.Time `json:"lastTokenUpdate,omitempty"`
}

type Doctor struct {
	User
	Specialization     string `json:"specialization"`
	LicenseNumber      string `json:"licenseNumber"`
	WorkExperience     int    `json:"workExperience"`
	Education          string `json:"education"`
	LicenseImageURL    string `json:"licenseImageUrl,omitempty"`
	Approved           bool   `json:"approved"`
	ActivePatientCount int    `json:"activePatientCount"`
}

// IsActive reports whether the doctor may be granted access.
func (d *Doctor) IsActive() bool {
	return d.Status == UserStatusActive
}

// DisplayName prefers the full name, falling back to the uid.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.UID
}

type Patient struct {
	User
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	MedicalConditions []string `json:"medicalConditions"`
	HadSurgeries      bool     `json:"hadSurgeries"`
	Surgeries         []string `json:"surgeries"`
}

// DoctorWithPermission is a doctor row returned by permission lookups.
type DoctorWithPermission struct {
	Doctor
	Permission *Permission `json:"permission"`
}

// PatientWithPermission is a patient row returned by permission lookups.
type PatientWithPermission struct {
	Patient
	Permission *Permission `json:"permission"`
}
