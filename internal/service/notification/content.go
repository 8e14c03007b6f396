package notification

import (
	"fmt"

	"github.com/jwalitptl/medaccess-api/internal/model"
)

func orUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

// DiagnosisUpdated tells a patient that a record's diagnosis changed.
func DiagnosisUpdated(patientID, recordID, diagnosis string) *model.Notification {
	return &model.Notification{
		UserID: patientID,
		Type:   model.NotificationDiagnosisUpdate,
		Title:  "Diagnosis update",
		Body:   "Your medical diagnosis has been updated. Please review it.",
		Data: map[string]string{
			"type":      string(model.NotificationDiagnosisUpdate),
			"patientId": patientID,
			"recordId":  recordID,
			"diagnosis": diagnosis,
		},
		Priority: model.PriorityHigh,
	}
}

// PermissionGranted tells a patient which doctor can now read their record.
func PermissionGranted(patientID, doctorID, doctorName string) *model.Notification {
	return &model.Notification{
		UserID: patientID,
		Type:   model.NotificationPermissionGranted,
		Title:  "New access granted",
		Body:   fmt.Sprintf("Dr. %s has been granted access to your medical record", orUnknown(doctorName)),
		Data: map[string]string{
			"type":       string(model.NotificationPermissionGranted),
			"patientId":  patientID,
			"doctorId":   doctorID,
			"doctorName": doctorName,
		},
		Priority: model.PriorityHigh,
	}
}

// PermissionGrantedToDoctor tells a doctor which patient record they can now read.
func PermissionGrantedToDoctor(doctorID, patientID, patientName string) *model.Notification {
	return &model.Notification{
		UserID: doctorID,
		Type:   model.NotificationPermissionGranted,
		Title:  "New access granted",
		Body:   fmt.Sprintf("You have been granted access to the medical record of %s", orUnknown(patientName)),
		Data: map[string]string{
			"type":      string(model.NotificationPermissionGranted),
			"patientId": patientID,
			"doctorId":  doctorID,
		},
		Priority: model.PriorityHigh,
	}
}

// PermissionRevoked tells a patient whose access was removed.
func PermissionRevoked(patientID, doctorID, doctorName string) *model.Notification {
	return &model.Notification{
		UserID: patientID,
		Type:   model.NotificationPermissionRevoked,
		Title:  "Access revoked",
		Body:   fmt.Sprintf("Dr. %s no longer has access to your medical record", orUnknown(doctorName)),
		Data: map[string]string{
			"type":       string(model.NotificationPermissionRevoked),
			"patientId":  patientID,
			"doctorId":   doctorID,
			"doctorName": doctorName,
		},
		Priority: model.PriorityHigh,
	}
}

// AccessRequested tells a patient that a doctor asked to see their record.
func AccessRequested(patientID, doctorID, doctorName, specialization, requestID string) *model.Notification {
	return &model.Notification{
		UserID: patientID,
		Type:   model.NotificationAccessRequest,
		Title:  "New access request",
		Body:   fmt.Sprintf("Dr. %s (%s) is requesting access to your medical record", orUnknown(doctorName), orUnknown(specialization)),
		Data: map[string]string{
			"type":                 string(model.NotificationAccessRequest),
			"patientId":            patientID,
			"doctorId":             doctorID,
			"doctorName":           doctorName,
			"doctorSpecialization": specialization,
			"requestId":            requestID,
		},
		Priority: model.PriorityHigh,
	}
}
