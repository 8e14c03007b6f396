package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

// Trigger names, usable to disable a trigger.
const (
	NameDiagnosisUpdate      = "diagnosisUpdate"
	NamePermissionGranted    = "permissionGranted"
	NamePermissionRevoked    = "permissionRevoked"
	NameAccessRequestCreated = "accessRequestCreated"
)

// Document paths the triggers watch
const (
	PatternMedicalRecord = "patients/{patientId}/medicalRecords/{recordId}"
	PatternPermission    = "patients/{patientId}/permissions/{doctorId}"
	PatternAccessRequest = "patients/{patientId}/accessRequests/{doctorId}"
)

type Triggers struct {
	store      repository.Store
	dispatcher notification.Dispatcher
	now        func() time.Time
	logger     *logger.Logger
}

func New(store repository.Store, dispatcher notification.Dispatcher, log *logger.Logger) *Triggers {
	if log == nil {
		log = logger.Nop()
	}
	return &Triggers{store: store, dispatcher: dispatcher, now: time.Now, logger: log}
}

// Register wires every trigger into r.
func (t *Triggers) Register(r *Router) {
	r.Register(NameDiagnosisUpdate, PatternMedicalRecord, t.OnDiagnosisUpdate, model.ChangeUpdate)
	r.Register(NamePermissionGranted, PatternPermission, t.OnPermissionGranted, model.ChangeCreate)
	r.Register(NamePermissionRevoked, PatternPermission, t.OnPermissionRevoked, model.ChangeDelete)
	r.Register(NameAccessRequestCreated, PatternAccessRequest, t.OnAccessRequestCreated, model.ChangeCreate)
}

func (t *Triggers) run(name string, change model.DocumentChange, fn func() error) {
	if err := fn(); err != nil {
		t.logger.Error(err, "trigger failed", "trigger", name, "path", change.Path, "change_id", change.ID.String())
	}
}

func params(pattern string, change model.DocumentChange) (map[string]string, error) {
	p, ok := Match(pattern, change.Path)
	if !ok {
		return nil, fmt.Errorf("path %s does not match %s", change.Path, pattern)
	}
	return p, nil
}

func str(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

// OnDiagnosisUpdate notifies the patient when a record's diagnosis changed.
func (t *Triggers) OnDiagnosisUpdate(ctx context.Context, change model.DocumentChange) {
	t.run(NameDiagnosisUpdate, change, func() error {
		if change.After == nil {
			return nil
		}
		before, after := str(change.Before, "diagnosis"), str(change.After, "diagnosis")
		if before == after {
			return nil
		}
		p, err := params(PatternMedicalRecord, change)
		if err != nil {
			return err
		}
		return t.dispatcher.Send(ctx, notification.DiagnosisUpdated(p["patientId"], p["recordId"], after))
	})
}

// OnPermissionGranted notifies the doctor of a new grant. The patient is
// notified by the registry that made the grant.
func (t *Triggers) OnPermissionGranted(ctx context.Context, change model.DocumentChange) {
	t.run(NamePermissionGranted, change, func() error {
		p, err := params(PatternPermission, change)
		if err != nil {
			return err
		}
		patient, err := repository.GetAs[model.Patient](ctx, t.store, model.CollectionPatients, p["patientId"])
		if err != nil {
			return err
		}
		return t.dispatcher.Send(ctx,
			notification.PermissionGrantedToDoctor(p["doctorId"], p["patientId"], patient.DisplayName()))
	})
}

// OnPermissionRevoked notifies the patient whose grant was removed.
func (t *Triggers) OnPermissionRevoked(ctx context.Context, change model.DocumentChange) {
	t.run(NamePermissionRevoked, change, func() error {
		p, err := params(PatternPermission, change)
		if err != nil {
			return err
		}
		name := str(change.Before, "doctorName")
		if name == "" {
			doctor, err := repository.GetAs[model.Doctor](ctx, t.store, model.CollectionDoctors, p["doctorId"])
			if err != nil && !apperrors.IsNotFound(err) {
				return err
			}
			if doctor != nil {
				name = doctor.DisplayName()
			}
		}
		return t.dispatcher.Send(ctx, notification.PermissionRevoked(p["patientId"], p["doctorId"], name))
	})
}

// OnAccessRequestCreated notifies the patient once per request and marks the
// request as notified.
func (t *Triggers) OnAccessRequestCreated(ctx context.Context, change model.DocumentChange) {
	t.run(NameAccessRequestCreated, change, func() error {
		if sent, _ := change.After["notificationSent"].(bool); sent {
			return nil
		}
		p, err := params(PatternAccessRequest, change)
		if err != nil {
			return err
		}
		patientID, doctorID := p["patientId"], p["doctorId"]

		// Redelivered events must not notify twice.
		current, err := repository.GetAs[model.AccessRequest](ctx, t.store, model.AccessRequestsPath(patientID), doctorID)
		if err != nil {
			return err
		}
		if current.NotificationSent {
			return nil
		}

		doctor, err := repository.GetAs[model.Doctor](ctx, t.store, model.CollectionDoctors, doctorID)
		if err != nil {
			return err
		}
		if _, err := t.store.Get(ctx, model.CollectionPatients, patientID); err != nil {
			return err
		}

		n := notification.AccessRequested(patientID, doctorID, doctor.DisplayName(), doctor.Specialization, change.Path)
		if err := t.dispatcher.Send(ctx, n); err != nil {
			return err
		}

		return t.store.Update(ctx, model.AccessRequestsPath(patientID), doctorID, map[string]interface{}{
			"notificationSent":   true,
			"notificationSentAt": t.now().UTC(),
		})
	})
}
