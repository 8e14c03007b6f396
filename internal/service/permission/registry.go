// Package permission owns the doctor-to-patient access grants.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
)

const fieldActivePatientCount = "activePatientCount"

// Registry grants and revokes access. The permission document and the
// doctor's activePatientCount are always written in one transaction.
type Registry struct {
	store      repository.Store
	dispatcher notification.Dispatcher
	now        func() time.Time
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewRegistry(store repository.Store, dispatcher notification.Dispatcher, log *logger.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewMetrics("medaccess", nil)
	}
	return &Registry{
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     log,
		metrics:    m,
	}
}

// GrantAccess lets doctorID read patientID's record. A second grant for the
// same pair is a Conflict and leaves the counter alone.
func (r *Registry) GrantAccess(ctx context.Context, patientID, doctorID string) (*model.Permission, error) {
	var perm *model.Permission
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		doctor, err := repository.GetAs[model.Doctor](ctx, tx, model.CollectionDoctors, doctorID)
		if err != nil {
			return err
		}
		if !doctor.IsActive() {
			return apperrors.Conflict(fmt.Sprintf("doctor %s is not active", doctorID))
		}
		if _, err := tx.Get(ctx, model.CollectionPatients, patientID); err != nil {
			return err
		}

		permissions := model.PermissionsPath(patientID)
		_, err = tx.Get(ctx, permissions, doctorID)
		if err == nil {
			return apperrors.Conflict(fmt.Sprintf("doctor %s already has access to patient %s", doctorID, patientID))
		}
		if !apperrors.IsNotFound(err) {
			return err
		}

		now := r.now().UTC()
		perm = &model.Permission{
			DoctorID:        doctorID,
			PatientID:       patientID,
			GrantedAt:       now,
			LastUpdated:     now,
			Status:          model.PermissionStatusActive,
			DoctorName:      doctor.DisplayName(),
			DoctorSpecialty: doctor.Specialization,
		}
		if err := tx.Set(ctx, permissions, doctorID, perm); err != nil {
			return err
		}
		if err := tx.Update(ctx, model.CollectionDoctors, doctorID, map[string]interface{}{
			fieldActivePatientCount: doctor.ActivePatientCount + 1,
			"updatedAt":             now,
		}); err != nil {
			return err
		}

		// An approved request is no longer pending.
		err = tx.Delete(ctx, model.AccessRequestsPath(patientID), doctorID)
		if err != nil && !apperrors.IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.PermissionGrants.Inc()
	r.logger.Info("access granted", "patient_id", patientID, "doctor_id", doctorID)
	r.notify(ctx, notification.PermissionGranted(patientID, doctorID, perm.DoctorName))
	return perm, nil
}

// RevokeAccess removes doctorID's access to patientID's record. The doctor's
// counter never drops below zero. The doctor is read before the permission,
// matching the lock order of GrantAccess.
func (r *Registry) RevokeAccess(ctx context.Context, patientID, doctorID string) error {
	var doctorName string
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		doctor, err := repository.GetAs[model.Doctor](ctx, tx, model.CollectionDoctors, doctorID)
		if err != nil && !apperrors.IsNotFound(err) {
			return err
		}

		permissions := model.PermissionsPath(patientID)
		perm, permErr := repository.GetAs[model.Permission](ctx, tx, permissions, doctorID)
		if permErr != nil {
			return permErr
		}
		doctorName = perm.DoctorName

		if doctor == nil {
			r.logger.Warn("revoking access of a missing doctor", "doctor_id", doctorID, "patient_id", patientID)
		} else {
			if doctorName == "" {
				doctorName = doctor.DisplayName()
			}
			count := doctor.ActivePatientCount - 1
			if count < 0 {
				count = 0
			}
			if err := tx.Update(ctx, model.CollectionDoctors, doctorID, map[string]interface{}{
				fieldActivePatientCount: count,
				"updatedAt":             r.now().UTC(),
			}); err != nil {
				return err
			}
		}

		return tx.Delete(ctx, permissions, doctorID)
	})
	if err != nil {
		return err
	}

	r.metrics.PermissionRevokes.Inc()
	r.logger.Info("access revoked", "patient_id", patientID, "doctor_id", doctorID)
	r.notify(ctx, notification.PermissionRevoked(patientID, doctorID, doctorName))
	return nil
}

// HasAccess reports whether doctorID may read patientID's record.
func (r *Registry) HasAccess(ctx context.Context, patientID, doctorID string) (bool, error) {
	_, err := r.store.Get(ctx, model.PermissionsPath(patientID), doctorID)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// ListDoctorsForPatient returns the doctors holding a permission on patientID.
func (r *Registry) ListDoctorsForPatient(ctx context.Context, patientID string) ([]*model.DoctorWithPermission, error) {
	if _, err := r.store.Get(ctx, model.CollectionPatients, patientID); err != nil {
		return nil, err
	}
	docs, err := r.store.Query(ctx, model.PermissionsPath(patientID))
	if err != nil {
		return nil, err
	}

	out := make([]*model.DoctorWithPermission, 0, len(docs))
	for _, doc := range docs {
		var perm model.Permission
		if err := doc.Decode(&perm); err != nil {
			return nil, err
		}
		doctor, err := repository.GetAs[model.Doctor](ctx, r.store, model.CollectionDoctors, doc.ID)
		if apperrors.IsNotFound(err) {
			r.logger.Warn("permission references a missing doctor", "doctor_id", doc.ID, "patient_id", patientID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &model.DoctorWithPermission{Doctor: *doctor, Permission: &perm})
	}
	return out, nil
}

// ListPatientsForDoctor checks every patient for a permission held by
// doctorID. The scan is linear in the number of patients.
func (r *Registry) ListPatientsForDoctor(ctx context.Context, doctorID string) ([]*model.PatientWithPermission, error) {
	if _, err := r.store.Get(ctx, model.CollectionDoctors, doctorID); err != nil {
		return nil, err
	}
	patients, err := r.store.Query(ctx, model.CollectionPatients)
	if err != nil {
		return nil, err
	}

	out := make([]*model.PatientWithPermission, 0)
	for _, doc := range patients {
		perm, err := repository.GetAs[model.Permission](ctx, r.store, model.PermissionsPath(doc.ID), doctorID)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var patient model.Patient
		if err := doc.Decode(&patient); err != nil {
			return nil, err
		}
		out = append(out, &model.PatientWithPermission{Patient: patient, Permission: perm})
	}
	return out, nil
}

// uncached is the store without any cache wrapper around it.
func (r *Registry) uncached() repository.Store {
	if u, ok := r.store.(interface{ Unwrap() repository.Store }); ok {
		return u.Unwrap()
	}
	return r.store
}

// ReconcileCounts recomputes activePatientCount for every doctor from the
// permission documents and rewrites the ones that drifted. It returns the
// number of doctors corrected. Reads skip the cache; repairs go through it
// so cached copies are invalidated.
func (r *Registry) ReconcileCounts(ctx context.Context) (int, error) {
	source := r.uncached()
	patients, err := source.Query(ctx, model.CollectionPatients)
	if err != nil {
		return 0, err
	}
	counts := make(map[string]int)
	for _, p := range patients {
		perms, err := source.Query(ctx, model.PermissionsPath(p.ID))
		if err != nil {
			return 0, err
		}
		for _, perm := range perms {
			counts[perm.ID]++
		}
	}

	doctors, err := source.Query(ctx, model.CollectionDoctors)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, d := range doctors {
		var doctor model.Doctor
		if err := d.Decode(&doctor); err != nil {
			return fixed, err
		}
		want := counts[d.ID]
		if doctor.ActivePatientCount == want {
			continue
		}
		if err := r.store.Update(ctx, model.CollectionDoctors, d.ID, map[string]interface{}{
			fieldActivePatientCount: want,
			"updatedAt":             r.now().UTC(),
		}); err != nil {
			return fixed, err
		}
		r.logger.Warn("repaired doctor patient count",
			"doctor_id", d.ID, "stored", doctor.ActivePatientCount, "actual", want)
		r.metrics.CounterRepairs.Inc()
		fixed++
	}
	return fixed, nil
}

// notify hands n to the dispatcher. Dispatch problems never fail the
// registry operation that caused them.
func (r *Registry) notify(ctx context.Context, n *model.Notification) {
	if r.dispatcher == nil {
		return
	}
	if err := r.dispatcher.Send(ctx, n); err != nil {
		r.logger.Error(err, "Failed to dispatch notification", "user_id", n.UserID, "type", string(n.Type))
	}
}
