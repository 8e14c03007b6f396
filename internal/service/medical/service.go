// Package medical reads and amends patients' medical records on behalf of
// callers the permission registry allows.
package medical

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/internal/service/audit"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

type Service struct {
	store   repository.Store
	auditor *audit.Service
	now     func() time.Time
	logger  *logger.Logger
}

func NewService(store repository.Store, auditor *audit.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if auditor == nil {
		auditor = audit.NewService(store)
	}
	return &Service{store: store, auditor: auditor, now: time.Now, logger: log}
}

// logRead records a read; a failure is logged but does not fail the read.
func (s *Service) logRead(ctx context.Context, caller *auth.Principal, patientID, resource string) {
	if err := s.auditor.Log(ctx, caller, patientID, model.AuditActionRead, resource, nil); err != nil {
		s.logger.Error(err, "failed to write audit entry", "patient_id", patientID, "resource", resource)
	}
}

// authorize lets admins through, lets patients read their own record and
// lets doctors read or amend a record they hold a permission on.
func authorize(ctx context.Context, r repository.Reader, caller *auth.Principal, patientID string, write bool) error {
	switch caller.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RolePatient:
		if caller.UID == patientID && !write {
			return nil
		}
	case auth.RoleDoctor:
		_, err := r.Get(ctx, model.PermissionsPath(patientID), caller.UID)
		if err == nil {
			return nil
		}
		if !apperrors.IsNotFound(err) {
			return err
		}
	}
	return apperrors.Forbidden("no access to this patient's records")
}

func (s *Service) ListRecords(ctx context.Context, caller *auth.Principal, patientID string) ([]*model.MedicalRecord, error) {
	if err := authorize(ctx, s.store, caller, patientID, false); err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, model.MedicalRecordsPath(patientID))
	if err != nil {
		return nil, err
	}

	records := make([]*model.MedicalRecord, 0, len(docs))
	for _, doc := range docs {
		var rec model.MedicalRecord
		if err := doc.Decode(&rec); err != nil {
			return nil, err
		}
		rec.ID = doc.ID
		records = append(records, &rec)
	}
	s.logRead(ctx, caller, patientID, model.MedicalRecordsPath(patientID))
	return records, nil
}

func (s *Service) GetRecord(ctx context.Context, caller *auth.Principal, patientID, recordID string) (*model.MedicalRecord, error) {
	if err := authorize(ctx, s.store, caller, patientID, false); err != nil {
		return nil, err
	}
	rec, err := repository.GetAs[model.MedicalRecord](ctx, s.store, model.MedicalRecordsPath(patientID), recordID)
	if err != nil {
		return nil, err
	}
	rec.ID = recordID
	s.logRead(ctx, caller, patientID, model.MedicalRecordsPath(patientID)+"/"+recordID)
	return rec, nil
}

// CreateRecord opens a new record on patientID with an initial diagnosis.
func (s *Service) CreateRecord(ctx context.Context, caller *auth.Principal, patientID, diagnosis string) (*model.MedicalRecord, error) {
	id := uuid.NewString()
	rec := &model.MedicalRecord{Diagnosis: diagnosis, DoctorID: caller.UID, UpdatedAt: s.now().UTC()}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := authorize(ctx, tx, caller, patientID, true); err != nil {
			return err
		}
		if _, err := tx.Get(ctx, model.CollectionPatients, patientID); err != nil {
			return err
		}
		if err := tx.Set(ctx, model.MedicalRecordsPath(patientID), id, rec); err != nil {
			return err
		}
		return s.auditor.LogTx(ctx, tx, caller, patientID, model.AuditActionCreate,
			model.MedicalRecordsPath(patientID)+"/"+id, &audit.LogOptions{
				Changes: map[string]interface{}{"diagnosis": diagnosis},
			})
	})
	if err != nil {
		return nil, err
	}

	rec.ID = id
	s.logger.Info("medical record created", "patient_id", patientID, "record_id", id, "by", caller.UID)
	return rec, nil
}

// UpdateDiagnosis amends a record's diagnosis. The patient hears about it
// from the diagnosis trigger once the write commits.
func (s *Service) UpdateDiagnosis(ctx context.Context, caller *auth.Principal, patientID, recordID, diagnosis string) (*model.MedicalRecord, error) {
	var rec *model.MedicalRecord
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := authorize(ctx, tx, caller, patientID, true); err != nil {
			return err
		}
		current, err := repository.GetAs[model.MedicalRecord](ctx, tx, model.MedicalRecordsPath(patientID), recordID)
		if err != nil {
			return err
		}

		previous := current.Diagnosis
		current.Diagnosis = diagnosis
		current.DoctorID = caller.UID
		current.UpdatedAt = s.now().UTC()
		rec = current
		if err := tx.Update(ctx, model.MedicalRecordsPath(patientID), recordID, map[string]interface{}{
			"diagnosis": current.Diagnosis,
			"doctorId":  current.DoctorID,
			"updatedAt": current.UpdatedAt,
		}); err != nil {
			return err
		}
		return s.auditor.LogTx(ctx, tx, caller, patientID, model.AuditActionUpdate,
			model.MedicalRecordsPath(patientID)+"/"+recordID, &audit.LogOptions{
				Changes: map[string]interface{}{"diagnosis": map[string]interface{}{"from": previous, "to": diagnosis}},
			})
	})
	if err != nil {
		return nil, err
	}

	rec.ID = recordID
	s.logger.Info("diagnosis updated", "patient_id", patientID, "record_id", recordID, "by", caller.UID)
	return rec, nil
}

// AccessLog returns who read or amended patientID's records.
func (s *Service) AccessLog(ctx context.Context, patientID string) ([]*model.AuditLog, error) {
	if _, err := s.store.Get(ctx, model.CollectionPatients, patientID); err != nil {
		return nil, err
	}
	return s.auditor.List(ctx, patientID)
}
