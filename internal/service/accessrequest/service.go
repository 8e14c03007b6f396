// Package accessrequest manages doctors' advisory requests to view a
// patient's record. A request never gates a grant; the patient approves it
// by granting access or denies it by dismissing it.
package accessrequest

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

type Service struct {
	store  repository.Store
	now    func() time.Time
	logger *logger.Logger
}

func NewService(store repository.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, now: time.Now, logger: log}
}

// RequestAccess records doctorID's request. The patient is notified by the
// access-request trigger once the document is committed.
func (s *Service) RequestAccess(ctx context.Context, doctorID, patientID string) (*model.AccessRequest, error) {
	var req *model.AccessRequest
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
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

		if err := absent(ctx, tx, model.PermissionsPath(patientID), doctorID,
			"doctor already has access to this patient"); err != nil {
			return err
		}
		if err := absent(ctx, tx, model.AccessRequestsPath(patientID), doctorID,
			"an access request is already pending"); err != nil {
			return err
		}

		req = &model.AccessRequest{
			DoctorID:    doctorID,
			PatientID:   patientID,
			RequestedAt: s.now().UTC(),
		}
		return tx.Set(ctx, model.AccessRequestsPath(patientID), doctorID, req)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("access requested", "doctor_id", doctorID, "patient_id", patientID)
	return req, nil
}

func absent(ctx context.Context, tx repository.Tx, collection, id, msg string) error {
	_, err := tx.Get(ctx, collection, id)
	if err == nil {
		return apperrors.Conflict(msg)
	}
	if apperrors.IsNotFound(err) {
		return nil
	}
	return err
}

// ListAccessRequests returns the pending requests on patientID's record.
func (s *Service) ListAccessRequests(ctx context.Context, patientID string) ([]*model.AccessRequest, error) {
	if _, err := s.store.Get(ctx, model.CollectionPatients, patientID); err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, model.AccessRequestsPath(patientID))
	if err != nil {
		return nil, err
	}

	out := make([]*model.AccessRequest, 0, len(docs))
	for _, doc := range docs {
		var req model.AccessRequest
		if err := doc.Decode(&req); err != nil {
			return nil, err
		}
		out = append(out, &req)
	}
	return out, nil
}

// DismissAccessRequest deletes a pending request without granting access.
func (s *Service) DismissAccessRequest(ctx context.Context, patientID, doctorID string) error {
	if err := s.store.Delete(ctx, model.AccessRequestsPath(patientID), doctorID); err != nil {
		return err
	}
	s.logger.Info("access request dismissed", "doctor_id", doctorID, "patient_id", patientID)
	return nil
}
