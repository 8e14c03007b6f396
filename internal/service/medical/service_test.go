package medical

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository/memory"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

var (
	patient  = &auth.Principal{UID: "P1", Role: auth.RolePatient}
	other    = &auth.Principal{UID: "P2", Role: auth.RolePatient}
	granted  = &auth.Principal{UID: "D1", Role: auth.RoleDoctor}
	stranger = &auth.Principal{UID: "D2", Role: auth.RoleDoctor}
	admin    = &auth.Principal{UID: "A1", Role: auth.RoleAdmin}
)

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, model.CollectionPatients, "P1", model.Patient{User: model.User{UID: "P1"}}))
	require.NoError(t, store.Set(ctx, model.PermissionsPath("P1"), "D1", model.Permission{DoctorID: "D1", PatientID: "P1"}))
	require.NoError(t, store.Set(ctx, model.MedicalRecordsPath("P1"), "R1", model.MedicalRecord{Diagnosis: "flu"}))
	return NewService(store, nil, nil), store
}

func isForbidden(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Code == apperrors.ErrForbidden
}

func TestReadAccess(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  *auth.Principal
		allowed bool
	}{
		{"own record", patient, true},
		{"other patient", other, false},
		{"doctor with permission", granted, true},
		{"doctor without permission", stranger, false},
		{"admin", admin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := svc.ListRecords(ctx, tt.caller, "P1")
			if !tt.allowed {
				assert.True(t, isForbidden(err))
				return
			}
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "R1", records[0].ID)
			assert.Equal(t, "flu", records[0].Diagnosis)
		})
	}
}

func TestUpdateDiagnosis(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	var changes []model.DocumentChange
	store.OnChange(func(c model.DocumentChange) { changes = append(changes, c) })

	rec, err := svc.UpdateDiagnosis(ctx, granted, "P1", "R1", "bronchitis")
	require.NoError(t, err)
	assert.Equal(t, "bronchitis", rec.Diagnosis)
	assert.Equal(t, "D1", rec.DoctorID)

	got, err := svc.GetRecord(ctx, patient, "P1", "R1")
	require.NoError(t, err)
	assert.Equal(t, "bronchitis", got.Diagnosis)

	require.NotEmpty(t, changes)
	assert.Equal(t, model.MedicalRecordsPath("P1")+"/R1", changes[0].Path)
	assert.Equal(t, model.ChangeUpdate, changes[0].Kind)
	assert.Equal(t, "flu", changes[0].Before["diagnosis"])
	assert.Equal(t, "bronchitis", changes[0].After["diagnosis"])
}

func TestUpdateDiagnosis_Rejections(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.UpdateDiagnosis(ctx, patient, "P1", "R1", "self-diagnosed")
	assert.True(t, isForbidden(err), "patients cannot amend their record")

	_, err = svc.UpdateDiagnosis(ctx, stranger, "P1", "R1", "x")
	assert.True(t, isForbidden(err))

	_, err = svc.UpdateDiagnosis(ctx, granted, "P1", "missing", "x")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreateRecord(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, granted, "P1", "migraine")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	records, err := svc.ListRecords(ctx, admin, "P1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = svc.CreateRecord(ctx, stranger, "P1", "x")
	assert.True(t, isForbidden(err))

	_, err = svc.CreateRecord(ctx, admin, "P9", "x")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAccessLog(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.GetRecord(ctx, granted, "P1", "R1")
	require.NoError(t, err)
	_, err = svc.UpdateDiagnosis(ctx, granted, "P1", "R1", "bronchitis")
	require.NoError(t, err)
	_, err = svc.ListRecords(ctx, stranger, "P1")
	require.Error(t, err)

	logs, err := svc.AccessLog(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, logs, 2, "denied reads are not logged")

	actions := map[string]bool{}
	for _, l := range logs {
		assert.Equal(t, "D1", l.ActorID)
		assert.Equal(t, model.MedicalRecordsPath("P1")+"/R1", l.Resource)
		actions[l.Action] = true
	}
	assert.True(t, actions[model.AuditActionRead])
	assert.True(t, actions[model.AuditActionUpdate])

	_, err = svc.AccessLog(ctx, "P9")
	assert.True(t, apperrors.IsNotFound(err))
}
