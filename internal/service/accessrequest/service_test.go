package accessrequest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, model.CollectionDoctors, "D1", model.Doctor{
		User: model.User{UID: "D1", Status: model.UserStatusActive},
	}))
	require.NoError(t, store.Set(ctx, model.CollectionDoctors, "D2", model.Doctor{
		User: model.User{UID: "D2", Status: model.UserStatusSuspended},
	}))
	require.NoError(t, store.Set(ctx, model.CollectionPatients, "P1", model.Patient{User: model.User{UID: "P1"}}))
	return NewService(store, nil), store
}

func TestRequestAccess(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	req, err := svc.RequestAccess(ctx, "D1", "P1")
	require.NoError(t, err)
	assert.False(t, req.NotificationSent)
	assert.False(t, req.RequestedAt.IsZero())

	list, err := svc.ListAccessRequests(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "D1", list[0].DoctorID)

	_, err = svc.RequestAccess(ctx, "D1", "P1")
	assert.True(t, apperrors.IsConflict(err), "duplicate pending request")
}

func TestRequestAccess_Rejections(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, model.CollectionDoctors, "D3", model.Doctor{
		User: model.User{UID: "D3", Status: model.UserStatusActive},
	}))
	require.NoError(t, store.Set(ctx, model.PermissionsPath("P1"), "D3", model.Permission{DoctorID: "D3", PatientID: "P1"}))

	_, err := svc.RequestAccess(ctx, "D2", "P1")
	assert.True(t, apperrors.IsConflict(err), "inactive doctor")

	_, err = svc.RequestAccess(ctx, "D3", "P1")
	assert.True(t, apperrors.IsConflict(err), "already granted")

	_, err = svc.RequestAccess(ctx, "D1", "nobody")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.RequestAccess(ctx, "nobody", "P1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDismissAccessRequest(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.RequestAccess(ctx, "D1", "P1")
	require.NoError(t, err)
	require.NoError(t, svc.DismissAccessRequest(ctx, "P1", "D1"))

	list, err := svc.ListAccessRequests(ctx, "P1")
	require.NoError(t, err)
	assert.Empty(t, list)

	err = svc.DismissAccessRequest(ctx, "P1", "D1")
	assert.True(t, apperrors.IsNotFound(err))
}
