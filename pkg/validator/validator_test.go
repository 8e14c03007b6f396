package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

type grantRequest struct {
	PatientID string `json:"patientId" validate:"required"`
	Priority  string `json:"priority" validate:"omitempty,oneof=high normal"`
}

func TestValidate(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(grantRequest{PatientID: "P1"}))

	err := v.Validate(grantRequest{Priority: "urgent"})
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "patientId (required)")
	assert.Contains(t, err.Error(), "priority (oneof)")
}

func TestValidate_NonStruct(t *testing.T) {
	err := New().Validate("not a struct")
	assert.True(t, apperrors.IsValidation(err))
}
