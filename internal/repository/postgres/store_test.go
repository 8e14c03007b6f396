package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medaccess-api/internal/repository"
)

func TestBuildQuery(t *testing.T) {
	query, args, err := BuildQuery("patients/P1/permissions", []repository.Condition{
		repository.Where("status", repository.OpEqual, "active"),
		repository.Where("activePatientCount", repository.OpGreaterEqual, 2),
		repository.Where("approved", repository.OpEqual, true),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, data FROM documents WHERE collection = $1"+
			" AND (data->>$2) = $3"+
			" AND (data->>$4)::numeric >= $5"+
			" AND (data->>$6)::boolean = $7"+
			" ORDER BY id",
		query)
	assert.Equal(t, []interface{}{"patients/P1/permissions", "status", "active", "activePatientCount", 2, "approved", true}, args)
}

func TestBuildQuery_NoConditions(t *testing.T) {
	query, args, err := BuildQuery("patients", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, data FROM documents WHERE collection = $1 ORDER BY id", query)
	assert.Equal(t, []interface{}{"patients"}, args)
}

func TestBuildQuery_Rejects(t *testing.T) {
	_, _, err := BuildQuery("patients", []repository.Condition{repository.Where("age", "!=", 3)})
	assert.Error(t, err)

	_, _, err = BuildQuery("patients", []repository.Condition{repository.Where("tags", repository.OpEqual, []string{"a"})})
	assert.Error(t, err)
}
