package postgres

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalString(t *testing.T) {
	assert.Nil(t, optionalString("   "))
	require.NotNil(t, optionalString(" timeout "))
	assert.Equal(t, "timeout", *optionalString(" timeout "))
	assert.Equal(t, "", derefString(nil))
}

func TestPayloadJSON(t *testing.T) {
	raw, err := marshalPayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)

	raw, err = marshalPayload(map[string]any{"cycles": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cycles":3}`, raw)

	assert.Equal(t, float64(3), unmarshalPayload(raw)["cycles"])
	assert.Nil(t, unmarshalPayload(""))
	assert.Nil(t, unmarshalPayload("not json"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(sql.ErrNoRows))
	assert.False(t, isNotFound(sql.ErrConnDone))
}
