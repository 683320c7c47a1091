package providers

import (
	"testing"

	"github.com/riskibarqy/statharvest/external/providers/courtside"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{"courtside", "hoopsref"}, r.SourceIDs())

	a, err := r.Get("hoopsref")
	require.NoError(t, err)
	assert.Equal(t, "hoopsref", a.SourceID())

	_, err = r.Get("unknown")
	assert.Error(t, err)
}

func TestRegistry_RegisterMirror(t *testing.T) {
	r := Default()
	r.Register(courtside.NewAdapterForSource("courtside_mirror"))

	a, err := r.Get("courtside_mirror")
	require.NoError(t, err)
	assert.Len(t, a.Formats(), 2)
}
