package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/errors"
)

type stubDestination struct {
	*base.Destination
}

func (d *stubDestination) Configure(cfg *config.DestinationConfig) error { return nil }

func newStub(typeName string) Factory {
	return func() core.Destination {
		return &stubDestination{Destination: base.New(typeName)}
	}
}

func TestRegisterAndCreate(t *testing.T) {
	require.NoError(t, Register("stub-a", "test stub", newStub("stub-a")))

	dest, err := Create("stub-a")
	require.NoError(t, err)
	assert.Equal(t, "stub-a", dest.Type())
	assert.False(t, dest.Configured())

	assert.True(t, Has("stub-a"))
	assert.Contains(t, List(), "stub-a")
}

func TestRegister_Duplicate(t *testing.T) {
	require.NoError(t, Register("stub-dup", "test stub", newStub("stub-dup")))

	err := Register("stub-dup", "test stub", newStub("stub-dup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestCreate_UnknownType(t *testing.T) {
	_, err := Create("no-such-type")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownType))
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	MustRegister("stub-panic", "test stub", newStub("stub-panic"))
	assert.Panics(t, func() {
		MustRegister("stub-panic", "test stub", newStub("stub-panic"))
	})
}

func TestDescribe(t *testing.T) {
	require.NoError(t, Register("stub-desc", "described stub", newStub("stub-desc")))

	var found bool
	for _, info := range Describe() {
		if info.Type == "stub-desc" {
			found = true
			assert.Equal(t, "described stub", info.Description)
		}
	}
	assert.True(t, found)
}
