package link

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAssignFirstFree(t *testing.T) {
	r := NewRegistry(3)

	i, err := r.Assign("aa")
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	i, err = r.Assign("bb")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	require.True(t, r.Release("aa"))
	i, err = r.Assign("cc")
	require.NoError(t, err)
	assert.Equal(t, 0, i, "freed slot 0 is reused before slot 2")

	s, ok := r.Lookup("cc")
	require.True(t, ok)
	assert.Equal(t, ModeReport, s.Mode, "new links default to report mode")
}

func TestRegistryRejectsDuplicateAndFull(t *testing.T) {
	r := NewRegistry(2)
	_, err := r.Assign("aa")
	require.NoError(t, err)

	_, err = r.Assign("aa")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = r.Assign("bb")
	require.NoError(t, err)
	assert.False(t, r.HasFree())

	_, err = r.Assign("cc")
	assert.ErrorIs(t, err, ErrRegistryFull)
	assert.Equal(t, 2, r.Active())

	_, err = r.Assign("")
	assert.Error(t, err)
}

func TestRegistryReleaseClearsMode(t *testing.T) {
	r := NewRegistry(1)
	_, _ = r.Assign("aa")
	require.True(t, r.SetMode("aa", ModeBoot))
	require.True(t, r.Release("aa"))
	assert.False(t, r.Release("aa"), "second release reports not found")

	_, _ = r.Assign("bb")
	s, _ := r.Lookup("bb")
	assert.Equal(t, ModeReport, s.Mode)
	assert.False(t, r.SetMode("zz", ModeBoot))
}

func TestRegistryForEachActiveContinuesPastErrors(t *testing.T) {
	r := NewRegistry(3)
	_, _ = r.Assign("aa")
	_, _ = r.Assign("bb")
	_, _ = r.Assign("cc")
	r.Release("bb")

	boom := errors.New("boom")
	var visited []Handle
	err := r.ForEachActive(func(s Slot) error {
		visited = append(visited, s.Handle)
		if s.Handle == "aa" {
			return boom
		}
		return nil
	})

	assert.Equal(t, []Handle{"aa", "cc"}, visited)
	assert.ErrorIs(t, err, boom)
}

func TestNewRegistryDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxConnections, NewRegistry(0).Cap())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "boot", ModeBoot.String())
	assert.Equal(t, "report", ModeReport.String())
	assert.Equal(t, "down", EventDown.String())
}
