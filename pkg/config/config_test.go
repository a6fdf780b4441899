package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyStoreYieldsDefaults(t *testing.T) {
	var m MemStore
	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	var m MemStore
	require.NoError(t, m.Save(Settings{UIVariant: true}))
	s, err := m.Load()
	require.NoError(t, err)
	assert.True(t, s.UIVariant)
}

func TestDecodeRejectsBadRecords(t *testing.T) {
	_, err := Decode([]byte{1})
	assert.Error(t, err, "truncated")

	bad := Encode(Settings{})
	bad[0] = 99
	_, err = Decode(bad)
	assert.Error(t, err, "unknown version")
}

type fakeVars struct{ vars map[string][]byte }

func (f *fakeVars) GetVariable(name string) ([]byte, error) { return f.vars[name], nil }
func (f *fakeVars) SetVariable(name string, data []byte) error {
	f.vars[name] = data
	return nil
}

func TestVarStore(t *testing.T) {
	backend := &fakeVars{vars: map[string][]byte{}}
	store := VarStore{Backend: backend}

	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s, "never-set variable reads as defaults")

	require.NoError(t, store.Save(Settings{UIVariant: true}))
	s, err = store.Load()
	require.NoError(t, err)
	assert.True(t, s.UIVariant)
}
