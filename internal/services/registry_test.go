package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry([]byte(`
physicians:
  - id: "12345"
    name: Dr. Joao Silva
  - id: "555"
    name: Dr. Ana Costa
`))
	require.NoError(t, err)

	name, found, err := reg.LookupPhysician(context.Background(), "555")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Dr. Ana Costa", name)

	_, found, err = reg.LookupPhysician(context.Background(), "00555")
	require.NoError(t, err)
	assert.False(t, found, "ids are not normalized")
}

func TestParseRegistry_Invalid(t *testing.T) {
	tests := map[string]string{
		"blank name":   "physicians:\n  - id: \"1\"\n    name: \"\"\n",
		"missing id":   "physicians:\n  - name: Dr. X\n",
		"duplicate id": "physicians:\n  - id: \"1\"\n    name: A\n  - id: \"1\"\n    name: B\n",
		"not yaml":     "physicians: [",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "physicians.yaml")
	require.NoError(t, os.WriteFile(path, []byte("physicians:\n  - id: \"9\"\n    name: Dr. Nine\n"), 0o600))

	reg, err := LoadRegistryFile(path)
	require.NoError(t, err)
	assert.Equal(t, StaticRegistry{"9": "Dr. Nine"}, reg)

	_, err = LoadRegistryFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
