package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
- id: hammerhead
  codenames: [hammerhead]
  name: Google Nexus 5
  architecture: armeabi-v7a
- id: bullhead
  codenames: [bullhead]
  name: LG Nexus 5X
  architecture: arm64-v8a
- id: klte
  codenames: [klte, kltecan, kltetmo]
  name: Samsung Galaxy S5
`

func TestLoad(t *testing.T) {
	c, err := Load([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, c.All(), 3)

	d, ok := c.Find("bullhead")
	require.True(t, ok)
	assert.Equal(t, "LG Nexus 5X", d.Name)
	assert.Equal(t, "arm64-v8a", d.Architecture)
}

func TestLoadDefaultsArchitecture(t *testing.T) {
	c, err := Load([]byte(sampleCatalog))
	require.NoError(t, err)

	d, ok := c.Find("klte")
	require.True(t, ok)
	assert.Equal(t, ArchArmeabiV7a, d.Architecture)
	assert.Equal(t, []string{"klte", "kltecan", "kltetmo"}, d.Codenames)
}

func TestLoadDefaultsCodenames(t *testing.T) {
	c, err := Load([]byte("- id: shamu\n  name: Motorola Nexus 6\n"))
	require.NoError(t, err)

	d, ok := c.Find("shamu")
	require.True(t, ok)
	assert.Equal(t, []string{"shamu"}, d.Codenames)
}

func TestFindMissing(t *testing.T) {
	c, err := Load([]byte(sampleCatalog))
	require.NoError(t, err)

	_, ok := c.Find("unknown")
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", ":\n:"},
		{"missing id", "- name: Mystery Device\n"},
		{"duplicate id", "- id: hammerhead\n- id: hammerhead\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
