package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	sec, ok := c.Schema(KindSecurity)
	require.True(t, ok)
	assert.Equal(t, 7, sec.StaleDays)
	require.Len(t, sec.Required, 4)
	assert.Equal(t, "xType", sec.Required[0].Name)
	assert.False(t, sec.Required[0].HasDefault)

	opt := sec.OptionalColumns("stock")
	require.NotEmpty(t, opt)
	var change Column
	for _, col := range opt {
		if col.Name == "dChange" {
			change = col
		}
	}
	assert.True(t, change.HasDefault)
	assert.Equal(t, "0.0", change.Default)

	assert.Empty(t, sec.OptionalColumns("no-such-type"))

	crnc, ok := c.Schema(KindCurrency)
	require.True(t, ok)
	assert.Equal(t, "rate", crnc.Required[2].Name)

	_, ok = c.Schema("commodity")
	assert.False(t, ok)
}

func TestColumnsOrder(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	sec, _ := c.Schema(KindSecurity)

	cols := sec.Columns("fund")
	require.Len(t, cols, 4+3)
	assert.Equal(t, "xType", cols[0].Name)
	assert.Equal(t, "dt", cols[4].Name)
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	override := `
kind: security
stale_days: 30
required:
  - xType
  - xSymbol
  - dPrice
optional:
  stock:
    - "dChange,1.0"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "security.yaml"), []byte(override), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)

	sec, ok := c.Schema(KindSecurity)
	require.True(t, ok)
	assert.Equal(t, 30, sec.StaleDays)
	assert.Len(t, sec.Required, 3)

	// Other kinds keep their embedded rules.
	_, ok = c.Schema(KindCurrency)
	assert.True(t, ok)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	bad := `
kind: security
stale_dayz: 7
required:
  - xType
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(bad), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateRejectsEmptyRequired(t *testing.T) {
	dir := t.TempDir()
	bad := `
kind: metal
required: []
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metal.yaml"), []byte(bad), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
