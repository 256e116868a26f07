package templates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLoadFromDisk(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "notify")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transfer.tmpl"), []byte("Hello {{.Name}}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	reg, err := NewRegistry(base)
	require.NoError(t, err)

	assert.True(t, reg.Has("notify/transfer"))
	assert.False(t, reg.Has("notify/README"))

	out, err := reg.Render("notify/transfer", map[string]string{"Name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Alice", out)

	_, err = reg.Render("notify/missing", nil)
	assert.Error(t, err)
}

func TestEmbeddedNotifyTemplates(t *testing.T) {
	reg := Get()

	for _, id := range []string{"notify/transfer", "notify/contract_interaction", "notify/batch_operation"} {
		assert.True(t, reg.Has(id), id)
	}

	data := map[string]any{
		"Emergency": true,
		"RiskLevel": "HIGH",
		"ChainID":   int64(1),
		"Score":     85.25,
		"From":      "0x1111111111111111111111111111111111111111",
		"To":        "0x2222222222222222222222222222222222222222",
		"Value":     decimal.RequireFromString("150000000000000000000"),
		"TxHash":    "0xabc",
		"Points":    []string{"LARGE_TRANSFER", "FREQUENT_TRANSFER"},
		"Summary":   "",
		"EventTime": time.Now().Add(-2 * time.Minute),
	}

	out, err := reg.Render("notify/transfer", data)
	require.NoError(t, err)
	assert.Contains(t, out, "EMERGENCY")
	assert.Contains(t, out, "Value: 150")
	assert.Contains(t, out, "LARGE_TRANSFER, FREQUENT_TRANSFER")
	assert.Contains(t, out, "Score: 85.")
	assert.NotContains(t, out, "Analysis:")
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "150", FormatEther(decimal.RequireFromString("150000000000000000000")))
	assert.Equal(t, "1,234.5", FormatEther(decimal.RequireFromString("1234500000000000000000")))
	assert.Equal(t, "0", FormatEther(decimal.Zero))
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x1234…abcd", ShortAddress("0x1234567890123456789012345678901234abcd"))
	assert.Equal(t, "0x12", ShortAddress("0x12"))
}
