package testsupport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickHouseHelper(t *testing.T) {
	helper := NewTestClickHouse(t)
	ctx := context.Background()

	var exists uint8
	require.NoError(t, helper.Client().Conn().QueryRow(ctx, "EXISTS TABLE risk_reports").Scan(&exists))
	assert.Equal(t, uint8(1), exists)

	table := helper.CreateTempTable(t, "id UInt64, value String")
	require.NoError(t, helper.Client().Exec(ctx, "INSERT INTO "+table+" (id, value) VALUES (1, 'abc')"))

	var count uint64
	require.NoError(t, helper.Client().Conn().QueryRow(ctx, "SELECT count() FROM "+table).Scan(&count))
	assert.Equal(t, uint64(1), count)

	require.NoError(t, helper.CleanupTable(ctx, table))
	require.NoError(t, helper.Client().Conn().QueryRow(ctx, "EXISTS TABLE "+table).Scan(&exists))
	assert.Zero(t, exists)
}
