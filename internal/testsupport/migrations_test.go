package testsupport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (id INT);

-- only a comment;
CREATE INDEX a_id ON a (id) WHERE id IN (1, 2);
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INT)", strings.TrimSpace(stmts[0]))
	assert.Equal(t, "CREATE INDEX a_id ON a (id) WHERE id IN (1, 2)", strings.TrimSpace(stmts[1]))
}

func TestUpMigrationsAreFound(t *testing.T) {
	for _, engine := range []string{"postgres", "clickhouse"} {
		scripts := upMigrations(t, engine)
		require.NotEmpty(t, scripts, engine)
		assert.Contains(t, scripts[0], "CREATE TABLE IF NOT EXISTS", engine)
	}
}
