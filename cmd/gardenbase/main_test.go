package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablesCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"tables"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "name: sensorReading")

	out.Reset()
	rootCmd.SetArgs([]string{"tables", "--sql", "--driver", "sqlite3"})
	require.NoError(t, rootCmd.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], `CREATE TABLE IF NOT EXISTS "main"."user"`), lines[0])

	rootCmd.SetArgs([]string{"tables", "--sql", "--driver", "mysql"})
	assert.Error(t, rootCmd.Execute())
}

func TestDistributeCommand(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("SQLITE_PATH", t.TempDir()+"/garden.db")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"distribute"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "sent 0, retried 0, failed 0, deferred 0, errors 0\n", out.String())
}
