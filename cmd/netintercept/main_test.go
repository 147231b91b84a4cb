package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"netintercept/internal/config"
	"netintercept/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "targets", "journal"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestJournalFilter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	f, err := (&journalOptions{Limit: 5, Since: time.Hour, MockedOnly: true}).filter(now)
	require.NoError(t, err)
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, now.Add(-time.Hour), f.Since)
	require.NotNil(t, f.Mocked)
	assert.True(t, *f.Mocked)

	f, err = (&journalOptions{NetworkOnly: true}).filter(now)
	require.NoError(t, err)
	require.NotNil(t, f.Mocked)
	assert.False(t, *f.Mocked)
	assert.True(t, f.Since.IsZero())

	_, err = (&journalOptions{MockedOnly: true, NetworkOnly: true}).filter(now)
	assert.Error(t, err)
}

func TestJournalCommandPrintsExchanges(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "journal.sqlite3")
	j, err := storage.Open(storage.Config{DSN: dsn, Prefix: config.NewConfig().Sqlite.Prefix})
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), &storage.Exchange{
		RequestID: "a", Source: "cdp.fetch", Method: "GET", URL: "https://test.example/", Status: 301, Mocked: true,
	}))
	require.NoError(t, j.Record(context.Background(), &storage.Exchange{
		RequestID: "b", Source: "cdp.fetch", Method: "GET", URL: "https://real.example/", Status: 200,
	}))
	require.NoError(t, j.Close())

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"journal", "--db", dsn, "--mocked"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "TIME"))
	assert.Contains(t, lines[1], "https://test.example/")
	assert.Contains(t, lines[1], "301")
}
