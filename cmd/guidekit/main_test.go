package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "ingest", "secrets", "usage", "version"} {
		assert.True(t, names[want], want)
	}

	_, err := execute(t, "ingest")
	assert.Error(t, err, "ingest needs a url")
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(passwordEnv, "correct horse battery staple")

	out, err := execute(t, "--project-dir", dir, "secrets", "set", "OPENAI_API_KEY", "--value", "sk-test")
	require.NoError(t, err)
	assert.Contains(t, out, "saved OPENAI_API_KEY")

	out, err = execute(t, "--project-dir", dir, "secrets", "list")
	require.NoError(t, err)
	assert.Equal(t, "OPENAI_API_KEY\n", out)

	_, err = execute(t, "--project-dir", dir, "secrets", "delete", "OPENAI_API_KEY")
	require.NoError(t, err)
	out, err = execute(t, "--project-dir", dir, "secrets", "list")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	t.Setenv(passwordEnv, "wrong")
	_, err = execute(t, "--project-dir", dir, "secrets", "list")
	assert.Error(t, err)
}

func TestMigrateSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "guidekit.yaml")
	dbPath := filepath.Join(dir, "guidekit.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: sqlite\n  url: "+dbPath+"\n"), 0o600))

	out, err := execute(t, "--project-dir", dir, "--config", cfgPath, "migrate", "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 0 of 1")

	out, err = execute(t, "--project-dir", dir, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "guidekit dev (none, unknown)\n", out)
}
