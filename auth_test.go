package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/tokenfile"
)

func TestTokenPath_EnvWins(t *testing.T) {
	t.Setenv(config.EnvTokenFile, "/run/secrets/token.json")

	path, err := tokenPath(CLIFlags{ConfigPath: "/does/not/matter.toml"})
	require.NoError(t, err)
	assert.Equal(t, "/run/secrets/token.json", path)
}

func TestTokenPath_FromConfig(t *testing.T) {
	t.Setenv(config.EnvTokenFile, "")

	want := filepath.Join(t.TempDir(), "creds.json")
	cfgPath := writeConfigFile(t, testConfigTOML+"\n[auth]\ntoken_file = \""+filepath.ToSlash(want)+"\"\n")

	path, err := tokenPath(CLIFlags{ConfigPath: cfgPath})
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(want), filepath.ToSlash(path))
}

func TestTokenPath_DefaultWithoutConfig(t *testing.T) {
	t.Setenv(config.EnvTokenFile, "")

	path, err := tokenPath(CLIFlags{ConfigPath: filepath.Join(t.TempDir(), "none.toml")})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().TokenFilePath(), path)
}

func TestTokenPath_BrokenConfig(t *testing.T) {
	t.Setenv(config.EnvTokenFile, "")

	_, err := tokenPath(CLIFlags{ConfigPath: writeConfigFile(t, "[destination\n")})
	assert.Error(t, err)
}

func TestAuthImport_FromFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "state", "token.json")
	t.Setenv(config.EnvTokenFile, dest)

	src := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"cookies":{"FedAuth":"f","rtFa":"r"}}`), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--quiet", "auth", "import", src})
	require.NoError(t, cmd.Execute())

	tf, err := tokenfile.Load(dest)
	require.NoError(t, err)
	require.NotNil(t, tf)
	assert.Equal(t, "f", tf.Cookies["FedAuth"])
}

func TestAuthImport_FromStdin(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "token.json")
	t.Setenv(config.EnvTokenFile, dest)

	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(`{"token":{"access_token":"abc","token_type":"Bearer"}}`))
	cmd.SetArgs([]string{"--quiet", "auth", "import", "-"})
	require.NoError(t, cmd.Execute())

	tf, err := tokenfile.Load(dest)
	require.NoError(t, err)
	require.NotNil(t, tf.Token)
	assert.Equal(t, "abc", tf.Token.AccessToken)
}

func TestAuthImport_RejectsEmpty(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "token.json")
	t.Setenv(config.EnvTokenFile, dest)

	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(`{}`))
	cmd.SetArgs([]string{"--quiet", "auth", "import", "-"})

	err := cmd.Execute()
	require.ErrorIs(t, err, tokenfile.ErrEmpty)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrintAuthStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		st   authStatus
		want []string
	}{
		{
			name: "missing",
			st:   authStatus{Path: "/tmp/token.json"},
			want: []string{"No credentials at /tmp/token.json"},
		},
		{
			name: "cookies only",
			st:   authStatus{Path: "/tmp/t.json", Present: true, Cookies: []string{"FedAuth", "rtFa"}},
			want: []string{"token:   none", "cookies: 2 (FedAuth, rtFa)"},
		},
		{
			name: "valid token",
			st:   authStatus{Path: "/tmp/t.json", Present: true, HasToken: true, TokenExpiry: &future},
			want: []string{"valid until", "cookies: none"},
		},
		{
			name: "expired token",
			st:   authStatus{Path: "/tmp/t.json", Present: true, HasToken: true, TokenExpiry: &past},
			want: []string{"expired"},
		},
		{
			name: "token without expiry",
			st:   authStatus{Path: "/tmp/t.json", Present: true, HasToken: true},
			want: []string{"present, no expiry"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			printAuthStatus(&buf, &tc.st, now)

			for _, w := range tc.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
