package cli

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/execution-hub/dsp-connector/internal/infrastructure/keystore"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "connector", cmd.Use)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "migrate", "keygen", "hash-key"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestKeygenOutputLoadsAsSigningKey(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewKeygenCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		k, v, ok := strings.Cut(line, "=")
		require.True(t, ok)
		values[k] = v
	}
	key, err := keystore.SigningKey(values["SIGNING_KEY"])
	require.NoError(t, err)
	assert.Equal(t, values["PUBLIC_KEY"], hex.EncodeToString(key.Public().(ed25519.PublicKey)))
}

func TestHashKey(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewHashKeyCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--cost", "4", "management-secret"})
	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(buf.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("management-secret")))
}

func TestHashKeyRejectsShortKey(t *testing.T) {
	cmd := NewHashKeyCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"short"})
	assert.Error(t, cmd.Execute())
}

func TestMigrateMemoryBackend(t *testing.T) {
	t.Setenv("CONNECTOR_CONFIG", "")
	t.Setenv("STORE_BACKEND", "memory")

	buf := &bytes.Buffer{}
	cmd := NewMigrateCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "nothing to migrate")
}

func TestMigratePostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("CONNECTOR_CONFIG", "")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	cmd := NewMigrateCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.ErrorContains(t, cmd.Execute(), "DATABASE_URL")
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("CONNECTOR_CONFIG", "")
	t.Setenv("PARTICIPANT_ID", "")

	cmd := NewServeCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.ErrorContains(t, cmd.Execute(), "PARTICIPANT_ID")
}
