package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5060", cfg.SIP.Server)
	assert.Equal(t, "tcp", cfg.SIP.Transport)
	assert.Equal(t, 3600, cfg.Register.Expires)
	assert.Equal(t, 5*time.Second, cfg.WaitTimeout)
	assert.Equal(t, time.Second, cfg.Load.Hold)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "callgen.yaml", `
sip:
  server: 10.0.0.1:5060
  local: 10.0.0.2:5070
csta:
  server: 10.0.0.1:1040
users:
  - number: "1001"
    password: secret
    keyset: ["1011", "1012"]
  - number: "1002"
register:
  expires: 120
  refresh: 90s
wait_timeout: 3s
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2:5070", cfg.SIP.Local)
	require.Len(t, cfg.Users, 2)
	assert.Equal(t, []string{"1011", "1012"}, cfg.Users[0].Keyset)
	assert.Equal(t, 90*time.Second, cfg.Register.Refresh)
	assert.Equal(t, 3*time.Second, cfg.WaitTimeout)

	user, pass := cfg.Users[1].Credentials()
	assert.Equal(t, "1002", user)
	assert.Equal(t, "1002", pass)

	line, ok := cfg.Number("1012")
	require.True(t, ok)
	_, pass = line.Credentials()
	assert.Equal(t, "secret", pass)
	_, ok = cfg.Number("9999")
	assert.False(t, ok)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CALLGEN_SIP_SERVER", "192.168.1.1:5060")
	t.Setenv("CALLGEN_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1:5060", cfg.SIP.Server)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
sip:
  server: nowhere
  transport: udp
users:
  - number: "1001"
    keyset: ["1001"]
  - password: x
load:
  concurrency: 0
log:
  level: loud
`)
	_, err := Load(path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	assert.Len(t, verr.Problems, 6)
	assert.Contains(t, err.Error(), "sip.server")
	assert.Contains(t, err.Error(), "sip.transport")
	assert.Contains(t, err.Error(), "number 1001 configured twice")
	assert.Contains(t, err.Error(), "users[1] has no number")
	assert.Contains(t, err.Error(), "load.concurrency")
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
