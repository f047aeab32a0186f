package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GOOGLE_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8100", cfg.Server.Addr)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-1.5-flash", cfg.LLM.Model)
	assert.Equal(t, 15*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, DefaultAllowList, cfg.Executor.AllowList)
	assert.Equal(t, []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command"}, cfg.Executor.ShellArgs)
	assert.Equal(t, "whisper-1", cfg.Voice.STTModel)
}

func TestLoad_ProviderKeyFallback(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey)

	t.Setenv("GOOGLE_API_KEY", "google-key")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "google-key", cfg.LLM.APIKey, "GOOGLE_API_KEY takes precedence")
}

func TestLoad_EnvOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ALFRED_LLM_PROVIDER", "OpenAI")
	t.Setenv("ALFRED_EXECUTOR_TIMEOUT", "2s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "sk-test", cfg.Voice.APIKey)
	assert.Equal(t, 2*time.Second, cfg.Executor.Timeout)
}

func TestLoad_File(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "alfred.yaml")
	yaml := `
server:
  addr: ":9000"
database:
  dsn: /tmp/test.db
executor:
  shell: sh
  shell_args: ["-c"]
  allow_list: [echo, ls]
llm:
  provider: openai
  base_url: http://localhost:11434/v1/
  model: llama3.1:8b
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, "sh", cfg.Executor.Shell)
	assert.Equal(t, []string{"-c"}, cfg.Executor.ShellArgs)
	assert.Equal(t, []string{"echo", "ls"}, cfg.Executor.AllowList)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434/v1/", cfg.LLM.BaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.LLM.Provider = "anthropic"
	bad.Database.Driver = "mysql"
	bad.Executor.AllowList = nil
	bad.Executor.Timeout = 0

	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "allow_list")
	assert.Contains(t, err.Error(), "executor.timeout")
}
