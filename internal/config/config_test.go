package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coachflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Templates.Driver)
	assert.Equal(t, 30*time.Second, cfg.Locking.TTL)
	assert.Equal(t, 12, cfg.Workflow.MaxTurns)
	assert.Equal(t, 3, cfg.Workflow.MinCandidates)
	assert.Equal(t, 10, cfg.Workflow.TargetCandidates)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: redis
  ttl: 24h
  redis:
    addr: redis:6379
templates:
  driver: loam
  dir: ./prompts
providers:
  default: claude
  list:
    - name: claude
      kind: anthropic
      priority: 1
      default_model: claude-haiku-4-5
      api_key_env: ANTHROPIC_API_KEY
      models:
        claude-haiku-4-5:
          input_per_mtok: 1
          output_per_mtok: 5
    - name: offline
      kind: scripted
      priority: 9
workflow:
  max_turns: 6
locking:
  distributed: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "./prompts", cfg.Templates.Dir)
	require.Len(t, cfg.Providers.List, 2)
	assert.Equal(t, 5.0, cfg.Providers.List[0].Models["claude-haiku-4-5"].OutputPerMTok)
	assert.Equal(t, 6, cfg.Workflow.MaxTurns)
	assert.Equal(t, 3, cfg.Workflow.MinCandidates, "unset fields keep defaults")

	nc := cfg.NodeConfig()
	assert.Equal(t, 6, nc.Policy.MaxTurns)
	assert.Equal(t, "claude", nc.ProviderHint)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COACHFLOW_HTTP_ADDR", ":9999")
	t.Setenv("COACHFLOW_WORKFLOW_MAX_TURNS", "4")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 4, cfg.Workflow.MaxTurns)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: sqlite
templates:
  driver: s3
providers:
  default: ghost
  list:
    - name: a
      kind: openai
    - name: a
      kind: bard
locking:
  distributed: true
`)
	_, err := Load(path)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "found 7 errors")
	assert.Contains(t, msg, "store.dsn is required")
	assert.Contains(t, msg, "templates.driver \"s3\"")
	assert.Contains(t, msg, "api_key_env is required")
	assert.Contains(t, msg, "duplicate name \"a\"")
	assert.Contains(t, msg, "unknown kind \"bard\"")
	assert.Contains(t, msg, "providers.default \"ghost\"")
	assert.Contains(t, msg, "locking.distributed requires")
}
