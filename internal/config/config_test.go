package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"all"}, cfg.Run.Sources)
	assert.Equal(t, 3, cfg.Run.Retries)
	assert.Equal(t, 20*time.Second, cfg.Run.Timeout)
	assert.InDelta(t, 0.2, cfg.Run.MismatchThreshold, 1e-9)
	assert.False(t, cfg.Run.FailFast)
	assert.Equal(t, DefaultUserAgent, cfg.Fetch.UserAgent)
	assert.True(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, 60*time.Second, cfg.Fetch.ThrottleBackoff)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "https://www.openloto.cl/pozo-del-loto.html", cfg.Sources.OpenLotoURL)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
run:
  sources: ["t13", "24h"]
  source_overrides:
    t13: https://www.t13.cl/noticia/loto-5322
  retries: 5
  timeout: 45s
  deadline: 2m
  fail_fast: true
  mismatch_threshold: 0.5
  include_pozos: true
fetch:
  respect_robots: false
  domain_qps: 2
storage:
  backend: gcs
  gcs_bucket: polla-raw
pubsub:
  project_id: proj
  topic_name: polla-runs
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"t13", "24h"}, cfg.Run.Sources)
	assert.Equal(t, "https://www.t13.cl/noticia/loto-5322", cfg.Run.SourceOverrides["t13"])
	assert.Equal(t, 5, cfg.Run.Retries)
	assert.Equal(t, 45*time.Second, cfg.Run.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Run.Deadline)
	assert.True(t, cfg.Run.FailFast)
	assert.True(t, cfg.Run.IncludePozos)
	assert.False(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, "polla-raw", cfg.Storage.GCSBucket)
	assert.Equal(t, "polla-runs", cfg.PubSub.TopicName)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLLA_RUN_RETRIES", "7")
	t.Setenv("POLLA_RUN_MISMATCH_THRESHOLD", "0.4")
	t.Setenv("POLLA_SERVER_PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Run.Retries)
	assert.InDelta(t, 0.4, cfg.Run.MismatchThreshold, 1e-9)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no sources", mutate: func(c *Config) { c.Run.Sources = nil }},
		{name: "zero retries", mutate: func(c *Config) { c.Run.Retries = 0 }},
		{name: "zero timeout", mutate: func(c *Config) { c.Run.Timeout = 0 }},
		{name: "threshold above one", mutate: func(c *Config) { c.Run.MismatchThreshold = 1.5 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Run.Concurrency = 0 }},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }},
		{name: "missing state path", mutate: func(c *Config) { c.Output.StatePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Run.Sources = append([]string(nil), base.Run.Sources...)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}
