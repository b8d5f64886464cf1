package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commandConf struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int64         `mapstructure:"max-concurrent"`
}

type testConf struct {
	Consul  string      `mapstructure:"consul"`
	Command commandConf `mapstructure:"command"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "kd.yaml", "consul: 10.0.0.9:8500\ncommand:\n  timeout: 50ms\n")

	conf := &testConf{Command: commandConf{MaxConcurrent: 16}}
	require.NoError(t, NewLoader().Load(file, conf))

	assert.Equal(t, "10.0.0.9:8500", conf.Consul)
	assert.Equal(t, 50*time.Millisecond, conf.Command.Timeout)
	assert.Equal(t, int64(16), conf.Command.MaxConcurrent)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "kd.yaml", "consul: 127.0.0.1:8500\n")
	t.Setenv("KDTEST_CONSUL", "consul.internal:8500")

	conf := &testConf{}
	l := NewLoader(WithEnableEnv(true), WithEnvPrefix("kdtest"))
	require.NoError(t, l.Load(file, conf))
	assert.Equal(t, "consul.internal:8500", conf.Consul)
}

func TestLoadYamlByName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.yaml", "command:\n  max-concurrent: 3\n")

	conf := &testConf{}
	require.NoError(t, NewLoader(WithPaths(dir)).LoadYaml("app", conf))
	assert.Equal(t, int64(3), conf.Command.MaxConcurrent)
}

func TestLoadMissingFile(t *testing.T) {
	conf := &testConf{}
	assert.Error(t, NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"), conf))
}
