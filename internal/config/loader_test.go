package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dojobs/internal/execute"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "full config",
			yaml: `
hosts:
  - local 4
  - { host: alice@build1, workers: 2 }
  - bob@build2
setup_pause: 500ms
timeout: 10m
work_dir: /tmp
print_mode: prefix
print_prefix: jobs
show_errors: true
suppress_console: true
transport:
  local_hosts: [local]
  remote_command: [ssh, -p, "2222"]
journal:
  path: ./runs.db
api:
  listen: 127.0.0.1:8089
  token: s3cret
log:
  level: debug
  format: text
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []HostSpec{
					{Host: "local", Workers: 4},
					{Host: "alice@build1", Workers: 2},
					{Host: "bob@build2", Workers: 0},
				}, cfg.Hosts)
				assert.Equal(t, 500*time.Millisecond, cfg.SetupPause.Std())
				assert.Equal(t, 10*time.Minute, cfg.Timeout.Std())
				assert.Equal(t, "/tmp", cfg.WorkDir)
				assert.Equal(t, "prefix", cfg.PrintMode)
				assert.Equal(t, "jobs", cfg.PrintPrefix)
				assert.True(t, cfg.ShowErrors)
				assert.True(t, cfg.SuppressConsole)
				assert.Equal(t, []string{"ssh", "-p", "2222"}, cfg.Transport.RemoteCommand)
				assert.Equal(t, "./runs.db", cfg.Journal.Path)
				assert.Equal(t, "127.0.0.1:8089", cfg.API.Listen)
				assert.Equal(t, "s3cret", cfg.API.Token)
				assert.Equal(t, "text", cfg.Log.Format)
			},
		},
		{
			name: "seconds as float",
			yaml: "setup_pause: 0.25\ntimeout: 3\n",
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.SetupPause.Std())
				assert.Equal(t, 3*time.Second, cfg.Timeout.Std())
			},
		},
		{
			name: "defaults retained",
			yaml: "hosts: [local]\n",
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "auto", cfg.PrintMode)
				assert.Equal(t, "info", cfg.Log.Level)
				assert.Equal(t, "json", cfg.Log.Format)
			},
		},
		{
			name: "env var interpolation",
			yaml: "hosts: [\"${BUILD_HOST} 3\"]\njournal:\n  path: ${JOURNAL_PATH}\n",
			env: map[string]string{
				"BUILD_HOST":   "carol@ci",
				"JOURNAL_PATH": "/var/tmp/j.db",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []HostSpec{{Host: "carol@ci", Workers: 3}}, cfg.Hosts)
				assert.Equal(t, "/var/tmp/j.db", cfg.Journal.Path)
			},
		},
		{
			name:    "non-integer workers",
			yaml:    "hosts: [\"local four\"]\n",
			wantErr: true,
		},
		{
			name:    "zero workers in string form",
			yaml:    "hosts: [\"local 0\"]\n",
			wantErr: true,
		},
		{
			name:    "negative workers in mapping form",
			yaml:    "hosts:\n  - host: local\n    workers: -1\n",
			wantErr: true,
		},
		{
			name:    "bad duration",
			yaml:    "setup_pause: soon\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    "hosts: [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), "dojobs.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fleet"), 0o755))
	writeConfig(t, filepath.Join(dir, "fleet"), "hosts.yaml", "hosts: [\"alice@a 2\"]\nsetup_pause: 1s\n")
	root := writeConfig(t, dir, "dojobs.yaml", "include: [fleet/hosts.yaml]\nhosts: [local 1]\nsetup_pause: 2s\n")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, []HostSpec{{Host: "local", Workers: 1}, {Host: "alice@a", Workers: 2}}, cfg.Hosts)
	assert.Equal(t, time.Second, cfg.SetupPause.Std(), "later files override earlier ones")
	assert.Nil(t, cfg.Include)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	root := writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(root)
	assert.ErrorContains(t, err, "circular include")
}

func TestApplyDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.Log = LogConfig{}
	cfg.Hosts = []HostSpec{{Host: "localhost"}, {Host: "alice@remote"}, {Host: "local", Workers: 3}}
	cfg.ApplyDefaults()

	assert.Equal(t, runtime.NumCPU(), cfg.Hosts[0].Workers)
	assert.Equal(t, DefaultRemoteWorkers, cfg.Hosts[1].Workers)
	assert.Equal(t, 3, cfg.Hosts[2].Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestApplyDefaultsAddsLocalHost(t *testing.T) {
	cfg := Defaults()
	cfg.ApplyDefaults()

	require.Len(t, cfg.Hosts, 1)
	assert.Equal(t, "local", cfg.Hosts[0].Host)
	assert.Equal(t, runtime.NumCPU(), cfg.Hosts[0].Workers)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Hosts = []HostSpec{{Host: "local", Workers: 1}}
		return cfg
	}

	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		substr string
	}{
		{"no hosts", func(c *Config) { c.Hosts = nil }, "no hosts"},
		{"zero workers", func(c *Config) { c.Hosts[0].Workers = 0 }, "workers must be positive"},
		{"empty host", func(c *Config) { c.Hosts[0].Host = " " }, "host is empty"},
		{"negative pause", func(c *Config) { c.SetupPause = -1 }, "setup_pause"},
		{"negative timeout", func(c *Config) { c.Timeout = -1 }, "timeout"},
		{"bad print mode", func(c *Config) { c.PrintMode = "shouty" }, "print_mode"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"unresolved env", func(c *Config) { c.WorkDir = "${NOPE_NOT_SET}" }, "unresolved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.substr)
		})
	}
}

func TestFinalizeAndMode(t *testing.T) {
	cfg := Defaults()
	cfg.PrintMode = "with-prefix"
	require.NoError(t, cfg.Finalize())

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, execute.PrintPrefix, mode)

	cfg.PrintMode = "bogus"
	err = cfg.Finalize()
	assert.ErrorIs(t, err, execute.ErrUnknownPrintMode)
}

func TestTransporter(t *testing.T) {
	cfg := Defaults()
	tr := cfg.Transporter()
	assert.True(t, tr.IsLocal("localhost"))
	assert.Equal(t, []string{"ssh", "-o", "StrictHostKeyChecking no", "h", "true"}, tr.Wrap("h", []string{"true"}))
}

func TestDurationFlagValue(t *testing.T) {
	var d Duration
	require.NoError(t, d.Set("1.5"))
	assert.Equal(t, 1500*time.Millisecond, d.Std())
	require.NoError(t, d.Set("2m"))
	assert.Equal(t, "2m0s", d.String())
	assert.Error(t, d.Set("later"))

	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "2m0s", out)
}
