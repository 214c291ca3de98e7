package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/draganm/lean-mustache/config"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	pth := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(pth, []byte(content), 0o644))
	return pth
}

func TestDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := config.Load("")
	require.NoError(err)
	require.Equal(config.Config{
		TemplateDir: "templates",
		Debounce:    100 * time.Millisecond,
		HTTPAddr:    ":8080",
	}, cfg)
	require.Equal(cfg, config.Default())
}

func TestLoadFile(t *testing.T) {
	require := require.New(t)

	pth := writeConfig(t, `
application:
  template:
    directory: /srv/app/templates
    strict: true
    rescan: 30s
  bundle:
    directory: /srv/app/bundles
http:
  addr: 127.0.0.1:9000
`)

	cfg, err := config.Load(pth)
	require.NoError(err)
	require.Equal("/srv/app/templates", cfg.TemplateDir)
	require.Equal("/srv/app/bundles", cfg.BundleDir)
	require.True(cfg.Strict)
	require.Equal(30*time.Second, cfg.Rescan)
	require.Equal(100*time.Millisecond, cfg.Debounce)
	require.Equal("127.0.0.1:9000", cfg.HTTPAddr)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	require := require.New(t)

	pth := writeConfig(t, `
application:
  template:
    directory: /srv/app/templates
`)

	t.Setenv("LEAN_MUSTACHE_APPLICATION_TEMPLATE_DIRECTORY", "/override")
	t.Setenv("LEAN_MUSTACHE_HTTP_ADDR", ":1234")

	cfg, err := config.Load(pth)
	require.NoError(err)
	require.Equal("/override", cfg.TemplateDir)
	require.Equal(":1234", cfg.HTTPAddr)
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"missing file":      "",
		"bad duration":      "application:\n  template:\n    rescan: soon\n",
		"negative rescan":   "application:\n  template:\n    rescan: -1s\n",
		"empty directory":   "application:\n  template:\n    directory: \"\"\n",
		"negative debounce": "application:\n  template:\n    debounce: -5ms\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			pth := filepath.Join(t.TempDir(), "nope.yaml")
			if content != "" {
				pth = writeConfig(t, content)
			}
			_, err := config.Load(pth)
			require.Error(t, err)
		})
	}
}
