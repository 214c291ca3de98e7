// Package config loads the settings of the template service from an optional
// configuration file and LEAN_MUSTACHE_ prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "LEAN_MUSTACHE"

const (
	keyTemplateDir = "application.template.directory"
	keyStrict      = "application.template.strict"
	keyRescan      = "application.template.rescan"
	keyDebounce    = "application.template.debounce"
	keyBundleDir   = "application.bundle.directory"
	keyHTTPAddr    = "http.addr"
)

type Config struct {
	TemplateDir string
	BundleDir   string
	Strict      bool
	Rescan      time.Duration
	Debounce    time.Duration
	HTTPAddr    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyTemplateDir, "templates")
	v.SetDefault(keyBundleDir, "")
	v.SetDefault(keyStrict, false)
	v.SetDefault(keyRescan, "0s")
	v.SetDefault(keyDebounce, "100ms")
	v.SetDefault(keyHTTPAddr, ":8080")
}

// Default returns the configuration used when nothing is configured.
func Default() Config {
	cfg, _ := fromViper(newViper())
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file when file is not empty and applies
// environment overrides on top of it.
func Load(file string) (Config, error) {
	v := newViper()

	if file != "" {
		v.SetConfigFile(file)
		err := v.ReadInConfig()
		if err != nil {
			return Config{}, fmt.Errorf("could not read config file %s: %w", file, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return Config{}, err
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		TemplateDir: v.GetString(keyTemplateDir),
		BundleDir:   v.GetString(keyBundleDir),
		Strict:      v.GetBool(keyStrict),
		HTTPAddr:    v.GetString(keyHTTPAddr),
	}

	var err error
	cfg.Rescan, err = time.ParseDuration(v.GetString(keyRescan))
	if err != nil {
		return cfg, fmt.Errorf("could not parse %s: %w", keyRescan, err)
	}

	cfg.Debounce, err = time.ParseDuration(v.GetString(keyDebounce))
	if err != nil {
		return cfg, fmt.Errorf("could not parse %s: %w", keyDebounce, err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.TemplateDir == "" {
		return fmt.Errorf("%s must not be empty", keyTemplateDir)
	}

	if c.Rescan < 0 {
		return fmt.Errorf("%s must not be negative", keyRescan)
	}

	if c.Debounce < 0 {
		return fmt.Errorf("%s must not be negative", keyDebounce)
	}

	return nil
}
