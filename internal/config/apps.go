package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"notify-pipeline/internal/domain/entity"
	pkgconfig "notify-pipeline/internal/pkg/config"
)

// App is one gateway application. Secret is resolved from the environment
// variable named by SecretEnv and never read from the file.
type App struct {
	ID            string  `yaml:"id"`
	CorpID        string  `yaml:"corp_id"`
	AgentID       int64   `yaml:"agent_id"`
	SecretEnv     string  `yaml:"secret_env"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	Secret        string  `yaml:"-"`
}

// AppsFile is the on-disk layout of APPS_CONFIG_PATH.
type AppsFile struct {
	Gateway struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"gateway"`
	Directory struct {
		// AppID names the app whose credentials are used for directory reads.
		AppID string `yaml:"app_id"`
	} `yaml:"directory"`
	Apps []App `yaml:"apps"`
}

// AppRegistry is the validated, read-only set of configured apps.
type AppRegistry struct {
	BaseURL        string
	DirectoryAppID string
	apps           map[string]App
}

// LoadAppRegistry reads the registry file and resolves secrets from the environment.
func LoadAppRegistry(path string) (*AppRegistry, error) {
	// #nosec G304 -- path comes from APPS_CONFIG_PATH set by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read apps config: %w", err)
	}
	return ParseAppRegistry(data, os.LookupEnv)
}

func ParseAppRegistry(data []byte, lookupEnv func(string) (string, bool)) (*AppRegistry, error) {
	var file AppsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse apps config: %w", err)
	}

	reg := &AppRegistry{
		BaseURL:        file.Gateway.BaseURL,
		DirectoryAppID: file.Directory.AppID,
		apps:           make(map[string]App, len(file.Apps)),
	}

	var errs []error
	if err := pkgconfig.ValidateURL(reg.BaseURL, "https", "http"); err != nil {
		errs = append(errs, fmt.Errorf("gateway.base_url: %w", err))
	}
	for i, app := range file.Apps {
		if app.ID == "" {
			errs = append(errs, fmt.Errorf("apps[%d]: id is required", i))
			continue
		}
		if _, dup := reg.apps[app.ID]; dup {
			errs = append(errs, fmt.Errorf("apps[%d]: duplicate id %q", i, app.ID))
			continue
		}
		if app.CorpID == "" || app.AgentID <= 0 {
			errs = append(errs, fmt.Errorf("app %q: corp_id and agent_id are required", app.ID))
		}
		if app.SecretEnv == "" {
			errs = append(errs, fmt.Errorf("app %q: secret_env is required", app.ID))
		} else if secret, ok := lookupEnv(app.SecretEnv); !ok || secret == "" {
			errs = append(errs, fmt.Errorf("app %q: environment variable %s is not set", app.ID, app.SecretEnv))
		} else {
			app.Secret = secret
		}
		if app.RatePerSecond <= 0 {
			app.RatePerSecond = 20
		}
		if app.Burst <= 0 {
			app.Burst = 40
		}
		reg.apps[app.ID] = app
	}
	if reg.DirectoryAppID != "" {
		if _, ok := reg.apps[reg.DirectoryAppID]; !ok {
			errs = append(errs, fmt.Errorf("directory.app_id %q is not a configured app", reg.DirectoryAppID))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("apps config validation failed: %w", errors.Join(errs...))
	}
	return reg, nil
}

// Get returns the app or a NotFoundError.
func (r *AppRegistry) Get(id string) (App, error) {
	app, ok := r.apps[id]
	if !ok {
		return App{}, &entity.NotFoundError{Resource: "app", Key: id}
	}
	return app, nil
}

// IDs returns the configured app ids in sorted order.
func (r *AppRegistry) IDs() []string {
	ids := make([]string, 0, len(r.apps))
	for id := range r.apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
