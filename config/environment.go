package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"stag":  environmentStaging,
	"stage": environmentStaging,
}

// getAppEnvironment reads APP_ENV and defaults to development.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// AppEnvironment exposes the normalised APP_ENV value.
func AppEnvironment() string {
	return getAppEnvironment()
}

// ResolveConfigPath prefers config.<env>.yml next to path when it exists,
// so that APP_ENV=production picks config/config.production.yml over the
// default config/config.yml.
func ResolveConfigPath(path string) string {
	if path == "" {
		return path
	}
	ext := filepath.Ext(path)
	candidate := strings.TrimSuffix(path, ext) + "." + getAppEnvironment() + ext
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// IsProductionLike reports whether env should fail hard on configuration
// gaps such as missing archive credentials.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
