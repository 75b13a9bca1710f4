package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Environment classifies the host the process runs in
type Environment string

const (
	// EnvDevelopment enables local conveniences and disables the exception handler and HSTS
	EnvDevelopment Environment = "Development"
	// EnvStaging is a production-like environment
	EnvStaging Environment = "Staging"
	// EnvProduction is the default
	EnvProduction Environment = "Production"
)

// ParseEnvironment maps a user supplied name onto a known environment.
// Matching is case-insensitive and accepts the usual short forms.
// An empty name means Production.
func ParseEnvironment(name string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return EnvProduction, nil
	case "development", "dev", "local":
		return EnvDevelopment, nil
	case "staging", "stage":
		return EnvStaging, nil
	case "production", "prod":
		return EnvProduction, nil
	default:
		return "", fmt.Errorf("unknown environment %q (want Development, Staging or Production)", name)
	}
}

// IsDevelopment reports whether e is the development environment
func (e Environment) IsDevelopment() bool {
	return e == EnvDevelopment
}

// String returns the canonical name
func (e Environment) String() string {
	return string(e)
}

// EnvironmentFromLookup reads the environment name from OBUOY_ENVIRONMENT,
// falling back to ENVIRONMENT.
func EnvironmentFromLookup(lookup func(string) (string, bool)) (Environment, error) {
	env, _, err := LookupEnvironment(lookup)
	return env, err
}

// LookupEnvironment is EnvironmentFromLookup that also reports whether either
// variable was set.
func LookupEnvironment(lookup func(string) (string, bool)) (Environment, bool, error) {
	for _, key := range []string{"OBUOY_ENVIRONMENT", "ENVIRONMENT"} {
		if v, ok := lookup(key); ok && v != "" {
			env, err := ParseEnvironment(v)
			return env, true, err
		}
	}
	return EnvProduction, false, nil
}

// LoadDotEnv loads .env style files into the process environment when running
// in development. Variables already set are not overridden. Missing files are
// ignored.
func LoadDotEnv(env Environment, files ...string) error {
	if !env.IsDevelopment() {
		return nil
	}
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}
