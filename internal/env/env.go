// Package env resolves the runtime environment the service runs in.
package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/talkinghead/internal/envvar"
)

// Environment identifies the deployment flavour of the process.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// FromEnv reads TALKINGHEAD_ENV. Unknown or empty values fall back to Development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.TalkingHeadEnv))
}

// Parse maps a raw string to an Environment.
func Parse(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

// IsProduction reports whether e is Production.
func (e Environment) IsProduction() bool {
	return e == Production
}

func (e Environment) String() string {
	return string(e)
}
