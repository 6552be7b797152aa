package feeders

import "github.com/golobby/config/v3/pkg/feeder"

// EnvFeeder is a feeder that reads environment variables into fields tagged
// with `env:"NAME"`.
type EnvFeeder = feeder.Env

// NewEnvFeeder creates a new EnvFeeder that reads from environment variables
func NewEnvFeeder() EnvFeeder {
	return EnvFeeder{}
}

// DotEnvFeeder reads a .env file into fields tagged with `env:"NAME"`.
type DotEnvFeeder = feeder.DotEnv

// NewDotEnvFeeder creates a new DotEnvFeeder that reads from the specified .env file
func NewDotEnvFeeder(filePath string) DotEnvFeeder {
	return DotEnvFeeder{Path: filePath}
}
