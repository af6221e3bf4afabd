// Package config handles configuration loading for the intake server.
//
// Configuration is YAML with defaults for every field. Lookup order:
//
//  1. Path from the INTAKE_CONFIG environment variable
//  2. ~/.config/intake-gateway/config.yaml (XDG)
//
// A missing file is not an error; Default() supplies a runnable
// development configuration. Durations use Go's time.ParseDuration
// syntax. Load validates listen address, rate-limit and queue bounds,
// and the auth secret length when one is set.
package config
