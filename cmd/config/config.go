// Package config caches the process-wide configuration loaded by
// pkg/config behind a package variable, so cmd/linkmesh's subcommands can
// read it without re-parsing viper's search path on every call.
package config

import (
	pkgconfig "linkmesh/pkg/config"
)

// AppConfig holds the configuration loaded by the most recent LoadConfig
// call.
var AppConfig pkgconfig.Config

// LoadConfig loads the configuration for env and stores it in AppConfig.
func LoadConfig(env string) error {
	cfg, err := pkgconfig.Load(env)
	if err != nil {
		return err
	}
	AppConfig = *cfg
	return nil
}
