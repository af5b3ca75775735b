// Package config loads and validates the Ada server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ADA_* environment variables
//   - Validation of required fields, reporting every error at once
//   - Default value handling
//
// Sun-relative schedule times ("sunset", "sunrise") and fixed times
// ("21:30" or [21, 30]) are both accepted wherever a time of day is
// configured.
//
// Security Considerations:
//   - Secrets (MQTT password, InfluxDB token, JWT secret) should be set via
//     environment variables rather than the file
//   - An empty JWT secret leaves the control API unauthenticated, which is
//     only appropriate on an isolated installation network
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    return err
//	}
//	sc, err := cfg.ScheduleConfig()
package config
