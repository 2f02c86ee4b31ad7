// Package config loads, normalizes, and validates subtran configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and validates backend URLs and timing knobs.
// The Config type centralizes every setting the daemon and CLI need, so
// upload/work/output directories and service endpoints are discovered in one
// pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
