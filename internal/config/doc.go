// Package config loads, normalizes, and validates tsusu configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), and
// reads an optional TOML file. The Config type covers only the control plane
// itself: runtime and log locations, logging, client retry policy and daemon
// session timing. Managed-process definitions are not configured here.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
