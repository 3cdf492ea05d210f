// Package config provides configuration structures and utilities for
// PhishGuard: model sidecar endpoints and lookup tables, fetch and cache
// settings, history storage, and report preferences. Values come from
// defaults, the .phishguard YAML file, .env and the environment, and CLI
// flags, in that order.
package config
