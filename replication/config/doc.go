// Package config loads mpbridge settings.
//
// Values are layered: built-in defaults, then an optional TOML or YAML
// file (chosen by extension), then MPBRIDGE_ environment variables where
// a double underscore separates levels, e.g.
// MPBRIDGE_TARGETS__FORK__HEAD_OWNER.
package config
