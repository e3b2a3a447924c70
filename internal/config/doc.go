// Package config loads gatherer configuration from YAML with ${VAR} expansion.
package config
