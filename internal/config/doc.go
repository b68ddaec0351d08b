// Package config loads quickpostd settings from a JSON or YAML file, applies
// .env files and QPK_* environment overrides, fills defaults and validates
// driver selections before any component is built.
package config
