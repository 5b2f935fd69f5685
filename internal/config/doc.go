// Package config provides configuration loading and validation for the chunk recorder
// and the chunk service. Files are YAML, or TOML when the extension is .toml. Values not
// present in the file keep their defaults, and a few environment variables override the
// file last.
package config
