package config

import "github.com/kalambet/shelfrec/internal/validation"

// Validate checks cfg against the field constraints declared on the config
// structs.
func Validate(cfg Config) error {
	return validation.Struct(cfg)
}
