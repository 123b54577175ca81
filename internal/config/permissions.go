package config

import (
	"fmt"
	"os"
)

// OwnerOnly reports whether a path has no group or other permission
// bits set.
func OwnerOnly(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&0o077 == 0, nil
}

// CheckOwnerOnly fails with a ConfigurationError when any of the paths
// is readable or writable beyond its owner. The configuration tree
// holds registration secrets and runner tokens.
func CheckOwnerOnly(paths ...string) error {
	var errs []error
	for _, path := range paths {
		ok, err := OwnerOnly(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stat %s: %w", path, err))
			continue
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be accessible by its owner only", path))
		}
	}
	if len(errs) > 0 {
		return &ConfigurationError{Errors: errs}
	}
	return nil
}
