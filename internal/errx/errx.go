// Package errx provides the sentinel-wrapping helper used across this
// repository's error taxonomies.
package errx

import "fmt"

// Wrap chains cause under sentinel so that errors.Is(err, sentinel) still
// succeeds after the cause has been attached, and the formatted message
// keeps both errors' text.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
