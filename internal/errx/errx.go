// Package errx wraps sentinel errors with call-site context while
// keeping errors.Is/As working against the sentinel.
package errx

import "fmt"

// Wrap attaches cause to sentinel so errors.Is(err, sentinel) still holds.
func Wrap(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With formats additional context onto sentinel. format/args follow
// fmt.Errorf conventions; a trailing %w in format wraps further causes.
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}
