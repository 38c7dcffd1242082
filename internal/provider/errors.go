package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("symbol not found")
	ErrInvalidInterval     = errors.New("invalid interval")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamMalformed   = errors.New("upstream response malformed")
)

// Error wraps an upstream failure with the adapter and operation that produced it.
type Error struct {
	Provider string
	Op       string
	Symbols  []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" ")
	b.WriteString(e.Op)
	if len(e.Symbols) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Symbols, ","))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err annotated with provider and op, or nil.
func Wrap(providerName, op string, err error, symbols ...string) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: providerName, Op: op, Symbols: symbols, Err: err}
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrRateLimited)
}

// FromContext maps a context failure to ErrProviderTimeout, leaving other errors unchanged.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrProviderTimeout) {
		return fmt.Errorf("%w: %w", ErrProviderTimeout, err)
	}
	return err
}
