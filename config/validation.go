package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	errs "github.com/sweetpotato0/chai-tokenizer/errors"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// Validator collects validation errors across a chain of checks
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: []ValidationError{},
	}
}

func (v *Validator) add(field, format string, args ...any) *Validator {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
	return v
}

// RequireNonEmpty validates that a string field is not empty
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, "value cannot be empty")
	}
	return v
}

// RequirePositive validates that an integer field is greater than 0
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		return v.add(field, "value must be positive, got %d", value)
	}
	return v
}

// RequirePositiveDuration validates that a duration field is greater than 0
func (v *Validator) RequirePositiveDuration(field string, value time.Duration) *Validator {
	if value <= 0 {
		return v.add(field, "duration must be positive, got %s", value)
	}
	return v
}

// ValidateRange validates that an integer field is within a range [min, max]
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.add(field, "value must be between %d and %d, got %d", min, max, value)
	}
	return v
}

// ValidateDBNumber validates that a database number is valid (0-15 for Redis)
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

// ValidateListenAddr validates a host:port pair; the host may be empty
func (v *Validator) ValidateListenAddr(field, addr string) *Validator {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return v.add(field, "invalid address %q: %v", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return v.add(field, "invalid port %q", port)
	}
	return v
}

// ValidateOneOf validates that a string value is one of the allowed options
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	return v.add(field, "value must be one of %v, got %q", allowed, value)
}

// Check records a failure produced by a parser, if any
func (v *Validator) Check(field string, err error) *Validator {
	if err != nil {
		return v.add(field, "%v", err)
	}
	return v
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns a combined error wrapping ErrInvalidInput, or nil if no errors
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, e := range v.errors {
		fmt.Fprintf(&sb, "  - %s: %s\n", e.Field, e.Message)
	}
	return fmt.Errorf("%w: %s", errs.ErrInvalidInput, sb.String())
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ValidateRedisConfig validates Redis configuration
func ValidateRedisConfig(addr string, db int, prefix string) error {
	v := NewValidator()

	v.RequireNonEmpty("addr", addr)
	v.ValidateDBNumber("db", db)
	v.RequireNonEmpty("prefix", prefix)

	return v.Error()
}
