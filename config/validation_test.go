package config

import (
	"errors"
	"testing"
	"time"

	errs "github.com/sweetpotato0/chai-tokenizer/errors"
)

func TestValidatorRequireNonEmpty(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{name: "non-empty value", value: "valid", wantError: false},
		{name: "empty value", value: "", wantError: true},
		{name: "blank value", value: "  ", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.RequireNonEmpty("test_field", tt.value)
			if got := v.HasErrors(); got != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestValidatorRequirePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{name: "positive value", value: 10, wantError: false},
		{name: "zero value", value: 0, wantError: true},
		{name: "negative value", value: -5, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.RequirePositive("test_field", tt.value)
			if got := v.HasErrors(); got != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestValidatorRequirePositiveDuration(t *testing.T) {
	tests := []struct {
		name      string
		value     time.Duration
		wantError bool
	}{
		{name: "positive", value: 400 * time.Millisecond, wantError: false},
		{name: "zero", value: 0, wantError: true},
		{name: "negative", value: -time.Second, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.RequirePositiveDuration("debounce", tt.value)
			if got := v.HasErrors(); got != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestValidatorValidateRange(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		min, max  int
		wantError bool
	}{
		{name: "within range", value: 50, min: 0, max: 100, wantError: false},
		{name: "at minimum", value: 0, min: 0, max: 100, wantError: false},
		{name: "at maximum", value: 100, min: 0, max: 100, wantError: false},
		{name: "below minimum", value: -1, min: 0, max: 100, wantError: true},
		{name: "above maximum", value: 101, min: 0, max: 100, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.ValidateRange("test_field", tt.value, tt.min, tt.max)
			if got := v.HasErrors(); got != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestValidatorValidateDBNumber(t *testing.T) {
	for _, db := range []int{0, 15} {
		if NewValidator().ValidateDBNumber("db", db).HasErrors() {
			t.Errorf("db %d should be valid", db)
		}
	}
	for _, db := range []int{-1, 16} {
		if !NewValidator().ValidateDBNumber("db", db).HasErrors() {
			t.Errorf("db %d should be invalid", db)
		}
	}
}

func TestValidatorValidateListenAddr(t *testing.T) {
	tests := []struct {
		addr      string
		wantError bool
	}{
		{addr: ":8080", wantError: false},
		{addr: "127.0.0.1:0", wantError: false},
		{addr: "localhost:65535", wantError: false},
		{addr: "8080", wantError: true},
		{addr: ":http", wantError: true},
		{addr: ":70000", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v := NewValidator()
			v.ValidateListenAddr("listen_addr", tt.addr)
			if got := v.HasErrors(); got != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestValidatorValidateOneOf(t *testing.T) {
	v := NewValidator()
	v.ValidateOneOf("backend", "memory", "none", "memory", "redis")
	if v.HasErrors() {
		t.Errorf("unexpected error: %v", v.Error())
	}

	v.ValidateOneOf("backend", "sqlite", "none", "memory", "redis")
	if !v.HasErrors() {
		t.Error("expected error for value outside the allowed set")
	}
}

func TestValidatorMultipleErrors(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("field1", "").
		RequirePositive("field2", 0).
		Check("field3", errors.New("bad value"))

	if got := len(v.Errors()); got != 3 {
		t.Errorf("Errors() length = %d, want 3", got)
	}

	err := v.Error()
	if err == nil {
		t.Fatal("Error() returned nil")
	}
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("Error() = %v, want it to wrap ErrInvalidInput", err)
	}
}

func TestValidateRedisConfig(t *testing.T) {
	tests := []struct {
		name      string
		addr      string
		db        int
		prefix    string
		wantError bool
	}{
		{name: "valid config", addr: "localhost:6379", db: 0, prefix: "chai:encode:", wantError: false},
		{name: "empty addr", addr: "", db: 0, prefix: "chai:", wantError: true},
		{name: "invalid db", addr: "localhost:6379", db: 16, prefix: "chai:", wantError: true},
		{name: "empty prefix", addr: "localhost:6379", db: 0, prefix: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRedisConfig(tt.addr, tt.db, tt.prefix)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateRedisConfig() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}
