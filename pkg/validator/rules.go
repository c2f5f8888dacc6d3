package validator

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RequiredString validates that a string is not empty after trimming whitespace.
func RequiredString(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Message: "field is required"},
	}
}

func MaxLenString(field, value string, max int) Rule {
	return Rule{
		Check: func() bool { return len(value) <= max },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters long", max)},
	}
}

func RequiredSlice[T any](field string, value []T) Rule {
	return Rule{
		Check: func() bool { return len(value) > 0 },
		Error: ValidationError{Field: field, Message: "must not be empty"},
	}
}

func MaxLenSlice[T any](field string, value []T, max int) Rule {
	return Rule{
		Check: func() bool { return len(value) <= max },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must contain at most %d items", max)},
	}
}

// InList validates that value is one of allowed.
func InList[T comparable](field string, value T, allowed []T) Rule {
	return Rule{
		Check: func() bool { return slices.Contains(allowed, value) },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be one of %v", allowed)},
	}
}

// EachInList validates that every element of values is one of allowed.
func EachInList[T comparable](field string, values []T, allowed []T) Rule {
	return Rule{
		Check: func() bool {
			for _, v := range values {
				if !slices.Contains(allowed, v) {
					return false
				}
			}
			return true
		},
		Error: ValidationError{Field: field, Message: fmt.Sprintf("each value must be one of %v", allowed)},
	}
}

// ClockTime validates an "HH:MM" 24-hour wall clock value.
func ClockTime(field, value string) Rule {
	return Rule{
		Check: func() bool {
			_, err := time.Parse("15:04", value)
			return err == nil && len(value) == 5
		},
		Error: ValidationError{Field: field, Message: "must be a time in HH:MM format"},
	}
}

// Timezone validates an IANA zone name. Empty is accepted and means UTC.
func Timezone(field, value string) Rule {
	return Rule{
		Check: func() bool {
			if value == "" {
				return true
			}
			_, err := time.LoadLocation(value)
			return err == nil
		},
		Error: ValidationError{Field: field, Message: "must be a valid IANA timezone"},
	}
}

// NotBefore validates that value is not earlier than ref. Zero values pass.
func NotBefore(field string, value, ref time.Time) Rule {
	return Rule{
		Check: func() bool { return value.IsZero() || !value.Before(ref) },
		Error: ValidationError{Field: field, Message: "must not be in the past"},
	}
}

// PositiveInt validates value > 0.
func PositiveInt(field string, value int) Rule {
	return Rule{
		Check: func() bool { return value > 0 },
		Error: ValidationError{Field: field, Message: "must be greater than zero"},
	}
}
