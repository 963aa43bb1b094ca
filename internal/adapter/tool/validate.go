package tool

import (
	"fmt"
	"net/url"

	"pagelens/internal/domain"
)

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return domain.NewDomainError("tool", domain.ErrInvalidInput,
			fmt.Sprintf("'%s' is required", name))
	}
	return nil
}

// ValidateRange checks that value is within [min, max].
func ValidateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return domain.NewDomainError("tool", domain.ErrInvalidInput,
			fmt.Sprintf("%s must be %d-%d", name, min, max))
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given list.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateURL checks that value is a valid absolute HTTP(S) URL. An empty
// value is allowed (use RequireField to enforce presence).
func ValidateURL(name, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return domain.NewDomainError("tool", domain.ErrInvalidInput,
			fmt.Sprintf("invalid %s: %v", name, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.NewDomainError("tool", domain.ErrInvalidInput,
			fmt.Sprintf("invalid %s: scheme must be http or https", name))
	}
	if u.Host == "" {
		return domain.NewDomainError("tool", domain.ErrInvalidInput,
			fmt.Sprintf("invalid %s: missing host", name))
	}
	return nil
}

// ValidateMaxLength checks that value does not exceed max bytes. An empty
// value always passes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return domain.NewDomainError("tool", domain.ErrInvalidInput,
			fmt.Sprintf("%s exceeds maximum length of %d", name, max))
	}
	return nil
}
