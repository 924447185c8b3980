// Package index validates and sanitizes document ids and attachment names so
// that they map onto safe file system paths.
package index

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength bounds a single id or path segment.
// 255 is the common file name limit; leave room for extensions.
const MaxNameLength = 200

// invalidChars cannot appear in file names on at least one supported platform.
const invalidChars = `/\:*?"<>|`

var (
	// ErrInvalidName is returned for ids or names that cannot be stored safely.
	ErrInvalidName = errors.New("invalid name")

	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

// SanitizeKey replaces invalid file name characters with underscores.
// Consecutive underscores are compressed to a single underscore.
//
// Example:
//   - "user/data:v1" -> "user_data_v1"
//   - "file<name>"   -> "file_name"
//   - "a//b::c"      -> "a_b_c"
func SanitizeKey(key string) string {
	result := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidChars, r) || r < 0x20 {
			return '_'
		}
		return r
	}, key)

	result = consecutiveUnderscores.ReplaceAllString(result, "_")
	result = strings.Trim(result, " _.")

	if result == "" {
		result = "unnamed"
	}
	if len(result) > MaxNameLength {
		result = result[:MaxNameLength]
	}

	return result
}

// ValidateID checks that id can be used verbatim as a single path segment.
func ValidateID(id string) error {
	if err := validateSegment(id); err != nil {
		return fmt.Errorf("%w: id %q: %v", ErrInvalidName, id, err)
	}
	return nil
}

// ValidateRelativeName checks a slash-separated relative name such as
// "images/cover.webp" or "saves/<saveId>/0_Saves/slot1.sav".
func ValidateRelativeName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return fmt.Errorf("%w: %q must be relative and slash separated", ErrInvalidName, name)
	}
	for _, seg := range strings.Split(name, "/") {
		if err := validateSegment(seg); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
		}
	}
	return nil
}

func validateSegment(seg string) error {
	switch {
	case seg == "":
		return errors.New("empty segment")
	case seg == "." || seg == "..":
		return errors.New("dot segment")
	case strings.HasPrefix(seg, "."):
		return errors.New("hidden names are reserved")
	case len(seg) > MaxNameLength:
		return fmt.Errorf("longer than %d bytes", MaxNameLength)
	case strings.ContainsAny(seg, invalidChars):
		return fmt.Errorf("contains one of %s", invalidChars)
	}
	for _, r := range seg {
		if r < 0x20 {
			return errors.New("contains control characters")
		}
	}
	return nil
}
