// Package pathstore reads and writes values at a path inside nested JSON documents.
//
// Documents are trees of map[string]interface{}, []interface{} and JSON scalars.
// Writes never mutate their input: Set and Delete copy the containers along the
// path and share every untouched subtree with the original root, so a cached
// document can be handed to concurrent readers while a new version is built.
package pathstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AllToken is the reserved single-segment path addressing the whole document.
const AllToken = "#all"

var (
	// ErrConflict is returned when a path walks through a scalar value.
	ErrConflict = errors.New("path walks through a non-container value")

	// ErrIndexOutOfRange is returned when an array index is beyond the append position.
	ErrIndexOutOfRange = errors.New("array index out of range")

	// ErrEmptyPath is returned for an empty path.
	ErrEmptyPath = errors.New("empty path")

	// ErrSyntax is returned by Parse for malformed path strings.
	ErrSyntax = errors.New("invalid path syntax")
)

// IsAll reports whether path addresses the whole document.
func IsAll(path []string) bool {
	return len(path) == 1 && path[0] == AllToken
}

// Parse splits a dotted/bracketed path into segments.
//
// Example:
//   - "record.score"        -> ["record", "score"]
//   - "saves[0].note"       -> ["saves", "0", "note"]
//   - `meta["file.name"]`   -> ["meta", "file.name"]
//   - "#all"                -> ["#all"]
func Parse(s string) ([]string, error) {
	if s == "" {
		return nil, ErrEmptyPath
	}
	if s == AllToken {
		return []string{AllToken}, nil
	}

	var (
		segments []string
		current  strings.Builder
	)

	flush := func() error {
		if current.Len() == 0 {
			return fmt.Errorf("%w: empty segment in %q", ErrSyntax, s)
		}
		segments = append(segments, current.String())
		current.Reset()
		return nil
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '.':
			if err := flush(); err != nil {
				return nil, err
			}
		case '[':
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed bracket in %q", ErrSyntax, s)
			}
			inner := s[i+1 : i+end]
			if unquoted, err := strconv.Unquote(inner); err == nil {
				inner = unquoted
			} else if _, err := strconv.Atoi(inner); err != nil {
				return nil, fmt.Errorf("%w: bracket segment %q is neither an index nor a quoted key", ErrSyntax, inner)
			}
			if inner == "" {
				return nil, fmt.Errorf("%w: empty bracket in %q", ErrSyntax, s)
			}
			segments = append(segments, inner)
			i += end
			// A dot directly after a bracket is a separator, not an empty segment.
			if i+1 < len(s) && s[i+1] == '.' {
				i++
			}
		default:
			current.WriteByte(c)
		}
	}

	if current.Len() > 0 {
		segments = append(segments, current.String())
	} else if strings.HasSuffix(s, ".") {
		return nil, fmt.Errorf("%w: trailing dot in %q", ErrSyntax, s)
	}

	return segments, nil
}

// Format renders segments back into dotted form, bracketing indices and keys
// that contain separators.
func Format(path []string) string {
	var b strings.Builder
	for i, seg := range path {
		switch {
		case isIndex(seg):
			b.WriteString("[" + seg + "]")
		case strings.ContainsAny(seg, ".[]"):
			b.WriteString("[" + strconv.Quote(seg) + "]")
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg)
		}
	}
	return b.String()
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return true
}
