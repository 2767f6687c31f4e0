package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page size")
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// Cursor carries the Firestore query positions a page token resumes from.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// ParsePageSize validates a raw page size value, applying the default when
// empty and clamping to maxSize. maxSize falls back to DefaultMaxPageSize
// when non-positive.
func ParsePageSize(raw string, defaultSize, maxSize int) (int, error) {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: must be a positive integer", ErrInvalidPageSize)
	}
	if size > maxSize {
		size = maxSize
	}
	return size, nil
}
