package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange is returned for a Range header that cannot be satisfied.
	ErrInvalidRange = errors.New("invalid range")

	// ErrMultiRange is returned for multi-range requests. It matches
	// ErrInvalidRange.
	ErrMultiRange = fmt.Errorf("%w: multi-range not supported", ErrInvalidRange)
)

// Range is a byte range [Start, End], both inclusive.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in r.
func (r Range) Length() int64 { return r.End - r.Start + 1 }

// ParseRange parses a single "bytes=" range against a resource of size bytes.
// Multi-range requests are rejected.
func ParseRange(header string, size int64) (Range, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) || size <= 0 {
		return Range{}, ErrInvalidRange
	}

	set := strings.TrimPrefix(header, prefix)
	if strings.Contains(set, ",") {
		return Range{}, ErrMultiRange
	}

	startStr, endStr, ok := strings.Cut(set, "-")
	if !ok {
		return Range{}, ErrInvalidRange
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		// bytes=-N is the last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, ErrInvalidRange
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return Range{}, ErrInvalidRange
	}
	if endStr == "" {
		return Range{Start: start, End: size - 1}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return Range{}, ErrInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	return Range{Start: start, End: end}, nil
}

// FormatContentRange formats the Content-Range header of a 206 response.
func FormatContentRange(r Range, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// Format416ContentRange formats the Content-Range header of a 416 response.
func Format416ContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
