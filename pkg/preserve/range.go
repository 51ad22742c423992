package preserve

import (
	"fmt"
	"strconv"
	"strings"
)

// byteRange is one decoded HTTP byte range, inclusive on both ends.
type byteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r byteRange) Length() int64 { return r.End - r.Start + 1 }

// ContentRange renders the Content-Range header value for an object of the
// given total size.
func (r byteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// parseByteRange decodes a single-range Range header ("bytes=a-b",
// "bytes=a-", "bytes=-n") against an object of the given size. Multi-range
// requests and unsatisfiable ranges return ErrInvalidRange.
func parseByteRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	// No byte range is satisfiable against an empty object.
	if size <= 0 {
		return byteRange{}, fmt.Errorf("%w: object is empty", ErrInvalidRange)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, fmt.Errorf("%w: multiple ranges not supported", ErrInvalidRange)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return byteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	// Suffix form: last n bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if n > size {
			n = size
		}
		return byteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	if start >= size {
		return byteRange{}, fmt.Errorf("%w: start %d beyond size %d", ErrInvalidRange, start, size)
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return byteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if end > size-1 {
			end = size - 1
		}
	}

	return byteRange{Start: start, End: end}, nil
}
