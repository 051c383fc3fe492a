package byterange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformed is returned for Range headers that cannot be parsed.
	ErrMalformed = errors.New("byterange: malformed range header")
	// ErrUnsatisfiable is returned when a parsed range lies outside the
	// content bounds. Maps to 416 at the HTTP boundary.
	ErrUnsatisfiable = errors.New("byterange: range not satisfiable")
)

// ByteRange is an inclusive [Start,End] span of file bytes.
type ByteRange struct {
	Start int64
	End   int64
}

func New(start, end int64) (ByteRange, error) {
	if start < 0 || end < start {
		return ByteRange{}, fmt.Errorf("byterange: invalid range %d-%d", start, end)
	}
	return ByteRange{Start: start, End: end}, nil
}

func (r ByteRange) Size() int64 {
	return r.End - r.Start + 1
}

// Shift translates the range by delta bytes. Used to turn file-relative
// ranges into torrent-absolute ranges in multi-file bundles.
func (r ByteRange) Shift(delta int64) ByteRange {
	return ByteRange{Start: r.Start + delta, End: r.End + delta}
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// spec is a parsed but not yet resolved range header. A nil Start means a
// suffix form (bytes=-N), a nil End means an open form (bytes=N-).
type spec struct {
	start *int64
	end   *int64
}

func parse(header string) (spec, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return spec{}, ErrMalformed
	}
	value := header[len(prefix):]
	if strings.Contains(value, ",") {
		// multiple ranges are not supported
		return spec{}, ErrMalformed
	}
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return spec{}, ErrMalformed
	}
	s := spec{}
	if parts[0] != "" {
		start, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || start < 0 {
			return spec{}, ErrMalformed
		}
		s.start = &start
	}
	if parts[1] != "" {
		end, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < 0 {
			return spec{}, ErrMalformed
		}
		s.end = &end
	}
	if s.start == nil && s.end == nil {
		return spec{}, ErrMalformed
	}
	return s, nil
}

// Normalize resolves a raw Range header against a known content length and a
// configured maximum chunk size. An empty header yields the initial chunk
// starting at byte zero. The result never exceeds maxChunk bytes.
func Normalize(header string, contentLength, maxChunk int64) (ByteRange, error) {
	if contentLength <= 0 || maxChunk <= 0 {
		return ByteRange{}, ErrUnsatisfiable
	}

	var start, end int64
	switch {
	case header == "":
		start = 0
		end = min64(maxChunk-1, contentLength-1)
	default:
		s, err := parse(header)
		if err != nil {
			return ByteRange{}, err
		}
		switch {
		case s.start == nil:
			// bytes=-SUFFIX
			start = contentLength - *s.end
			if start < 0 {
				start = 0
			}
			end = contentLength - 1
		case s.end == nil:
			// bytes=START-
			start = clamp64(*s.start, 0, contentLength-1)
			end = min64(start+maxChunk-1, contentLength-1)
		default:
			// bytes=START-END
			start = clamp64(*s.start, 0, contentLength-1)
			end = clamp64(*s.end, 0, contentLength-1)
		}
	}

	if start > end || start >= contentLength || end >= contentLength {
		return ByteRange{}, ErrUnsatisfiable
	}
	// never serve a larger chunk than configured, even when explicitly asked
	if end-start+1 > maxChunk {
		end = start + maxChunk - 1
	}
	return ByteRange{Start: start, End: end}, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
