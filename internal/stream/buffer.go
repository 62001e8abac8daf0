// Package stream owns the per-container stats stream lifecycle: bounded
// line buffering, the stream state machine, and fault isolation between
// containers.
package stream

import (
	"bytes"
	"strings"

	"dockstat/internal/check"
)

// ExtractResult is the outcome of folding one chunk into a stream buffer.
type ExtractResult struct {
	// Lines are the complete, trimmed, non-empty lines extracted in
	// arrival order.
	Lines []string
	// Rest is the remaining unterminated buffer tail.
	Rest []byte
	// BufferOverflow reports that the old buffer was discarded because
	// buffer+chunk exceeded maxBuffer.
	BufferOverflow bool
	// LineOverflow reports that an unterminated fragment longer than
	// maxLine was discarded.
	LineOverflow bool
}

// ExtractLines folds chunk into buf and pulls out complete
// newline-delimited lines. Memory stays bounded no matter how
// pathological or silent the stream becomes: an oversized concatenation
// drops the old buffer, and an oversized unterminated fragment is
// discarded wholesale. Data loss in both cases, never unbounded growth.
func ExtractLines(buf, chunk []byte, maxBuffer, maxLine int) ExtractResult {
	var res ExtractResult

	if len(buf)+len(chunk) > maxBuffer {
		res.BufferOverflow = true
		buf = append([]byte(nil), chunk...)
	} else {
		buf = append(buf, chunk...)
	}

	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(buf[:i]))
		buf = buf[i+1:]
		if line != "" {
			res.Lines = append(res.Lines, line)
		}
	}

	if len(buf) > maxLine {
		res.LineOverflow = true
		buf = nil
	}

	res.Rest = buf
	check.Assertf(len(res.Rest) <= maxLine, "rest %d exceeds line cap %d", len(res.Rest), maxLine)
	return res
}
