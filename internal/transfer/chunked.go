package transfer

import (
	"fmt"
	"strconv"
	"strings"
)

// chunkedTransferThreshold is the blob size above which push/pull switch
// from a single whole-body request to Content-Range/Range chunked transfer
// (§6.3). Below it, the per-request overhead of chunking isn't worth it.
const chunkedTransferThreshold = 64 * 1024 * 1024 // 64 MiB

// transferChunkSize is the size of each chunk in a chunked transfer. Chosen
// well under typical proxy/load-balancer body-size limits while still
// keeping a 1 GiB blob's chunk count in the dozens, not thousands.
const transferChunkSize = 8 * 1024 * 1024 // 8 MiB

// contentRange formats a request's Content-Range header for one chunk of a
// total-length upload (RFC 7233 §4.2).
func contentRange(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// parseContentRange parses a "bytes start-end/total" Content-Range header
// value as sent by a chunked PUT.
func parseContentRange(v string) (start, end, total int64, err error) {
	v = strings.TrimPrefix(v, "bytes ")
	dash := strings.IndexByte(v, '-')
	slash := strings.IndexByte(v, '/')
	if dash < 0 || slash < 0 || slash < dash {
		return 0, 0, 0, fmt.Errorf("transfer: malformed Content-Range %q", v)
	}
	start, err = strconv.ParseInt(v[:dash], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("transfer: malformed Content-Range %q: %w", v, err)
	}
	end, err = strconv.ParseInt(v[dash+1:slash], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("transfer: malformed Content-Range %q: %w", v, err)
	}
	total, err = strconv.ParseInt(v[slash+1:], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("transfer: malformed Content-Range %q: %w", v, err)
	}
	return start, end, total, nil
}

// parseRange parses a single-range "bytes start-" or "bytes start-end"
// Range header value (RFC 7233 §3.1). A request for the remainder of the
// content uses an empty end.
func parseRange(v string) (start int64, end int64, hasEnd bool, err error) {
	v = strings.TrimPrefix(v, "bytes=")
	dash := strings.IndexByte(v, '-')
	if dash < 0 {
		return 0, 0, false, fmt.Errorf("transfer: malformed Range %q", v)
	}
	start, err = strconv.ParseInt(v[:dash], 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("transfer: malformed Range %q: %w", v, err)
	}
	endStr := v[dash+1:]
	if endStr == "" {
		return start, 0, false, nil
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("transfer: malformed Range %q: %w", v, err)
	}
	return start, end, true, nil
}
