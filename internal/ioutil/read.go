package ioutil

import (
	"fmt"
	"io"
	"strings"
)

// ReadLimited reads up to limit bytes from r for inclusion in error messages
// and logs. Surrounding whitespace is trimmed and a "..." suffix marks a body
// that was cut off. Read failures are described instead of silenced.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}
	out := strings.TrimSpace(string(body))
	if truncated {
		out += "..."
	}
	return out
}
